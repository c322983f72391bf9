package engine

import (
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Expr is a fluent wrapper around a column reference or literal, letting
// callers build predicate.Predicate trees without importing
// internal/predicate directly.
type Expr struct{ inner predicate.Expression }

// Col references a column by name.
func Col(name string) Expr { return Expr{predicate.Column(name)} }

// Lit wraps a constant value.
func Lit(v value.Value) Expr { return Expr{predicate.Literal{Value: v}} }

func (e Expr) Eq(other Expr) predicate.Predicate  { return predicate.Eq(e.inner, other.inner) }
func (e Expr) Ne(other Expr) predicate.Predicate  { return predicate.Ne(e.inner, other.inner) }
func (e Expr) Lt(other Expr) predicate.Predicate  { return predicate.Lt(e.inner, other.inner) }
func (e Expr) Lte(other Expr) predicate.Predicate { return predicate.Lte(e.inner, other.inner) }
func (e Expr) Gt(other Expr) predicate.Predicate  { return predicate.Gt(e.inner, other.inner) }
func (e Expr) Gte(other Expr) predicate.Predicate { return predicate.Gte(e.inner, other.inner) }

// Between matches low <= e <= high, inclusive both ends.
func (e Expr) Between(low, high Expr) predicate.Predicate {
	return predicate.Between{Expr: e.inner, Low: low.inner, High: high.inner}
}

// NotBetween is Between's negation.
func (e Expr) NotBetween(low, high Expr) predicate.Predicate {
	return predicate.NotBetween{Expr: e.inner, Low: low.inner, High: high.inner}
}

// In matches when e equals any of values.
func (e Expr) In(values ...Expr) predicate.Predicate {
	return predicate.In{Expr: e.inner, Values: toExpressions(values)}
}

// NotIn matches when e equals none of values.
func (e Expr) NotIn(values ...Expr) predicate.Predicate {
	return predicate.NotIn{Expr: e.inner, Values: toExpressions(values)}
}

func toExpressions(values []Expr) []predicate.Expression {
	out := make([]predicate.Expression, len(values))
	for i, v := range values {
		out[i] = v.inner
	}
	return out
}

// Like matches a string column against a SQL-style % / _ pattern.
func (e Expr) Like(pattern string) predicate.Predicate {
	return predicate.Like{Expr: e.inner, Pattern: pattern}
}

// NotLike is Like's negation.
func (e Expr) NotLike(pattern string) predicate.Predicate {
	return predicate.NotLike{Expr: e.inner, Pattern: pattern}
}

// Match tests a string column against a POSIX extended regular
// expression, surfacing a malformed pattern as an error rather than
// panicking.
func (e Expr) Match(pattern string) (predicate.Predicate, error) {
	return predicate.NewMatch(e.inner, pattern)
}

// NotMatch is Match's negation.
func (e Expr) NotMatch(pattern string) (predicate.Predicate, error) {
	return predicate.NewNotMatch(e.inner, pattern)
}

func (e Expr) IsNull() predicate.Predicate    { return predicate.IsNull{Expr: e.inner} }
func (e Expr) IsNotNull() predicate.Predicate { return predicate.IsNotNull{Expr: e.inner} }

// JsonbExpr scopes further predicates to one path within a jsonb column.
type JsonbExpr struct {
	expr predicate.Expression
	path string
}

// Get scopes a jsonb column expression to a document path.
func (e Expr) Get(path string) JsonbExpr { return JsonbExpr{expr: e.inner, path: path} }

// Eq matches when the document's leaf at this path equals v.
func (j JsonbExpr) Eq(v value.Value) predicate.Predicate {
	return predicate.JsonbEq{Expr: j.expr, Path: j.path, Target: v}
}

// Contains matches when the document at this path structurally contains
// target (every key/value pair of target present at that path).
func (j JsonbExpr) Contains(target value.Value) predicate.Predicate {
	return predicate.JsonbContains{Expr: j.expr, Path: j.path, Target: target}
}

// Exists matches when this path resolves to any value, including null.
func (j JsonbExpr) Exists() predicate.Predicate {
	return predicate.JsonbExists{Expr: j.expr, Path: j.path}
}

// And combines predicates, all of which must match.
func And(preds ...predicate.Predicate) predicate.Predicate { return predicate.And(preds) }

// Or combines predicates, any of which may match.
func Or(preds ...predicate.Predicate) predicate.Predicate { return predicate.Or(preds) }

// Not negates a predicate.
func Not(p predicate.Predicate) predicate.Predicate { return predicate.Not{Operand: p} }
