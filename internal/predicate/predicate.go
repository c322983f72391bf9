// Package predicate implements the expression and predicate tree used to
// filter rows during scans, updates, and deletes. Every predicate's Eval
// is type-mismatch-is-false: a comparison between incompatible kinds
// never errors, it simply does not match, the same rule
// internal/value.Compare already applies to index key ordering.
package predicate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/reactivedb/reactivedb/internal/value"
)

// Row is the evaluation environment: column name to value, exactly what
// rowstore.Row degrades to for package-boundary purposes.
type Row map[string]value.Value

// Expression resolves to a scalar value against a row.
type Expression interface {
	Eval(row Row) value.Value
}

// Column references a column by name, yielding Null when absent.
type Column string

func (c Column) Eval(row Row) value.Value { return row[string(c)] }

// Literal is a constant expression.
type Literal struct{ Value value.Value }

func (l Literal) Eval(Row) value.Value { return l.Value }

// Predicate evaluates to a boolean against a row.
type Predicate interface {
	Eval(row Row) bool
}

// Comparison predicates

// CmpOp identifies which comparison a Compare predicate performs; exported
// so the optimizer can pattern-match on it when choosing an index rule.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
)

// Compare is the shared shape of Eq/Ne/Lt/Lte/Gt/Gte: two expressions
// related by a single comparison operator.
type Compare struct {
	Left, Right Expression
	Op          CmpOp
}

func Eq(left, right Expression) Compare  { return Compare{left, right, OpEq} }
func Ne(left, right Expression) Compare  { return Compare{left, right, OpNe} }
func Lt(left, right Expression) Compare  { return Compare{left, right, OpLt} }
func Lte(left, right Expression) Compare { return Compare{left, right, OpLte} }
func Gt(left, right Expression) Compare  { return Compare{left, right, OpGt} }
func Gte(left, right Expression) Compare { return Compare{left, right, OpGte} }

func (c Compare) Eval(row Row) bool {
	l, r := c.Left.Eval(row), c.Right.Eval(row)
	if l.IsNull() || r.IsNull() {
		return false
	}
	if c.Op == OpEq {
		return value.Equal(l, r)
	}
	if c.Op == OpNe {
		return !value.Equal(l, r)
	}
	cmp, ok := value.Compare(l, r)
	if !ok {
		return false
	}
	switch c.Op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return false
	}
}

// Between matches Low <= Expr <= High (inclusive both ends).
type Between struct {
	Expr      Expression
	Low, High Expression
}

func (b Between) Eval(row Row) bool {
	return Gte(b.Expr, b.Low).Eval(row) && Lte(b.Expr, b.High).Eval(row)
}

// NotBetween is the negation of Between, but stays type-mismatch-is-false
// rather than double-negating: an incomparable value matches neither
// Between nor NotBetween.
type NotBetween struct {
	Expr      Expression
	Low, High Expression
}

func (n NotBetween) Eval(row Row) bool {
	v := n.Expr.Eval(row)
	if v.IsNull() {
		return false
	}
	lo, hi := n.Low.Eval(row), n.High.Eval(row)
	loCmp, ok1 := value.Compare(v, lo)
	hiCmp, ok2 := value.Compare(v, hi)
	if !ok1 || !ok2 {
		return false
	}
	return loCmp < 0 || hiCmp > 0
}

// In matches when Expr equals any of Values.
type In struct {
	Expr   Expression
	Values []Expression
}

func (in In) Eval(row Row) bool {
	v := in.Expr.Eval(row)
	if v.IsNull() {
		return false
	}
	for _, e := range in.Values {
		if value.Equal(v, e.Eval(row)) {
			return true
		}
	}
	return false
}

// NotIn matches when Expr equals none of Values (and is not itself Null).
type NotIn struct {
	Expr   Expression
	Values []Expression
}

func (n NotIn) Eval(row Row) bool {
	v := n.Expr.Eval(row)
	if v.IsNull() {
		return false
	}
	for _, e := range n.Values {
		if value.Equal(v, e.Eval(row)) {
			return false
		}
	}
	return true
}

// Like matches a string column against a SQL-style pattern using % (any
// run of characters) and _ (any single character); there is no escape
// character.
type Like struct {
	Expr    Expression
	Pattern string
}

func (l Like) Eval(row Row) bool {
	s, ok := l.Expr.Eval(row).AsString()
	if !ok {
		return false
	}
	return likeMatch(s, l.Pattern)
}

// NotLike is the negation of Like, with the same non-string-is-false
// handling.
type NotLike struct {
	Expr    Expression
	Pattern string
}

func (n NotLike) Eval(row Row) bool {
	s, ok := n.Expr.Eval(row).AsString()
	if !ok {
		return false
	}
	return !likeMatch(s, n.Pattern)
}

func likeMatch(s, pattern string) bool {
	re := likeToRegexp(pattern)
	return re.MatchString(s)
}

func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

// Match tests a string column against a POSIX extended regular
// expression.
type Match struct {
	Expr    Expression
	Pattern string
	re      *regexp.Regexp
}

// NewMatch compiles Pattern as a POSIX extended regexp, returning an error
// if it is malformed.
func NewMatch(expr Expression, pattern string) (Match, error) {
	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		return Match{}, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}
	return Match{Expr: expr, Pattern: pattern, re: re}, nil
}

func (m Match) Eval(row Row) bool {
	s, ok := m.Expr.Eval(row).AsString()
	if !ok {
		return false
	}
	return m.re.MatchString(s)
}

// NotMatch is the negation of Match.
type NotMatch struct {
	Match
}

func (n NotMatch) Eval(row Row) bool {
	s, ok := n.Expr.Eval(row).AsString()
	if !ok {
		return false
	}
	return !n.re.MatchString(s)
}

// NewNotMatch compiles Pattern as a POSIX extended regexp.
func NewNotMatch(expr Expression, pattern string) (NotMatch, error) {
	m, err := NewMatch(expr, pattern)
	if err != nil {
		return NotMatch{}, err
	}
	return NotMatch{m}, nil
}

// IsNull matches when Expr evaluates to Null.
type IsNull struct{ Expr Expression }

func (p IsNull) Eval(row Row) bool { return p.Expr.Eval(row).IsNull() }

// IsNotNull matches when Expr does not evaluate to Null.
type IsNotNull struct{ Expr Expression }

func (p IsNotNull) Eval(row Row) bool { return !p.Expr.Eval(row).IsNull() }

// JsonbEq matches when the JSONB leaf at Path equals Target.
type JsonbEq struct {
	Expr   Expression
	Path   string
	Target value.Value
}

func (p JsonbEq) Eval(row Row) bool {
	doc, ok := p.Expr.Eval(row).AsJsonb()
	if !ok {
		return false
	}
	leaf, found := lookupPath(doc, p.Path)
	if !found {
		return false
	}
	return value.Equal(leaf, p.Target)
}

// JsonbContains matches when every key/value pair in Target's object
// representation is present at Path in the document (a structural subset
// check, not a deep-equality check).
type JsonbContains struct {
	Expr   Expression
	Path   string
	Target value.Value
}

func (p JsonbContains) Eval(row Row) bool {
	doc, ok := p.Expr.Eval(row).AsJsonb()
	if !ok {
		return false
	}
	at, found := lookupPathJsonb(doc, p.Path)
	if !found {
		return false
	}
	target, ok := p.Target.AsJsonb()
	if !ok {
		return false
	}
	return jsonbContains(at, target)
}

func jsonbContains(haystack, needle *value.Jsonb) bool {
	if needle == nil {
		return true
	}
	if haystack == nil || haystack.JKind != needle.JKind {
		return false
	}
	switch needle.JKind {
	case value.JsonObjectKind:
		if needle.Obj == nil {
			return true
		}
		for _, key := range needle.Obj.Keys() {
			nv, _ := needle.Obj.Get(key)
			hv, found := haystack.Obj.Get(key)
			if !found {
				return false
			}
			if nj, ok := nv.AsJsonb(); ok {
				hj, ok := hv.AsJsonb()
				if !ok || !jsonbContains(hj, nj) {
					return false
				}
			} else if !value.Equal(hv, nv) {
				return false
			}
		}
		return true
	default:
		return jsonbLeafEqual(haystack, needle)
	}
}

func jsonbLeafEqual(a, b *value.Jsonb) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.JKind != b.JKind {
		return false
	}
	switch a.JKind {
	case value.JsonBool:
		return a.B == b.B
	case value.JsonNumber:
		return a.N == b.N
	case value.JsonString:
		return a.S == b.S
	case value.JsonNull:
		return true
	default:
		return false
	}
}

// JsonbExists matches when Path resolves to any value (including null) in
// the document.
type JsonbExists struct {
	Expr Expression
	Path string
}

func (p JsonbExists) Eval(row Row) bool {
	doc, ok := p.Expr.Eval(row).AsJsonb()
	if !ok {
		return false
	}
	_, found := lookupPathJsonb(doc, p.Path)
	return found
}

// And matches when every operand matches; empty And matches everything.
// Evaluation short-circuits on the first non-match.
type And []Predicate

func (a And) Eval(row Row) bool {
	for _, p := range a {
		if !p.Eval(row) {
			return false
		}
	}
	return true
}

// Or matches when any operand matches; empty Or matches nothing.
// Evaluation short-circuits on the first match.
type Or []Predicate

func (o Or) Eval(row Row) bool {
	for _, p := range o {
		if p.Eval(row) {
			return true
		}
	}
	return false
}

// Not negates an operand.
type Not struct{ Operand Predicate }

func (n Not) Eval(row Row) bool { return !n.Operand.Eval(row) }
