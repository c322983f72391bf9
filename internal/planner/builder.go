package planner

import "github.com/reactivedb/reactivedb/internal/predicate"

// SelectBuilder accumulates a query's shape one fluent call at a time,
// then materializes it into a logical plan tree with Build(). Multiple
// Where calls AND-combine.
type SelectBuilder struct {
	table   string
	preds   []predicate.Predicate
	joins   []Join
	group   []string
	aggs    []AggSpec
	project []string
	sorts   []SortKey
	limit   *int
	offset  *int
}

// Select starts a new builder scanning table.
func Select(table string) *SelectBuilder {
	return &SelectBuilder{table: table}
}

func (b *SelectBuilder) Where(p predicate.Predicate) *SelectBuilder {
	b.preds = append(b.preds, p)
	return b
}

func (b *SelectBuilder) InnerJoin(right string, cond JoinCondition) *SelectBuilder {
	b.joins = append(b.joins, Join{Kind: InnerJoin, Right: right, Cond: cond})
	return b
}

func (b *SelectBuilder) LeftJoin(right string, cond JoinCondition) *SelectBuilder {
	b.joins = append(b.joins, Join{Kind: LeftOuterJoin, Right: right, Cond: cond})
	return b
}

func (b *SelectBuilder) GroupBy(cols ...string) *SelectBuilder {
	b.group = append(b.group, cols...)
	return b
}

func (b *SelectBuilder) Aggregate(spec AggSpec) *SelectBuilder {
	b.aggs = append(b.aggs, spec)
	return b
}

// Project selects output columns; an empty call means "*".
func (b *SelectBuilder) Project(cols ...string) *SelectBuilder {
	b.project = cols
	return b
}

func (b *SelectBuilder) OrderBy(col string, order SortOrder) *SelectBuilder {
	b.sorts = append(b.sorts, SortKey{Column: col, Order: order})
	return b
}

func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

func (b *SelectBuilder) Offset(k int) *SelectBuilder {
	b.offset = &k
	return b
}

// Build materializes the accumulated calls into a logical plan, in the
// fixed node order Scan -> Filter -> Join* -> GroupBy -> Aggregate ->
// Project -> Sort -> Limit -> Offset.
func (b *SelectBuilder) Build() Node {
	var n Node = Scan{Table: b.table}

	if len(b.preds) > 0 {
		n = Filter{Input: n, Pred: andAll(b.preds)}
	}

	for _, j := range b.joins {
		n = Join{Input: n, Kind: j.Kind, Right: j.Right, Cond: j.Cond}
	}

	var group *GroupBy
	if len(b.group) > 0 {
		g := GroupBy{Input: n, Cols: b.group}
		group = &g
		n = g
	}

	if len(b.aggs) > 0 {
		n = Aggregate{Input: n, Group: group, Aggs: b.aggs}
	}

	if b.project != nil {
		n = Project{Input: n, Cols: b.project}
	}

	if len(b.sorts) > 0 {
		n = Sort{Input: n, Keys: b.sorts}
	}

	if b.limit != nil {
		n = Limit{Input: n, N: *b.limit}
	}

	if b.offset != nil {
		n = Offset{Input: n, K: *b.offset}
	}

	return n
}

func andAll(preds []predicate.Predicate) predicate.Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return predicate.And(preds)
}

// Dependencies returns the set of table names this plan reads from,
// the Scan and Join Right targets, used by the change bus to decide
// which observers a dirty table must wake.
func Dependencies(n Node) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case Scan:
			if !seen[v.Table] {
				seen[v.Table] = true
				out = append(out, v.Table)
			}
		case Filter:
			walk(v.Input)
		case Join:
			walk(v.Input)
			if !seen[v.Right] {
				seen[v.Right] = true
				out = append(out, v.Right)
			}
		case GroupBy:
			walk(v.Input)
		case Aggregate:
			walk(v.Input)
		case Project:
			walk(v.Input)
		case Sort:
			walk(v.Input)
		case Limit:
			walk(v.Input)
		case Offset:
			walk(v.Input)
		}
	}
	walk(n)
	return out
}
