// Package planner builds the logical plan tree: Scan -> Filter? -> Join*
// -> GroupBy? -> Aggregate? -> Project? -> Sort? -> Limit? -> Offset?.
// Every node is a tagged variant rather than a
// mutable tree so the optimizer can produce new trees without touching
// the logical one (explain() exposes logical, optimized, and physical
// side by side).
package planner

import (
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Node is any logical (or, once rewritten, optimized/physical) plan node.
type Node interface {
	node()
}

// Scan reads every row of a table in row-id order.
type Scan struct {
	Table string
}

func (Scan) node() {}

// Filter keeps rows matching Pred.
type Filter struct {
	Input Node
	Pred  predicate.Predicate
}

func (Filter) node() {}

// JoinKind distinguishes inner from left-outer joins.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftOuterJoin
)

// JoinCondition is an equi-join condition: LeftCol (from Input) equals
// RightCol (from the Right table).
type JoinCondition struct {
	LeftCol  string
	RightCol string
}

// Join combines Input with a scan of Right under Kind/Cond.
type Join struct {
	Input Node
	Kind  JoinKind
	Right string
	Cond  JoinCondition
}

func (Join) node() {}

// GroupBy partitions rows by Cols ahead of Aggregate.
type GroupBy struct {
	Input Node
	Cols  []string
}

func (GroupBy) node() {}

// AggKind enumerates the supported aggregate functions.
type AggKind int

const (
	AggCount AggKind = iota
	AggCountCol
	AggSum
	AggAvg
	AggMin
	AggMax
	AggStddev
	AggGeomean
	AggDistinct
)

// AggSpec names one aggregate to compute, with the output column it is
// bound to.
type AggSpec struct {
	Kind   AggKind
	Column string // empty for Count
	Alias  string
}

// Aggregate computes Aggs per group (or a single row, absent GroupBy).
type Aggregate struct {
	Input Node
	Group *GroupBy // nil when there is no GROUP BY
	Aggs  []AggSpec
}

func (Aggregate) node() {}

// Project narrows the row shape to Cols; a nil Cols means "*".
type Project struct {
	Input Node
	Cols  []string
}

func (Project) node() {}

// SortOrder is ascending or descending.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// SortKey is one ORDER BY clause.
type SortKey struct {
	Column string
	Order  SortOrder
}

// Sort orders rows by Keys, stably.
type Sort struct {
	Input Node
	Keys  []SortKey
}

func (Sort) node() {}

// Limit caps the row count.
type Limit struct {
	Input Node
	N     int
}

func (Limit) node() {}

// Offset skips the first K rows.
type Offset struct {
	Input Node
	K     int
}

func (Offset) node() {}

// IndexGet replaces Scan+Filter(col = v) when a BTree index covers col
// (optimizer rule 1).
type IndexGet struct {
	Table string
	Index string
	Key   []value.Value
}

func (IndexGet) node() {}

// IndexRangeScan replaces Scan+Filter(col <op> v) / Between for a
// BTree-indexed column (optimizer rule 1, range variant).
type IndexRangeScan struct {
	Table             string
	Index             string
	Low, High         []value.Value // nil means unbounded on that side
	LowIncl, HighIncl bool
}

func (IndexRangeScan) node() {}

// IndexInGet replaces Scan+Filter(col IN {v1..vk}) for a BTree-indexed
// column (optimizer rule 2): the union of point lookups.
type IndexInGet struct {
	Table string
	Index string
	Keys  [][]value.Value
}

func (IndexInGet) node() {}

// GinIndexScan replaces Scan+Filter(JsonbEq(path, v)) when a GIN index
// covers the column (optimizer rule 3).
type GinIndexScan struct {
	Table string
	Index string
	Path  string
	Value value.Value
}

func (GinIndexScan) node() {}

// GinPathValue is one (path, value) pair combined by GinIndexScanMulti.
type GinPathValue struct {
	Path  string
	Value value.Value
}

// GinIndexScanMulti replaces Scan+Filter(And(JsonbEq(p1,v1), ...)) over
// the same GIN-indexed column (optimizer rule 4): the executor intersects
// posting lists in-index.
type GinIndexScanMulti struct {
	Table string
	Index string
	Pairs []GinPathValue
}

func (GinIndexScanMulti) node() {}

// ResidualFilter wraps an index-derived node with any remaining predicate
// that the index node could not absorb (optimizer rule 5).
type ResidualFilter struct {
	Input Node
	Pred  predicate.Predicate
}

func (ResidualFilter) node() {}

// TopK replaces a Sort immediately followed by Limit (and, where present,
// Offset) with a single node backed by a bounded heap of size N, per
// optimizer rule 7's "top-k heap sized to Limit+Offset."
type TopK struct {
	Input Node
	Keys  []SortKey
	N     int // Limit.N, or Limit.N+Offset.K when an Offset follows
}

func (TopK) node() {}

// Action is a flat, non-query mutation against one table.
type Action interface {
	action()
}

// InsertAction inserts Rows into Table.
type InsertAction struct {
	Table string
	Rows  []map[string]value.Value
}

func (InsertAction) action() {}

// UpdateAction applies Set to every row of Table matching Pred (nil Pred
// means every row).
type UpdateAction struct {
	Table string
	Pred  predicate.Predicate
	Set   map[string]value.Value
}

func (UpdateAction) action() {}

// DeleteAction removes every row of Table matching Pred (nil Pred means
// every row).
type DeleteAction struct {
	Table string
	Pred  predicate.Predicate
}

func (DeleteAction) action() {}
