// Package executor interprets an optimized logical plan into a lazy,
// pull-based sequence of rows. Each physical node is a one-to-one
// counterpart of its optimized logical node (plus the index nodes the
// optimizer introduces); node composition happens at Compile time, the
// same way the planner composes builder calls into a tree, so the whole
// plan can be re-executed from scratch any number of times even though a
// single Iterator instance is not restartable.
package executor

import (
	"fmt"

	"github.com/reactivedb/reactivedb/internal/btreeindex"
	"github.com/reactivedb/reactivedb/internal/ginindex"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
)

// btreeIndexByName resolves a BTree/unique-BTree index by name, routing
// the optimizer's well-known primary-key index name to the table's
// dedicated PK index instead of its named secondary indexes.
func btreeIndexByName(t *rowstore.Table, name string) *btreeindex.Index {
	if name == schema.PrimaryKeyIndexName {
		return t.PKIndex()
	}
	return t.BTreeIndex(name)
}

// Catalog resolves a table name to its live row store, the executor's
// only way of reaching data.
type Catalog interface {
	Table(name string) *rowstore.Table
}

// Iterator is a finite, forward-only, not-restartable lazy sequence of
// rows. Calling a plan's Compile again yields a fresh Iterator over the
// same (live, possibly since-mutated) data.
type Iterator interface {
	Next() (rowstore.Row, bool)
}

// Compile turns an optimized plan into a runnable Iterator against cat.
// Unresolvable tables and indexes surface as a planning error; once compiled,
// execution itself cannot fail (row-level type errors simply exclude the
// row, never abort).
func Compile(n planner.Node, cat Catalog) (Iterator, error) {
	switch v := n.(type) {
	case planner.Scan:
		t := cat.Table(v.Table)
		if t == nil {
			return nil, planErr(v.Table, "", "undefined table")
		}
		return newRowIDIterator(t, t.RowIDsInOrder()), nil

	case planner.IndexGet:
		t := cat.Table(v.Table)
		if t == nil {
			return nil, planErr(v.Table, "", "undefined table")
		}
		idx := btreeIndexByName(t, v.Index)
		if idx == nil {
			return nil, planErr(v.Table, "", fmt.Sprintf("undefined index %q", v.Index))
		}
		return newRowIDIterator(t, idx.Point(btreeindex.Key(v.Key))), nil

	case planner.IndexRangeScan:
		t := cat.Table(v.Table)
		if t == nil {
			return nil, planErr(v.Table, "", "undefined table")
		}
		idx := btreeIndexByName(t, v.Index)
		if idx == nil {
			return nil, planErr(v.Table, "", fmt.Sprintf("undefined index %q", v.Index))
		}
		var low, high btreeindex.Key
		if v.Low != nil {
			low = btreeindex.Key(v.Low)
		}
		if v.High != nil {
			high = btreeindex.Key(v.High)
		}
		return newRowIDIterator(t, idx.Range(low, high, v.LowIncl, v.HighIncl)), nil

	case planner.IndexInGet:
		t := cat.Table(v.Table)
		if t == nil {
			return nil, planErr(v.Table, "", "undefined table")
		}
		idx := btreeIndexByName(t, v.Index)
		if idx == nil {
			return nil, planErr(v.Table, "", fmt.Sprintf("undefined index %q", v.Index))
		}
		keys := make([]btreeindex.Key, len(v.Keys))
		for i, k := range v.Keys {
			keys[i] = btreeindex.Key(k)
		}
		return newRowIDIterator(t, idx.In(keys)), nil

	case planner.GinIndexScan:
		t := cat.Table(v.Table)
		if t == nil {
			return nil, planErr(v.Table, "", "undefined table")
		}
		idx := t.GinIndex(v.Index)
		if idx == nil {
			return nil, planErr(v.Table, "", fmt.Sprintf("undefined index %q", v.Index))
		}
		return newRowIDIterator(t, idx.Eq(v.Path, v.Value)), nil

	case planner.GinIndexScanMulti:
		t := cat.Table(v.Table)
		if t == nil {
			return nil, planErr(v.Table, "", "undefined table")
		}
		idx := t.GinIndex(v.Index)
		if idx == nil {
			return nil, planErr(v.Table, "", fmt.Sprintf("undefined index %q", v.Index))
		}
		toks := make([]ginindex.Token, len(v.Pairs))
		for i, p := range v.Pairs {
			toks[i] = ginindex.Token{Path: p.Path, Leaf: p.Value}
		}
		return newRowIDIterator(t, idx.EqMulti(toks)), nil

	case planner.Filter:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		return &filterIter{input: input, pred: v.Pred}, nil

	case planner.ResidualFilter:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		return &filterIter{input: input, pred: v.Pred}, nil

	case planner.Join:
		return compileJoin(v, cat)

	case planner.GroupBy:
		// A bare GroupBy with no Aggregate wrapping it behaves like a
		// Distinct-by-columns pass: one row per first occurrence of the
		// grouping key.
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		return newDistinctByIter(input, v.Cols), nil

	case planner.Aggregate:
		return compileAggregate(v, cat)

	case planner.Project:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		return &projectIter{input: input, cols: v.Cols}, nil

	case planner.Sort:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		rows := drain(input)
		stableSortRows(rows, v.Keys)
		return newSliceIterator(rows), nil

	case planner.TopK:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		rows := topK(drain(input), v.Keys, v.N)
		return newSliceIterator(rows), nil

	case planner.Limit:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		return &limitIter{input: input, remaining: v.N}, nil

	case planner.Offset:
		input, err := Compile(v.Input, cat)
		if err != nil {
			return nil, err
		}
		return &offsetIter{input: input, skip: v.K}, nil

	default:
		return nil, planErr("", "", fmt.Sprintf("unsupported plan node %T", n))
	}
}

// Rows executes a compiled plan to completion, the common case for
// exec()/observe() recomputation.
func Rows(n planner.Node, cat Catalog) ([]rowstore.Row, error) {
	it, err := Compile(n, cat)
	if err != nil {
		return nil, err
	}
	return drain(it), nil
}

func drain(it Iterator) []rowstore.Row {
	var out []rowstore.Row
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out
}

// rowIDIterator fetches rows for a fixed slice of row-ids from a table,
// skipping any that were concurrently deleted.
type rowIDIterator struct {
	table *rowstore.Table
	ids   []int64
	pos   int
}

func newRowIDIterator(t *rowstore.Table, ids []int64) Iterator {
	return &rowIDIterator{table: t, ids: ids}
}

func (it *rowIDIterator) Next() (rowstore.Row, bool) {
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++
		if row, ok := it.table.Get(id); ok {
			return row, true
		}
	}
	return nil, false
}

type sliceIterator struct {
	rows []rowstore.Row
	pos  int
}

func newSliceIterator(rows []rowstore.Row) Iterator { return &sliceIterator{rows: rows} }

func (it *sliceIterator) Next() (rowstore.Row, bool) {
	if it.pos >= len(it.rows) {
		return nil, false
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true
}

type filterIter struct {
	input Iterator
	pred  predicate.Predicate
}

func (it *filterIter) Next() (rowstore.Row, bool) {
	for {
		row, ok := it.input.Next()
		if !ok {
			return nil, false
		}
		if it.pred.Eval(predicate.Row(row)) {
			return row, true
		}
	}
}

type projectIter struct {
	input Iterator
	cols  []string
}

func (it *projectIter) Next() (rowstore.Row, bool) {
	row, ok := it.input.Next()
	if !ok {
		return nil, false
	}
	if it.cols == nil {
		return row, true
	}
	out := make(rowstore.Row, len(it.cols))
	for _, c := range it.cols {
		out[c] = row[c]
	}
	return out, true
}

type limitIter struct {
	input     Iterator
	remaining int
}

func (it *limitIter) Next() (rowstore.Row, bool) {
	if it.remaining <= 0 {
		return nil, false
	}
	row, ok := it.input.Next()
	if !ok {
		return nil, false
	}
	it.remaining--
	return row, true
}

type offsetIter struct {
	input Iterator
	skip  int
}

func (it *offsetIter) Next() (rowstore.Row, bool) {
	for it.skip > 0 {
		if _, ok := it.input.Next(); !ok {
			return nil, false
		}
		it.skip--
	}
	return it.input.Next()
}

// planError is the structured error this package raises for unresolvable
// plans, matching the {Kind, Table, Column, Message} shape used
// throughout the engine (internal/schema.Error).
type planError struct {
	Table, Column, Message string
}

func (e *planError) Error() string {
	return fmt.Sprintf("plan error: table %q column %q: %s", e.Table, e.Column, e.Message)
}

func planErr(table, column, message string) error {
	return &planError{Table: table, Column: column, Message: message}
}
