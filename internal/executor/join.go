package executor

import (
	"github.com/reactivedb/reactivedb/internal/btreeindex"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/value"
)

// compileJoin builds an inner or left-outer equi-join. When the right
// table has a BTree index (unique or not) on Cond.RightCol, or RightCol
// is its primary key, each outer row probes the index directly instead
// of scanning Right in full. Otherwise it falls back to a nested loop
// against every row of Right.
func compileJoin(j planner.Join, cat Catalog) (Iterator, error) {
	input, err := Compile(j.Input, cat)
	if err != nil {
		return nil, err
	}
	right := cat.Table(j.Right)
	if right == nil {
		return nil, planErr(j.Right, "", "undefined table")
	}
	rightCols := make([]string, 0, len(right.Schema.Columns))
	for _, c := range right.Schema.Columns {
		rightCols = append(rightCols, c.Name)
	}

	probe := rightProbe(right, j.Cond.RightCol)

	return &joinIter{
		input:     input,
		right:     right,
		kind:      j.Kind,
		cond:      j.Cond,
		rightCols: rightCols,
		probe:     probe,
	}, nil
}

// rightProbe returns a function mapping a left-side join value directly
// to matching right-side row-ids, preferring the primary key or a BTree
// index over Cond.RightCol; nil means "no index available."
func rightProbe(right *rowstore.Table, col string) func(v value.Value) []int64 {
	if right.Schema.IsPrimaryKeyColumn(col) && len(right.Schema.PrimaryKey) == 1 {
		idx := right.PKIndex()
		return func(v value.Value) []int64 { return idx.Point(btreeindex.Key{v}) }
	}
	for _, idxDef := range right.Schema.IndexesOn(col) {
		if len(idxDef.Columns) != 1 {
			continue
		}
		idx := right.BTreeIndex(idxDef.Name)
		if idx == nil {
			continue
		}
		return func(v value.Value) []int64 { return idx.Point(btreeindex.Key{v}) }
	}
	return nil
}

type joinIter struct {
	input     Iterator
	right     *rowstore.Table
	kind      planner.JoinKind
	cond      planner.JoinCondition
	rightCols []string
	probe     func(value.Value) []int64

	leftRow  rowstore.Row
	matches  []rowstore.Row
	matchPos int
	haveLeft bool
	emitted  bool // whether the current left row has emitted at least one output row
}

func (it *joinIter) Next() (rowstore.Row, bool) {
	for {
		if it.haveLeft && it.matchPos < len(it.matches) {
			rightRow := it.matches[it.matchPos]
			it.matchPos++
			it.emitted = true
			return mergeJoinRow(it.leftRow, rightRow, it.right.Schema.Name), true
		}
		if it.haveLeft && it.kind == planner.LeftOuterJoin && !it.emitted {
			it.haveLeft = false
			return mergeJoinRow(it.leftRow, nullRightRow(it.rightCols), it.right.Schema.Name), true
		}

		row, ok := it.input.Next()
		if !ok {
			return nil, false
		}
		it.leftRow = row
		it.haveLeft = true
		it.matchPos = 0
		it.emitted = false
		it.matches = it.matchRight(row)
	}
}

func (it *joinIter) matchRight(leftRow rowstore.Row) []rowstore.Row {
	leftVal, ok := leftRow[it.cond.LeftCol]
	if !ok || leftVal.IsNull() {
		return nil
	}
	if it.probe != nil {
		ids := it.probe(leftVal)
		out := make([]rowstore.Row, 0, len(ids))
		for _, id := range ids {
			if row, ok := it.right.Get(id); ok {
				out = append(out, row)
			}
		}
		return out
	}
	var out []rowstore.Row
	for _, id := range it.right.RowIDsInOrder() {
		row, ok := it.right.Get(id)
		if !ok {
			continue
		}
		rv, ok := row[it.cond.RightCol]
		if !ok {
			continue
		}
		if value.Equal(leftVal, rv) {
			out = append(out, row)
		}
	}
	return out
}

// mergeJoinRow combines outer and inner columns; inner columns that
// collide with an outer column name are qualified as "<rightTable>.col".
func mergeJoinRow(left, right rowstore.Row, rightTable string) rowstore.Row {
	out := make(rowstore.Row, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		if _, collide := out[k]; collide {
			out[rightTable+"."+k] = v
		} else {
			out[k] = v
		}
	}
	return out
}

func nullRightRow(cols []string) rowstore.Row {
	out := make(rowstore.Row, len(cols))
	for _, c := range cols {
		out[c] = value.Null()
	}
	return out
}
