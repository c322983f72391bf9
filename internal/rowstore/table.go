// Package rowstore is the per-table ordered collection of rows keyed by
// row-id, with primary-key and secondary-index maintenance. All
// operations are synchronous and all-or-nothing: on any failure,
// already-applied rows and postings are rolled back before the call
// returns its error.
package rowstore

import (
	"fmt"

	"github.com/reactivedb/reactivedb/internal/btreeindex"
	"github.com/reactivedb/reactivedb/internal/ginindex"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Row is a mapping from column name to value, of exactly the columns in
// its table's schema; its iteration order is not defined.
type Row map[string]value.Value

// Clone returns a shallow copy of the row (values are immutable, so this
// is enough to give callers a row that won't alias store internals).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Delta is one change emitted by a writer, consumed by the change bus.
type Delta struct {
	Kind   DeltaKind
	RowID  int64
	Before Row // set for Update, Delete
	After  Row // set for Insert, Update
}

type DeltaKind int

const (
	Insert DeltaKind = iota
	Update
	Delete
)

// Table is the live, mutable store for one schema.TableDef.
type Table struct {
	Schema *schema.TableDef

	rows      map[int64]Row
	order     []int64 // row-ids in insertion order, for stable iteration
	nextRowID int64
	lastPK    int64 // highest auto-increment value ever assigned

	pkIndex    *btreeindex.Index
	btreeIdx   map[string]*btreeindex.Index // index name -> index
	ginIdx     map[string]*ginindex.Index
	idxByName  map[string]schema.IndexKind
}

// New constructs an empty table for the given schema. The schema is
// assumed already validated (schema.TableDef.Validate).
func New(def *schema.TableDef) *Table {
	t := &Table{
		Schema:    def,
		rows:      make(map[int64]Row),
		nextRowID: 1,
		pkIndex:   btreeindex.New(true),
		btreeIdx:  make(map[string]*btreeindex.Index),
		ginIdx:    make(map[string]*ginindex.Index),
		idxByName: make(map[string]schema.IndexKind),
	}
	for _, idx := range def.Indexes {
		kind := schema.NormalizeIndexKind(def, idx)
		t.idxByName[idx.Name] = kind
		if kind == schema.GIN {
			t.ginIdx[idx.Name] = ginindex.New(idx.Paths)
		} else {
			t.btreeIdx[idx.Name] = btreeindex.New(kind == schema.UniqueBTree)
		}
	}
	return t
}

// RowCount returns the number of live rows.
func (t *Table) RowCount() int { return len(t.rows) }

// Get returns the row for a row-id, or nil if absent.
func (t *Table) Get(rowID int64) (Row, bool) {
	r, ok := t.rows[rowID]
	return r, ok
}

// RowIDsInOrder returns row-ids in insertion order (stable iteration for Scan).
func (t *Table) RowIDsInOrder() []int64 {
	out := make([]int64, len(t.order))
	copy(out, t.order)
	return out
}

// BTreeIndex returns the named B-tree/unique index, or nil.
func (t *Table) BTreeIndex(name string) *btreeindex.Index { return t.btreeIdx[name] }

// GinIndex returns the named GIN index, or nil.
func (t *Table) GinIndex(name string) *ginindex.Index { return t.ginIdx[name] }

// PKIndex exposes the primary-key unique index for the planner/optimizer.
func (t *Table) PKIndex() *btreeindex.Index { return t.pkIndex }

func (t *Table) pkKey(row Row) btreeindex.Key {
	vals := t.Schema.DerivePrimaryKey(row)
	return btreeindex.Key(vals)
}

// InsertRows validates, assigns row-ids and auto-increment PKs, checks
// uniqueness, then commits every row or none. rows are unordered maps
// supplied by the caller; the returned slice gives the assigned row-ids in
// the same order as the input.
func (t *Table) InsertRows(rows []Row) ([]int64, []Delta, error) {
	assigned := make([]int64, 0, len(rows))
	deltas := make([]Delta, 0, len(rows))
	committedRowIDs := make([]int64, 0, len(rows))

	rollback := func() {
		for _, id := range committedRowIDs {
			t.removeCommitted(id)
		}
	}

	for _, input := range rows {
		row, err := t.materializeInsertRow(input)
		if err != nil {
			rollback()
			return nil, nil, err
		}

		rowID := t.nextRowID
		if err := t.commitInsert(rowID, row); err != nil {
			rollback()
			return nil, nil, err
		}

		t.nextRowID++
		committedRowIDs = append(committedRowIDs, rowID)
		assigned = append(assigned, rowID)
		deltas = append(deltas, Delta{Kind: Insert, RowID: rowID, After: row})
	}

	return assigned, deltas, nil
}

// materializeInsertRow builds the full row (applying column coercion,
// nullability checks, and auto-increment assignment) without mutating the
// table yet.
func (t *Table) materializeInsertRow(input Row) (Row, error) {
	row := make(Row, len(t.Schema.Columns))
	for _, col := range t.Schema.Columns {
		v, supplied := input[col.Name]

		if !supplied {
			if col.AutoIncrement && t.Schema.IsPrimaryKeyColumn(col.Name) {
				v = value.Int64(t.lastPK + 1)
			} else if col.Nullable {
				v = value.Null()
			} else {
				return nil, &schema.Error{Kind: "constraint", Table: t.Schema.Name, Column: col.Name, Message: "missing value for non-nullable column"}
			}
		}

		if v.IsNull() {
			if !col.Nullable {
				return nil, &schema.Error{Kind: "constraint", Table: t.Schema.Name, Column: col.Name, Message: "null not allowed in non-nullable column"}
			}
			row[col.Name] = v
			continue
		}

		coerced, err := value.Coerce(v, col.Type)
		if err != nil {
			return nil, &schema.Error{Kind: "constraint", Table: t.Schema.Name, Column: col.Name, Message: err.Error()}
		}
		row[col.Name] = coerced
	}

	if pk, ok := t.maxAssignedPK(row); ok && pk > t.lastPK {
		t.lastPK = pk
	}
	return row, nil
}

// maxAssignedPK extracts an integer auto-increment PK value from row, if
// the table's PK is a single auto-increment integer column.
func (t *Table) maxAssignedPK(row Row) (int64, bool) {
	if len(t.Schema.PrimaryKey) != 1 {
		return 0, false
	}
	col := t.Schema.Column(t.Schema.PrimaryKey[0])
	if col == nil || !col.AutoIncrement {
		return 0, false
	}
	v := row[col.Name]
	if i, ok := v.AsInt64(); ok {
		return i, true
	}
	if i, ok := v.AsInt32(); ok {
		return int64(i), true
	}
	return 0, false
}

func (t *Table) commitInsert(rowID int64, row Row) error {
	pkKey := t.pkKey(row)
	if err := t.pkIndex.Insert(pkKey, rowID); err != nil {
		return &schema.Error{Kind: "constraint", Table: t.Schema.Name, Message: "primary key uniqueness violation: " + err.Error()}
	}

	committedIdx := make([]string, 0, len(t.btreeIdx))
	for name, idx := range t.btreeIdx {
		key := t.indexKey(name, row)
		if err := idx.Insert(key, rowID); err != nil {
			t.pkIndex.Remove(pkKey, rowID)
			for _, done := range committedIdx {
				t.btreeIdx[done].Remove(t.indexKey(done, row), rowID)
			}
			return &schema.Error{Kind: "constraint", Table: t.Schema.Name, Message: fmt.Sprintf("unique index %q violation: %s", name, err.Error())}
		}
		committedIdx = append(committedIdx, name)
	}

	for name, idx := range t.ginIdx {
		col := t.ginColumnOf(name)
		if doc, ok := row[col].AsJsonb(); ok {
			idx.Insert(rowID, doc)
		}
	}

	t.rows[rowID] = row
	t.order = append(t.order, rowID)
	return nil
}

func (t *Table) ginColumnOf(indexName string) string {
	for _, idx := range t.Schema.Indexes {
		if idx.Name == indexName {
			return idx.Columns[0]
		}
	}
	return ""
}

func (t *Table) indexKey(indexName string, row Row) btreeindex.Key {
	var def *schema.IndexDef
	for _, idx := range t.Schema.Indexes {
		if idx.Name == indexName {
			def = idx
			break
		}
	}
	if def == nil {
		return nil
	}
	key := make(btreeindex.Key, len(def.Columns))
	for i, col := range def.Columns {
		key[i] = row[col]
	}
	return key
}

// removeCommitted fully removes a just-committed row (used only by
// InsertRows' rollback path).
func (t *Table) removeCommitted(rowID int64) {
	row, ok := t.rows[rowID]
	if !ok {
		return
	}
	t.removePostings(rowID, row)
	delete(t.rows, rowID)
	for i, id := range t.order {
		if id == rowID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Table) removePostings(rowID int64, row Row) {
	t.pkIndex.Remove(t.pkKey(row), rowID)
	for name, idx := range t.btreeIdx {
		idx.Remove(t.indexKey(name, row), rowID)
	}
	for name, idx := range t.ginIdx {
		col := t.ginColumnOf(name)
		if doc, ok := row[col].AsJsonb(); ok {
			idx.Remove(rowID, doc)
		}
	}
}

// UpdateRows applies set to every row matching rowIDs (already resolved by
// a predicate evaluation upstream), all-or-nothing.
func (t *Table) UpdateRows(rowIDs []int64, set map[string]value.Value) ([]Delta, error) {
	type planned struct {
		rowID   int64
		before  Row
		after   Row
	}
	plans := make([]planned, 0, len(rowIDs))

	for _, rowID := range rowIDs {
		before, ok := t.rows[rowID]
		if !ok {
			continue
		}
		after := before.Clone()
		for col, v := range set {
			colDef := t.Schema.Column(col)
			if colDef == nil {
				return nil, &schema.Error{Kind: "plan", Table: t.Schema.Name, Column: col, Message: "unresolved column reference"}
			}
			if v.IsNull() {
				if !colDef.Nullable {
					return nil, &schema.Error{Kind: "constraint", Table: t.Schema.Name, Column: col, Message: "null not allowed in non-nullable column"}
				}
				after[col] = v
				continue
			}
			coerced, err := value.Coerce(v, colDef.Type)
			if err != nil {
				return nil, &schema.Error{Kind: "constraint", Table: t.Schema.Name, Column: col, Message: err.Error()}
			}
			after[col] = coerced
		}
		plans = append(plans, planned{rowID: rowID, before: before, after: after})
	}

	applied := make([]int64, 0, len(plans))
	rollback := func() {
		for _, rowID := range applied {
			for _, p := range plans {
				if p.rowID == rowID {
					t.removePostings(rowID, p.after)
					t.rows[rowID] = p.before
					t.commitPostingsOnly(rowID, p.before)
				}
			}
		}
	}

	deltas := make([]Delta, 0, len(plans))
	for _, p := range plans {
		if err := t.applyUpdate(p.rowID, p.before, p.after); err != nil {
			rollback()
			return nil, err
		}
		applied = append(applied, p.rowID)
		deltas = append(deltas, Delta{Kind: Update, RowID: p.rowID, Before: p.before, After: p.after})
	}
	return deltas, nil
}

// commitPostingsOnly re-inserts postings for a row already present in
// t.rows, used only to restore state during UpdateRows rollback.
func (t *Table) commitPostingsOnly(rowID int64, row Row) {
	_ = t.pkIndex.Insert(t.pkKey(row), rowID)
	for name, idx := range t.btreeIdx {
		_ = idx.Insert(t.indexKey(name, row), rowID)
	}
	for name, idx := range t.ginIdx {
		col := t.ginColumnOf(name)
		if doc, ok := row[col].AsJsonb(); ok {
			idx.Insert(rowID, doc)
		}
	}
}

func (t *Table) applyUpdate(rowID int64, before, after Row) error {
	pkChanged := !pkEqual(t.Schema.DerivePrimaryKey(before), t.Schema.DerivePrimaryKey(after))
	t.removePostings(rowID, before)

	if pkChanged {
		if err := t.pkIndex.Insert(t.pkKey(after), rowID); err != nil {
			t.commitPostingsOnly(rowID, before)
			return &schema.Error{Kind: "constraint", Table: t.Schema.Name, Message: "primary key uniqueness violation: " + err.Error()}
		}
	} else {
		_ = t.pkIndex.Insert(t.pkKey(after), rowID)
	}

	for name, idx := range t.btreeIdx {
		if err := idx.Insert(t.indexKey(name, after), rowID); err != nil {
			t.pkIndex.Remove(t.pkKey(after), rowID)
			t.commitPostingsOnly(rowID, before)
			return &schema.Error{Kind: "constraint", Table: t.Schema.Name, Message: fmt.Sprintf("unique index %q violation: %s", name, err.Error())}
		}
	}
	for name, idx := range t.ginIdx {
		col := t.ginColumnOf(name)
		if doc, ok := after[col].AsJsonb(); ok {
			idx.Insert(rowID, doc)
		}
	}

	t.rows[rowID] = after
	return nil
}

func pkEqual(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !value.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// DeleteRows removes the given row-ids, returning the deltas for the rows
// that were actually present.
func (t *Table) DeleteRows(rowIDs []int64) []Delta {
	deltas := make([]Delta, 0, len(rowIDs))
	for _, rowID := range rowIDs {
		row, ok := t.rows[rowID]
		if !ok {
			continue
		}
		t.removePostings(rowID, row)
		delete(t.rows, rowID)
		for i, id := range t.order {
			if id == rowID {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		deltas = append(deltas, Delta{Kind: Delete, RowID: rowID, Before: row})
	}
	return deltas
}

// Clear empties the table; row-ids are not reused afterward (the
// auto-increment/row-id counters are intentionally never reset).
func (t *Table) Clear() {
	t.rows = make(map[int64]Row)
	t.order = nil
	t.pkIndex = btreeindex.New(true)
	for name, kind := range t.idxByName {
		if kind == schema.GIN {
			t.ginIdx[name] = ginindex.New(t.ginIdx[name].Paths)
		} else {
			t.btreeIdx[name] = btreeindex.New(kind == schema.UniqueBTree)
		}
	}
}
