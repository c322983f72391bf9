package engine

import (
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txActive:
		return "active"
	case txCommitted:
		return "committed"
	default:
		return "rolled_back"
	}
}

// tableDelta pairs a rowstore.Delta with the table it came from, so Commit
// can accumulate deltas across every staged op before appending them to
// the change bus.
type tableDelta struct {
	table string
	delta rowstore.Delta
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

// stagedOp is one pending write, kept in insert order for commit to replay.
// id is a real row-id for an op against a pre-existing row, or a negative
// placeholder (see Transaction.nextTempID) for an op chained off a row this
// same transaction inserted but hasn't committed yet.
type stagedOp struct {
	table string
	kind  opKind
	id    int64
	row   rowstore.Row            // full row image, for opInsert
	set   map[string]value.Value // changed columns, for opUpdate
}

// txTableState is the overlay one table accumulates within a transaction:
// the staging buffer's per-table view, consulted by later insert/update/
// delete calls in the same transaction so they see each other's pending
// effects without ever touching the base rowstore.Table.
type txTableState struct {
	overlay     map[int64]rowstore.Row // id -> current staged row image
	deleted     map[int64]bool
	insertOrder []int64 // temp ids only, in the order they were inserted
}

// Transaction stages insert/update/delete calls in an ordered buffer
// rather than locking the base store. Reads performed by a later staged
// call in the same transaction see every earlier one, in insert order, via
// the per-table overlay, but the base rowstore.Table, and therefore any
// plain Database.Select, is untouched until Commit. Commit replays every
// staged op onto the base store in order and flushes the accumulated
// deltas to the change bus exactly once; Rollback simply discards the
// buffer, since nothing was ever applied.
type Transaction struct {
	db         *Database
	state      txState
	tables     map[string]*txTableState
	ops        []stagedOp
	nextTempID int64
}

// Transaction begins a new transaction against d.
func (d *Database) Transaction() *Transaction {
	return &Transaction{db: d, tables: make(map[string]*txTableState), nextTempID: -1}
}

// Active reports whether the transaction can still accept operations.
func (tx *Transaction) Active() bool { return tx.state == txActive }

// State returns one of "active", "committed", "rolled_back".
func (tx *Transaction) State() string { return tx.state.String() }

func completedErr() error {
	return &schema.Error{Kind: "transaction", Message: "operation on a completed transaction"}
}

func (tx *Transaction) table(name string) (*rowstore.Table, error) {
	t, ok := tx.db.tables[name]
	if !ok {
		return nil, undefinedTableErr(name)
	}
	return t, nil
}

func (tx *Transaction) tableState(name string) *txTableState {
	ts, ok := tx.tables[name]
	if !ok {
		ts = &txTableState{overlay: make(map[int64]rowstore.Row), deleted: make(map[int64]bool)}
		tx.tables[name] = ts
	}
	return ts
}

// matchingIDs resolves which ids satisfy pred against this transaction's
// view of table: every base row not yet staged-deleted (using its staged
// overlay image if updated), plus every row this transaction has staged an
// insert for and not since staged-deleted, in insert order.
func (tx *Transaction) matchingIDs(t *rowstore.Table, ts *txTableState, pred predicate.Predicate) []int64 {
	var out []int64
	for _, id := range t.RowIDsInOrder() {
		if ts.deleted[id] {
			continue
		}
		row, ok := ts.overlay[id]
		if !ok {
			row, ok = t.Get(id)
			if !ok {
				continue
			}
		}
		if pred == nil || pred.Eval(predicate.Row(row)) {
			out = append(out, id)
		}
	}
	for _, id := range ts.insertOrder {
		if ts.deleted[id] {
			continue
		}
		row := ts.overlay[id]
		if pred == nil || pred.Eval(predicate.Row(row)) {
			out = append(out, id)
		}
	}
	return out
}

// Insert stages rows for insertion, returning temporary negative ids valid
// only within this transaction; Commit assigns their real row-ids.
func (tx *Transaction) Insert(table string, rows []map[string]value.Value) ([]int64, error) {
	if tx.state != txActive {
		return nil, completedErr()
	}
	if _, err := tx.table(table); err != nil {
		return nil, err
	}
	ts := tx.tableState(table)
	ids := make([]int64, len(rows))
	for i, r := range rows {
		id := tx.nextTempID
		tx.nextTempID--
		row := rowstore.Row(r)
		ts.overlay[id] = row
		ts.insertOrder = append(ts.insertOrder, id)
		tx.ops = append(tx.ops, stagedOp{table: table, kind: opInsert, id: id, row: row})
		ids[i] = id
	}
	return ids, nil
}

// Update stages an update against every row currently matching pred in
// this transaction's view, returning the number staged.
func (tx *Transaction) Update(table string, pred predicate.Predicate, set map[string]value.Value) (int, error) {
	if tx.state != txActive {
		return 0, completedErr()
	}
	t, err := tx.table(table)
	if err != nil {
		return 0, err
	}
	ts := tx.tableState(table)
	ids := tx.matchingIDs(t, ts, pred)
	for _, id := range ids {
		current, ok := ts.overlay[id]
		if !ok {
			current, _ = t.Get(id)
		}
		updated := current.Clone()
		for col, v := range set {
			updated[col] = v
		}
		ts.overlay[id] = updated
		tx.ops = append(tx.ops, stagedOp{table: table, kind: opUpdate, id: id, set: set})
	}
	return len(ids), nil
}

// Delete stages a delete against every row currently matching pred in this
// transaction's view, returning the number staged.
func (tx *Transaction) Delete(table string, pred predicate.Predicate) (int, error) {
	if tx.state != txActive {
		return 0, completedErr()
	}
	t, err := tx.table(table)
	if err != nil {
		return 0, err
	}
	ts := tx.tableState(table)
	ids := tx.matchingIDs(t, ts, pred)
	for _, id := range ids {
		ts.deleted[id] = true
		tx.ops = append(tx.ops, stagedOp{table: table, kind: opDelete, id: id})
	}
	return len(ids), nil
}

// Commit replays every staged op onto the base store, in the order it was
// staged, then flushes the resulting deltas to the change bus once. A
// staged insert's temporary id is remapped to its real row-id for any
// later op in the same transaction that targeted it. If a replay fails
// (e.g. a unique constraint violated against the now-committed state),
// Commit returns that error immediately; ops already replayed before it
// remain applied to the base store but their deltas are never flushed, a
// documented consequence of durability/WAL being out of scope here.
func (tx *Transaction) Commit() error {
	if tx.state != txActive {
		return completedErr()
	}
	tx.state = txCommitted

	tempToReal := make(map[string]map[int64]int64)
	resolve := func(table string, id int64) int64 {
		if id >= 0 {
			return id
		}
		if m, ok := tempToReal[table]; ok {
			if real, ok := m[id]; ok {
				return real
			}
		}
		return id
	}

	var deltas []tableDelta
	for _, op := range tx.ops {
		t, err := tx.table(op.table)
		if err != nil {
			return err
		}
		switch op.kind {
		case opInsert:
			ids, ds, err := t.InsertRows([]rowstore.Row{op.row})
			if err != nil {
				return err
			}
			m := tempToReal[op.table]
			if m == nil {
				m = make(map[int64]int64)
				tempToReal[op.table] = m
			}
			m[op.id] = ids[0]
			for _, d := range ds {
				deltas = append(deltas, tableDelta{op.table, d})
			}
		case opUpdate:
			id := resolve(op.table, op.id)
			ds, err := t.UpdateRows([]int64{id}, op.set)
			if err != nil {
				return err
			}
			for _, d := range ds {
				deltas = append(deltas, tableDelta{op.table, d})
			}
		case opDelete:
			id := resolve(op.table, op.id)
			ds := t.DeleteRows([]int64{id})
			for _, d := range ds {
				deltas = append(deltas, tableDelta{op.table, d})
			}
		}
	}

	for _, td := range deltas {
		tx.db.bus.Append(td.table, td.delta)
	}
	tx.db.bus.Flush()
	return nil
}

// Rollback discards the staging buffer. Nothing was ever applied to the
// base store, so there is nothing to undo.
func (tx *Transaction) Rollback() error {
	if tx.state != txActive {
		return completedErr()
	}
	tx.state = txRolledBack
	tx.tables = nil
	tx.ops = nil
	return nil
}
