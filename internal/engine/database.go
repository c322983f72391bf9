// Package engine is the embeddable database's top-level orchestration
// layer: it owns a set of rowstore.Table instances plus the
// changebus.Bus that fans their deltas out to standing subscriptions, and
// exposes the Database/TableBuilder/Insert/Select/Update/Delete/
// Transaction surface a host embeds directly. Every write call here
// appends the row-store's returned deltas to the bus and flushes exactly
// once, the single cooperative yield point, so a batch of N inserted
// rows produces one notification per observer, not N.
package engine

import (
	"github.com/reactivedb/reactivedb/internal/changebus"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Database is one embeddable, in-memory relational store: a named set of
// tables plus the reactive infrastructure (change bus, standing
// observers) layered over them. It is not safe for concurrent use from
// multiple goroutines: the whole engine runs single-threaded and
// cooperative; callers serialize their own access.
type Database struct {
	name   string
	tables map[string]*rowstore.Table
	order  []string // registration order, for TableNames

	bus *changebus.Bus
}

// New returns an empty, named Database.
func New(name string) *Database {
	return &Database{
		name:   name,
		tables: make(map[string]*rowstore.Table),
		bus:    changebus.New(),
	}
}

// Name returns the database's name, as given to New.
func (d *Database) Name() string { return d.name }

// CreateTable starts a new table definition bound to this database.
// Nothing is committed until RegisterTable is called with the finished
// builder.
func (d *Database) CreateTable(name string) *TableBuilder {
	return &TableBuilder{def: &schema.TableDef{Name: name}}
}

// RegisterTable validates b's accumulated definition and commits a fresh
// rowstore.Table under its name.
func (d *Database) RegisterTable(b *TableBuilder) error {
	def, err := b.Build()
	if err != nil {
		return err
	}
	if _, exists := d.tables[def.Name]; exists {
		return &schema.Error{Kind: "schema", Table: def.Name, Message: "table already registered"}
	}
	d.tables[def.Name] = rowstore.New(def)
	d.order = append(d.order, def.Name)
	return nil
}

// DropTable removes a table and all its rows. Any standing observer that
// still depends on it simply stops receiving flushes for that table;
// depending on a now-undefined table is not itself an error here.
func (d *Database) DropTable(name string) error {
	if _, ok := d.tables[name]; !ok {
		return undefinedTableErr(name)
	}
	delete(d.tables, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// HasTable reports whether name is a registered table.
func (d *Database) HasTable(name string) bool {
	_, ok := d.tables[name]
	return ok
}

// TableNames returns every registered table name, in registration order.
func (d *Database) TableNames() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// TableCount returns the number of registered tables.
func (d *Database) TableCount() int { return len(d.tables) }

// TotalRowCount sums RowCount across every registered table.
func (d *Database) TotalRowCount() int {
	total := 0
	for _, t := range d.tables {
		total += t.RowCount()
	}
	return total
}

// Clear empties every table, without dropping their schemas.
func (d *Database) Clear() {
	for _, t := range d.tables {
		t.Clear()
	}
}

// ClearTable empties one table.
func (d *Database) ClearTable(name string) error {
	t, ok := d.tables[name]
	if !ok {
		return undefinedTableErr(name)
	}
	t.Clear()
	return nil
}

// Table returns the named table's live row store, or nil if undefined.
// It also makes *Database satisfy executor.Catalog directly.
func (d *Database) Table(name string) *rowstore.Table { return d.tables[name] }

func (d *Database) schemaLookup(name string) *schema.TableDef {
	if t, ok := d.tables[name]; ok {
		return t.Schema
	}
	return nil
}

func undefinedTableErr(name string) error {
	return &schema.Error{Kind: "schema", Table: name, Message: "undefined table"}
}

// matchingRowIDs resolves which row-ids of t satisfy pred, in stable
// iteration order. A nil pred matches every row, used by UPDATE/DELETE
// with no WHERE clause.
func matchingRowIDs(t *rowstore.Table, pred predicate.Predicate) []int64 {
	var out []int64
	for _, id := range t.RowIDsInOrder() {
		row, ok := t.Get(id)
		if !ok {
			continue
		}
		if pred == nil || pred.Eval(predicate.Row(row)) {
			out = append(out, id)
		}
	}
	return out
}

// --- Insert --------------------------------------------------------------

// InsertBuilder accumulates rows to insert into one table.
type InsertBuilder struct {
	db    *Database
	table string
	rows  []rowstore.Row
}

// Insert starts an insert against table.
func (d *Database) Insert(table string) *InsertBuilder {
	return &InsertBuilder{db: d, table: table}
}

// Row appends one row to insert.
func (b *InsertBuilder) Row(row map[string]value.Value) *InsertBuilder {
	b.rows = append(b.rows, rowstore.Row(row))
	return b
}

// Rows appends several rows to insert.
func (b *InsertBuilder) Rows(rows ...map[string]value.Value) *InsertBuilder {
	for _, r := range rows {
		b.rows = append(b.rows, rowstore.Row(r))
	}
	return b
}

// Exec commits the accumulated rows all-or-nothing, returning their
// assigned row-ids in input order.
func (b *InsertBuilder) Exec() ([]int64, error) {
	t, ok := b.db.tables[b.table]
	if !ok {
		return nil, undefinedTableErr(b.table)
	}
	ids, deltas, err := t.InsertRows(b.rows)
	if err != nil {
		return nil, err
	}
	for _, dl := range deltas {
		b.db.bus.Append(b.table, dl)
	}
	b.db.bus.Flush()
	return ids, nil
}

// --- Update ----------------------------------------------------------------

// UpdateBuilder accumulates a predicate and a column assignment set for
// an UPDATE against one table.
type UpdateBuilder struct {
	db    *Database
	table string
	pred  predicate.Predicate
	set   map[string]value.Value
}

// Update starts an update against table.
func (d *Database) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{db: d, table: table, set: make(map[string]value.Value)}
}

// Where restricts which rows are updated; omitting it updates every row.
func (b *UpdateBuilder) Where(p predicate.Predicate) *UpdateBuilder {
	b.pred = p
	return b
}

// Set stages one column assignment.
func (b *UpdateBuilder) Set(column string, v value.Value) *UpdateBuilder {
	b.set[column] = v
	return b
}

// Exec applies the staged assignments to every matching row,
// all-or-nothing, returning the number of rows updated.
func (b *UpdateBuilder) Exec() (int, error) {
	t, ok := b.db.tables[b.table]
	if !ok {
		return 0, undefinedTableErr(b.table)
	}
	ids := matchingRowIDs(t, b.pred)
	deltas, err := t.UpdateRows(ids, b.set)
	if err != nil {
		return 0, err
	}
	for _, dl := range deltas {
		b.db.bus.Append(b.table, dl)
	}
	b.db.bus.Flush()
	return len(deltas), nil
}

// --- Delete ----------------------------------------------------------------

// DeleteBuilder accumulates a predicate for a DELETE against one table.
type DeleteBuilder struct {
	db    *Database
	table string
	pred  predicate.Predicate
}

// Delete starts a delete against table.
func (d *Database) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{db: d, table: table}
}

// Where restricts which rows are deleted; omitting it deletes every row.
func (b *DeleteBuilder) Where(p predicate.Predicate) *DeleteBuilder {
	b.pred = p
	return b
}

// Exec removes every matching row, returning the number deleted.
func (b *DeleteBuilder) Exec() (int, error) {
	t, ok := b.db.tables[b.table]
	if !ok {
		return 0, undefinedTableErr(b.table)
	}
	ids := matchingRowIDs(t, b.pred)
	deltas := t.DeleteRows(ids)
	for _, dl := range deltas {
		b.db.bus.Append(b.table, dl)
	}
	b.db.bus.Flush()
	return len(deltas), nil
}
