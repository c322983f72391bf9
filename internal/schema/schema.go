// Package schema is the single source of truth for table shape: column
// metadata, primary keys, and secondary indexes. It provides the
// structured representation every other package (row store, indexes,
// planner, executor) builds on.
package schema

import (
	"fmt"
	"strings"

	"github.com/reactivedb/reactivedb/internal/value"
)

// IndexKind identifies the structure backing a secondary index.
type IndexKind int

const (
	BTree IndexKind = iota
	UniqueBTree
	GIN
)

func (k IndexKind) String() string {
	switch k {
	case BTree:
		return "btree"
	case UniqueBTree:
		return "unique_btree"
	case GIN:
		return "gin"
	default:
		return "unknown"
	}
}

// ColumnDef describes one column of a table.
type ColumnDef struct {
	Name          string
	Type          value.Kind
	Nullable      bool
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
}

// Indexable reports whether the column can back a BTree/UniqueBTree index
// directly. JSONB columns are only indexable through a GIN index.
func (c *ColumnDef) Indexable() bool {
	return c.Type != value.KindJsonb
}

// IndexDef describes a secondary index over one or more columns.
type IndexDef struct {
	Name    string
	Kind    IndexKind
	Columns []string
	// Paths restricts a GIN index to a set of JSONB paths; empty means
	// every path reachable in the document is tokenized.
	Paths []string
}

// TableDef is the schema of one table: its columns in declaration order
// (which is also column position), its primary key column set, and its
// secondary indexes.
type TableDef struct {
	Name       string
	Columns    []*ColumnDef
	PrimaryKey []string
	Indexes    []*IndexDef
}

// ColumnIndex returns the zero-based position of a column, or -1.
func (t *TableDef) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the column definition by name, or nil.
func (t *TableDef) Column(name string) *ColumnDef {
	if i := t.ColumnIndex(name); i >= 0 {
		return t.Columns[i]
	}
	return nil
}

// IsPrimaryKeyColumn reports whether name is part of the composite PK.
func (t *TableDef) IsPrimaryKeyColumn(name string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// Index returns the named secondary index, or nil.
func (t *TableDef) Index(name string) *IndexDef {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx
		}
	}
	return nil
}

// IndexesOn returns every secondary index declared over exactly this
// single leading column (used by the optimizer's filter-to-index rules).
func (t *TableDef) IndexesOn(column string) []*IndexDef {
	var out []*IndexDef
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 && idx.Columns[0] == column {
			out = append(out, idx)
		}
	}
	return out
}

// PrimaryKeyIndexName is the well-known index name the optimizer and
// executor use to address a table's primary-key index, which is always
// maintained but never appears in Indexes.
const PrimaryKeyIndexName = "$primary_key"

// PrimaryKeyIndex synthesizes an IndexDef for the table's primary-key
// index when the key is a single column, so the optimizer can consider
// it alongside declared secondary indexes. Composite keys return nil:
// the row store's PK index only supports equality/range on the full key
// tuple, which the filter-to-index rules don't build for multiple
// columns.
func (t *TableDef) PrimaryKeyIndex() *IndexDef {
	if len(t.PrimaryKey) != 1 {
		return nil
	}
	return &IndexDef{Name: PrimaryKeyIndexName, Kind: UniqueBTree, Columns: t.PrimaryKey}
}

// Validate checks the invariants from the data model: exactly one PK set,
// unique column names, indexes referencing existing columns, and BTree
// indexes never declared directly on a Jsonb column (those must be GIN).
func (t *TableDef) Validate() error {
	if t.Name == "" {
		return &Error{Kind: "schema", Message: "table name is required"}
	}
	if len(t.Columns) == 0 {
		return &Error{Kind: "schema", Table: t.Name, Message: "table has no columns"}
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return &Error{Kind: "schema", Table: t.Name, Message: "column name is empty"}
		}
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return &Error{Kind: "schema", Table: t.Name, Column: c.Name, Message: "duplicate column name"}
		}
		seen[lower] = true
	}

	if len(t.PrimaryKey) == 0 {
		return &Error{Kind: "schema", Table: t.Name, Message: "table must declare a primary key"}
	}
	for _, pk := range t.PrimaryKey {
		if t.Column(pk) == nil {
			return &Error{Kind: "schema", Table: t.Name, Column: pk, Message: "primary key references nonexistent column"}
		}
	}

	idxNames := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idx.Name == "" {
			return &Error{Kind: "schema", Table: t.Name, Message: "index name is required"}
		}
		lower := strings.ToLower(idx.Name)
		if idxNames[lower] {
			return &Error{Kind: "schema", Table: t.Name, Message: fmt.Sprintf("duplicate index name %q", idx.Name)}
		}
		idxNames[lower] = true

		if len(idx.Columns) == 0 {
			return &Error{Kind: "schema", Table: t.Name, Message: fmt.Sprintf("index %q has no columns", idx.Name)}
		}
		for _, colName := range idx.Columns {
			col := t.Column(colName)
			if col == nil {
				return &Error{Kind: "schema", Table: t.Name, Column: colName, Message: fmt.Sprintf("index %q references nonexistent column", idx.Name)}
			}
			if idx.Kind != GIN && col.Type == value.KindJsonb {
				return &Error{Kind: "schema", Table: t.Name, Column: colName, Message: fmt.Sprintf("index %q: jsonb column requires a GIN index, not %s", idx.Name, idx.Kind)}
			}
		}
	}

	return nil
}

// Error is the structured schema-validation error: every API failure
// carries a kind, and the table/column it occurred on when applicable.
type Error struct {
	Kind    string
	Table   string
	Column  string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("%s error: table %q column %q: %s", e.Kind, e.Table, e.Column, e.Message)
	case e.Table != "":
		return fmt.Sprintf("%s error: table %q: %s", e.Kind, e.Table, e.Message)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}
