package engine

import (
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

// ColumnOptions configures one column added via TableBuilder.Column.
// Every field defaults false, matching the data model's "nothing is
// special unless declared" rule.
type ColumnOptions struct {
	PrimaryKey    bool
	Nullable      bool
	Unique        bool
	AutoIncrement bool
}

// TableBuilder accumulates a table's shape one fluent call at a time.
// Build validates the accumulated schema.TableDef; RegisterTable then
// commits it into a Database.
type TableBuilder struct {
	def *schema.TableDef
}

// Column appends one column in declaration order, which is also its
// positional order within every row.
func (b *TableBuilder) Column(name string, kind value.Kind, opts ColumnOptions) *TableBuilder {
	b.def.Columns = append(b.def.Columns, &schema.ColumnDef{
		Name:          name,
		Type:          kind,
		Nullable:      opts.Nullable,
		PrimaryKey:    opts.PrimaryKey,
		Unique:        opts.Unique,
		AutoIncrement: opts.AutoIncrement,
	})
	if opts.PrimaryKey {
		b.def.PrimaryKey = append(b.def.PrimaryKey, name)
	}
	return b
}

// PrimaryKey overrides the primary-key column set explicitly, for
// composite keys where no single Column call carries PrimaryKey: true.
func (b *TableBuilder) PrimaryKey(cols ...string) *TableBuilder {
	b.def.PrimaryKey = cols
	return b
}

// Index declares a plain B-tree secondary index over cols. Declaring it
// over a jsonb column is rejected at Build; use JsonbIndex instead.
func (b *TableBuilder) Index(name string, cols ...string) *TableBuilder {
	b.def.Indexes = append(b.def.Indexes, &schema.IndexDef{Name: name, Kind: schema.BTree, Columns: cols})
	return b
}

// UniqueIndex declares a uniqueness-enforcing B-tree index over cols.
func (b *TableBuilder) UniqueIndex(name string, cols ...string) *TableBuilder {
	b.def.Indexes = append(b.def.Indexes, &schema.IndexDef{Name: name, Kind: schema.UniqueBTree, Columns: cols})
	return b
}

// JsonbIndex declares a GIN index over one jsonb column, optionally
// restricted to a set of document paths; an empty paths list tokenizes
// every path reachable in the document.
func (b *TableBuilder) JsonbIndex(name, column string, paths ...string) *TableBuilder {
	b.def.Indexes = append(b.def.Indexes, &schema.IndexDef{Name: name, Kind: schema.GIN, Columns: []string{column}, Paths: paths})
	return b
}

// Build validates the accumulated definition, returning the finished
// schema.TableDef for RegisterTable to commit.
func (b *TableBuilder) Build() (*schema.TableDef, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}
