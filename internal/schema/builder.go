package schema

import "github.com/reactivedb/reactivedb/internal/value"

// NormalizeIndexKind reinterprets a BTree/UniqueBTree index declared over a
// Jsonb column as GIN, per the data model: "BTree on JSONB is
// reinterpreted as GIN."
func NormalizeIndexKind(t *TableDef, idx *IndexDef) IndexKind {
	if idx.Kind == GIN {
		return GIN
	}
	for _, colName := range idx.Columns {
		if col := t.Column(colName); col != nil && col.Type == value.KindJsonb {
			return GIN
		}
	}
	return idx.Kind
}

// DerivePrimaryKey extracts the PK value as an ordered slice of values from
// a row map, in the order PrimaryKey columns are declared. Composite keys
// compare lexicographically by virtue of this fixed ordering.
func (t *TableDef) DerivePrimaryKey(row map[string]value.Value) []value.Value {
	out := make([]value.Value, len(t.PrimaryKey))
	for i, col := range t.PrimaryKey {
		out[i] = row[col]
	}
	return out
}
