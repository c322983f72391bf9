// Package config loads a declarative schema document (tables, columns,
// indexes) from TOML and turns it into engine.TableBuilder calls, the
// same schema-file-to-database conversion internal/parser/toml performs
// elsewhere in this corpus, but targeting the in-memory engine instead of
// a DDL diff. It is ambient tooling for hosts and tests that prefer to
// declare a schema as data instead of Go code; the engine itself never
// reaches for it.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/reactivedb/reactivedb/internal/engine"
	"github.com/reactivedb/reactivedb/internal/value"
)

// schemaFile is the top-level TOML document: [database] plus one
// [[tables]] entry per table.
type schemaFile struct {
	Database tomlDatabase `toml:"database"`
	Tables   []tomlTable  `toml:"tables"`
}

type tomlDatabase struct {
	Name string `toml:"name"`
}

// tomlTable maps one [[tables]] entry.
type tomlTable struct {
	Name       string       `toml:"name"`
	PrimaryKey []string     `toml:"primary_key"`
	Columns    []tomlColumn `toml:"columns"`
	Indexes    []tomlIndex  `toml:"indexes"`
}

// tomlColumn maps one [[tables.columns]] entry.
type tomlColumn struct {
	Name          string `toml:"name"`
	Type          string `toml:"type"`
	PrimaryKey    bool   `toml:"primary_key"`
	Nullable      bool   `toml:"nullable"`
	Unique        bool   `toml:"unique"`
	AutoIncrement bool   `toml:"auto_increment"`
}

// tomlIndex maps one [[tables.indexes]] entry. Kind selects among
// "btree" (default), "unique", and "gin"; Paths restricts a gin index to
// specific JSONB document paths.
type tomlIndex struct {
	Name    string   `toml:"name"`
	Kind    string   `toml:"kind"`
	Columns []string `toml:"columns"`
	Paths   []string `toml:"paths"`
}

// columnKinds maps the TOML document's portable type names onto
// value.Kind, the same dialect-agnostic naming the rest of this engine
// uses everywhere a column type is named.
var columnKinds = map[string]value.Kind{
	"boolean":  value.KindBoolean,
	"bool":     value.KindBoolean,
	"int32":    value.KindInt32,
	"int64":    value.KindInt64,
	"float64":  value.KindFloat64,
	"datetime": value.KindDateTime,
	"string":   value.KindString,
	"bytes":    value.KindBytes,
	"jsonb":    value.KindJsonb,
}

// LoadFile opens path and loads it as a TOML schema document, registering
// every table it declares against db.
func LoadFile(db *engine.Database, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return Load(db, f)
}

// Load reads a TOML schema document from r and registers every table it
// declares against db, in the order they appear in the document.
func Load(db *engine.Database, r io.Reader) error {
	var sf schemaFile
	if _, err := toml.NewDecoder(r).Decode(&sf); err != nil {
		return fmt.Errorf("config: decode TOML: %w", err)
	}

	for _, tt := range sf.Tables {
		b := db.CreateTable(tt.Name)
		if err := applyColumns(b, &tt); err != nil {
			return fmt.Errorf("config: table %q: %w", tt.Name, err)
		}
		if len(tt.PrimaryKey) > 0 {
			b.PrimaryKey(tt.PrimaryKey...)
		}
		if err := applyIndexes(b, &tt); err != nil {
			return fmt.Errorf("config: table %q: %w", tt.Name, err)
		}
		if err := db.RegisterTable(b); err != nil {
			return fmt.Errorf("config: table %q: %w", tt.Name, err)
		}
	}
	return nil
}

func applyColumns(b *engine.TableBuilder, tt *tomlTable) error {
	for _, tc := range tt.Columns {
		kind, ok := columnKinds[strings.ToLower(tc.Type)]
		if !ok {
			return fmt.Errorf("column %q: unknown type %q", tc.Name, tc.Type)
		}
		b.Column(tc.Name, kind, engine.ColumnOptions{
			PrimaryKey:    tc.PrimaryKey,
			Nullable:      tc.Nullable,
			Unique:        tc.Unique,
			AutoIncrement: tc.AutoIncrement,
		})
	}
	return nil
}

func applyIndexes(b *engine.TableBuilder, tt *tomlTable) error {
	for _, ti := range tt.Indexes {
		if ti.Name == "" {
			return fmt.Errorf("index has no name")
		}
		if len(ti.Columns) == 0 {
			return fmt.Errorf("index %q has no columns", ti.Name)
		}
		switch strings.ToLower(ti.Kind) {
		case "", "btree":
			b.Index(ti.Name, ti.Columns...)
		case "unique":
			b.UniqueIndex(ti.Name, ti.Columns...)
		case "gin":
			if len(ti.Columns) != 1 {
				return fmt.Errorf("index %q: a gin index names exactly one jsonb column", ti.Name)
			}
			b.JsonbIndex(ti.Name, ti.Columns[0], ti.Paths...)
		default:
			return fmt.Errorf("index %q: unknown kind %q", ti.Name, ti.Kind)
		}
	}
	return nil
}
