// Package parity cross-checks a curated set of reactivedb queries
// against a real MySQL server, so a host can trust that reactivedb's
// SELECT semantics (filtering, ordering, limiting) agree
// with the relational engine it is meant to stand in for. It is test
// tooling, not a dependency of the engine itself; nothing under
// internal/engine imports this package.
package parity

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/reactivedb/reactivedb/internal/engine"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Row is one result row, decoded into plain Go values so it can be
// compared regardless of which engine produced it.
type Row map[string]any

// FetchMySQL runs query against db and decodes every row into a Row,
// using driver-reported column names as keys.
func FetchMySQL(ctx context.Context, db *sql.DB, query string, args ...any) ([]Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("parity: query mysql: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("parity: columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		scanDest := make([]any, len(cols))
		scanBuf := make([]sql.RawBytes, len(cols))
		for i := range scanDest {
			scanDest[i] = &scanBuf[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, fmt.Errorf("parity: scan: %w", err)
		}
		r := make(Row, len(cols))
		for i, col := range cols {
			if scanBuf[i] == nil {
				r[col] = nil
				continue
			}
			r[col] = string(scanBuf[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchReactiveDB runs a reactivedb select and decodes every row into a
// Row, formatting values the same way FetchMySQL's text-protocol scan
// would, so the two result sets compare equal with plain reflect.DeepEqual
// once independently sorted.
func FetchReactiveDB(rows []rowstore.Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		row := make(Row, len(r))
		for col, v := range r {
			row[col] = formatValue(v)
		}
		out[i] = row
	}
	return out
}

func formatValue(v value.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case value.KindBoolean:
		b, _ := v.AsBool()
		if b {
			return "1"
		}
		return "0"
	case value.KindInt32:
		i, _ := v.AsInt32()
		return fmt.Sprintf("%d", i)
	case value.KindInt64:
		i, _ := v.AsInt64()
		return fmt.Sprintf("%d", i)
	case value.KindFloat64:
		f, _ := v.AsFloat64()
		return fmt.Sprintf("%g", f)
	case value.KindString:
		s, _ := v.AsString()
		return s
	default:
		return v.String()
	}
}

// SortRows orders rows deterministically by the string form of every
// named column, so two independently produced result sets with the
// same rows in different orders compare equal.
func SortRows(rows []Row, cols ...string) {
	sort.Slice(rows, func(i, j int) bool {
		for _, c := range cols {
			a, b := fmt.Sprint(rows[i][c]), fmt.Sprint(rows[j][c])
			if a != b {
				return a < b
			}
		}
		return false
	})
}

// CreateTableDDL renders a minimal MySQL CREATE TABLE statement for the
// same fixture users table a parity test registers against reactivedb,
// so both engines start from an identical schema.
func CreateTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		age INT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`, table)
}

// NewUsersDatabase builds the reactivedb side of the fixture: a "users"
// table matching CreateTableDDL's columns.
func NewUsersDatabase() (*engine.Database, error) {
	db := engine.New("parity")
	b := db.CreateTable("users").
		Column("id", value.KindInt64, engine.ColumnOptions{PrimaryKey: true, AutoIncrement: true}).
		Column("name", value.KindString, engine.ColumnOptions{}).
		Column("age", value.KindInt32, engine.ColumnOptions{Nullable: true}).
		Column("active", value.KindBoolean, engine.ColumnOptions{})
	if err := db.RegisterTable(b); err != nil {
		return nil, err
	}
	return db, nil
}

// InsertStatement renders a MySQL multi-row INSERT for the same values a
// parity test inserts into reactivedb's side of the fixture.
func InsertStatement(table string, rows []map[string]any, cols []string) (string, []any) {
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		ph := make([]string, len(cols))
		for j, c := range cols {
			ph[j] = "?"
			args = append(args, r[c])
		}
		placeholders[i] = "(" + strings.Join(ph, ", ") + ")"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return stmt, args
}
