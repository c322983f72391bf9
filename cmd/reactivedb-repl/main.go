// Package main is a cobra-based manual smoke-test driver for the
// embeddable engine: point it at a TOML schema and an optional JSON
// fixture file, name one table and an optional filter, and it prints the
// decoded rows a SELECT against that table would return.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reactivedb/reactivedb/internal/config"
	"github.com/reactivedb/reactivedb/internal/engine"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

type queryFlags struct {
	dbName      string
	schemaFile  string
	fixtureFile string
	table       string
	columns     string
	whereCol    string
	whereOp     string
	whereValue  string
	orderBy     string
	desc        bool
	limit       int
	explain     bool
}

func main() {
	flags := &queryFlags{}
	root := &cobra.Command{
		Use:   "reactivedb-repl",
		Short: "Load a schema and fixture data, run one query, print the result",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(flags)
		},
	}

	root.Flags().StringVar(&flags.dbName, "name", "repl", "database name")
	root.Flags().StringVar(&flags.schemaFile, "schema", "", "path to a TOML schema document (required)")
	root.Flags().StringVar(&flags.fixtureFile, "fixture", "", "path to a JSON fixture file: {\"table\": [{\"col\": value, ...}, ...]}")
	root.Flags().StringVar(&flags.table, "table", "", "table to query (required)")
	root.Flags().StringVar(&flags.columns, "columns", "", "comma-separated projected columns (default: every column)")
	root.Flags().StringVar(&flags.whereCol, "where-col", "", "column to filter on")
	root.Flags().StringVar(&flags.whereOp, "where-op", "eq", "filter operator: eq, ne, lt, lte, gt, gte")
	root.Flags().StringVar(&flags.whereValue, "where-value", "", "literal value to compare --where-col against")
	root.Flags().StringVar(&flags.orderBy, "order-by", "", "column to sort by")
	root.Flags().BoolVar(&flags.desc, "desc", false, "sort descending instead of ascending")
	root.Flags().IntVar(&flags.limit, "limit", 0, "maximum rows to return (0 means unlimited)")
	root.Flags().BoolVar(&flags.explain, "explain", false, "print the query plan instead of executing it")
	_ = root.MarkFlagRequired("schema")
	_ = root.MarkFlagRequired("table")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *queryFlags) error {
	db := engine.New(flags.dbName)
	if err := config.LoadFile(db, flags.schemaFile); err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	if flags.fixtureFile != "" {
		if err := loadFixture(db, flags.fixtureFile); err != nil {
			return fmt.Errorf("loading fixture: %w", err)
		}
	}

	if !db.HasTable(flags.table) {
		return fmt.Errorf("undefined table %q", flags.table)
	}

	var cols []string
	if flags.columns != "" {
		cols = strings.Split(flags.columns, ",")
	}
	q := db.Select(cols...).From(flags.table)

	if flags.whereCol != "" {
		pred, err := whereClause(flags.whereCol, flags.whereOp, flags.whereValue, db.Table(flags.table).Schema)
		if err != nil {
			return err
		}
		q = q.Where(pred)
	}
	if flags.orderBy != "" {
		order := planner.Asc
		if flags.desc {
			order = planner.Desc
		}
		q = q.OrderBy(flags.orderBy, order)
	}
	if flags.limit > 0 {
		q = q.Limit(flags.limit)
	}

	if flags.explain {
		plan := q.Explain()
		fmt.Printf("logical:   %s\noptimized: %s\nphysical:  %s\n", plan.Logical, plan.Optimized, plan.Physical)
		return nil
	}

	rows, err := q.Exec()
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}
	return printRows(rows)
}

func printRows(rows []rowstore.Row) error {
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		parts := make([]string, len(cols))
		for i, col := range cols {
			parts[i] = fmt.Sprintf("%s=%s", col, row[col].String())
		}
		fmt.Println(strings.Join(parts, " "))
	}
	return nil
}

func loadFixture(db *engine.Database, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode fixture JSON: %w", err)
	}
	for table, rows := range doc {
		if !db.HasTable(table) {
			return fmt.Errorf("fixture names undefined table %q", table)
		}
		def := db.Table(table).Schema
		converted := make([]map[string]value.Value, len(rows))
		for i, raw := range rows {
			converted[i], err = convertRow(def, raw)
			if err != nil {
				return fmt.Errorf("table %q row %d: %w", table, i, err)
			}
		}
		if len(converted) == 0 {
			continue
		}
		if _, err := db.Insert(table).Rows(converted...).Exec(); err != nil {
			return fmt.Errorf("inserting fixture rows into %q: %w", table, err)
		}
	}
	return nil
}

func convertRow(def *schema.TableDef, raw map[string]any) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(raw))
	for col, v := range raw {
		kind, ok := columnKind(def, col)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", col)
		}
		cv, err := jsonToValue(kind, v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = cv
	}
	return out, nil
}

func columnKind(def *schema.TableDef, col string) (value.Kind, bool) {
	for _, c := range def.Columns {
		if c.Name == col {
			return c.Type, true
		}
	}
	return 0, false
}

func jsonToValue(kind value.Kind, raw any) (value.Value, error) {
	if raw == nil {
		return value.Null(), nil
	}
	switch kind {
	case value.KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return value.Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return value.Bool(b), nil
	case value.KindInt32:
		f, ok := raw.(float64)
		if !ok {
			return value.Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		return value.Int32(int32(f)), nil
	case value.KindInt64:
		f, ok := raw.(float64)
		if !ok {
			return value.Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		return value.Int64(int64(f)), nil
	case value.KindFloat64:
		f, ok := raw.(float64)
		if !ok {
			return value.Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		return value.Float64(f), nil
	case value.KindDateTime:
		f, ok := raw.(float64)
		if !ok {
			return value.Value{}, fmt.Errorf("expected epoch-millisecond number, got %T", raw)
		}
		return value.DateTime(int64(f)), nil
	case value.KindString:
		s, ok := raw.(string)
		if !ok {
			return value.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return value.String(s), nil
	default:
		return value.Value{}, fmt.Errorf("fixture loading does not support column kind %s", kind)
	}
}

func whereClause(col, op, raw string, def *schema.TableDef) (predicate.Predicate, error) {
	kind, ok := columnKind(def, col)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", col)
	}
	v, err := literalFromString(kind, raw)
	if err != nil {
		return nil, fmt.Errorf("--where-value: %w", err)
	}
	lhs := engine.Col(col)
	rhs := engine.Lit(v)
	switch op {
	case "eq":
		return lhs.Eq(rhs), nil
	case "ne":
		return lhs.Ne(rhs), nil
	case "lt":
		return lhs.Lt(rhs), nil
	case "lte":
		return lhs.Lte(rhs), nil
	case "gt":
		return lhs.Gt(rhs), nil
	case "gte":
		return lhs.Gte(rhs), nil
	default:
		return nil, fmt.Errorf("unknown --where-op %q", op)
	}
}

func literalFromString(kind value.Kind, raw string) (value.Value, error) {
	switch kind {
	case value.KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b), nil
	case value.KindInt32:
		i, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int32(int32(i)), nil
	case value.KindInt64, value.KindDateTime:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return value.Value{}, err
		}
		if kind == value.KindDateTime {
			return value.DateTime(i), nil
		}
		return value.Int64(i), nil
	case value.KindFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float64(f), nil
	case value.KindString:
		return value.String(raw), nil
	default:
		return value.Value{}, fmt.Errorf("--where-col of kind %s is not supported by this CLI", kind)
	}
}
