package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/reactivedb/reactivedb/internal/codec"
	"github.com/reactivedb/reactivedb/internal/executor"
	"github.com/reactivedb/reactivedb/internal/optimizer"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/reactive/ivm"
	"github.com/reactivedb/reactivedb/internal/reactive/requery"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

// SelectBuilder accumulates a query's shape one fluent call at a time:
// select(cols...) names the projected output columns up front, From
// binds the source table and materializes the underlying
// planner.SelectBuilder, then exec/observe/changes/trace each
// materialize the accumulated calls into a plan and run it their own way.
type SelectBuilder struct {
	db      *Database
	table   string
	project []string
	pb      *planner.SelectBuilder
}

// Select starts a query projecting cols (empty means every column).
// Call From to bind the source table before anything else.
func (d *Database) Select(cols ...string) *SelectBuilder {
	return &SelectBuilder{db: d, project: cols}
}

// From binds the query's source table.
func (b *SelectBuilder) From(table string) *SelectBuilder {
	b.table = table
	b.pb = planner.Select(table)
	if len(b.project) > 0 {
		b.pb.Project(b.project...)
	}
	return b
}

func (b *SelectBuilder) Where(p predicate.Predicate) *SelectBuilder {
	b.pb.Where(p)
	return b
}

func (b *SelectBuilder) InnerJoin(right string, cond planner.JoinCondition) *SelectBuilder {
	b.pb.InnerJoin(right, cond)
	return b
}

func (b *SelectBuilder) LeftJoin(right string, cond planner.JoinCondition) *SelectBuilder {
	b.pb.LeftJoin(right, cond)
	return b
}

func (b *SelectBuilder) GroupBy(cols ...string) *SelectBuilder {
	b.pb.GroupBy(cols...)
	return b
}

func (b *SelectBuilder) agg(kind planner.AggKind, column, alias string) *SelectBuilder {
	b.pb.Aggregate(planner.AggSpec{Kind: kind, Column: column, Alias: alias})
	return b
}

func (b *SelectBuilder) Count(alias string) *SelectBuilder             { return b.agg(planner.AggCount, "", alias) }
func (b *SelectBuilder) CountCol(col, alias string) *SelectBuilder     { return b.agg(planner.AggCountCol, col, alias) }
func (b *SelectBuilder) Sum(col, alias string) *SelectBuilder          { return b.agg(planner.AggSum, col, alias) }
func (b *SelectBuilder) Avg(col, alias string) *SelectBuilder          { return b.agg(planner.AggAvg, col, alias) }
func (b *SelectBuilder) Min(col, alias string) *SelectBuilder          { return b.agg(planner.AggMin, col, alias) }
func (b *SelectBuilder) Max(col, alias string) *SelectBuilder          { return b.agg(planner.AggMax, col, alias) }
func (b *SelectBuilder) Stddev(col, alias string) *SelectBuilder       { return b.agg(planner.AggStddev, col, alias) }
func (b *SelectBuilder) Geomean(col, alias string) *SelectBuilder      { return b.agg(planner.AggGeomean, col, alias) }
func (b *SelectBuilder) Distinct(col, alias string) *SelectBuilder     { return b.agg(planner.AggDistinct, col, alias) }

func (b *SelectBuilder) OrderBy(col string, order planner.SortOrder) *SelectBuilder {
	b.pb.OrderBy(col, order)
	return b
}

func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.pb.Limit(n)
	return b
}

func (b *SelectBuilder) Offset(k int) *SelectBuilder {
	b.pb.Offset(k)
	return b
}

func (b *SelectBuilder) logicalPlan() planner.Node { return b.pb.Build() }

func (b *SelectBuilder) optimizedPlan() planner.Node {
	return optimizer.Optimize(b.logicalPlan(), b.db.schemaLookup)
}

// Exec runs the query once against the current data and returns its
// result rows.
func (b *SelectBuilder) Exec() ([]rowstore.Row, error) {
	return executor.Rows(b.optimizedPlan(), b.db)
}

// ExecBinary runs the query and encodes its result via internal/codec,
// returning the buffer alongside the layout used to produce it.
func (b *SelectBuilder) ExecBinary() ([]byte, *codec.SchemaLayout, error) {
	rows, err := b.Exec()
	if err != nil {
		return nil, nil, err
	}
	layout := deriveLayout(rows)
	return codec.Encode(rows, layout), layout, nil
}

// GetSchemaLayout runs the query and returns only the layout a caller
// would need to decode a matching ExecBinary buffer.
func (b *SelectBuilder) GetSchemaLayout() (*codec.SchemaLayout, error) {
	rows, err := b.Exec()
	if err != nil {
		return nil, err
	}
	return deriveLayout(rows), nil
}

// ExplainResult is the plan at each pipeline stage. This executor has no
// separate physical-lowering stage beyond the optimizer's index
// rewrites, so Physical mirrors Optimized.
type ExplainResult struct {
	Logical   string
	Optimized string
	Physical  string
}

// Explain describes the query's logical plan, the optimizer's rewrite of
// it, and the physical form the executor actually runs.
func (b *SelectBuilder) Explain() ExplainResult {
	logical := b.logicalPlan()
	optimized := b.optimizedPlan()
	return ExplainResult{
		Logical:   describePlan(logical),
		Optimized: describePlan(optimized),
		Physical:  describePlan(optimized),
	}
}

// Observe returns a re-query observer: it recomputes the whole plan on
// each dependency flush and only notifies when the result actually
// changed. The caller's first callback fires on the next mutation, not
// synchronously.
func (b *SelectBuilder) Observe() (*Observer, error) {
	deps := planner.Dependencies(b.logicalPlan())
	q, err := requery.New(b.optimizedPlan(), deps, b.db)
	if err != nil {
		return nil, err
	}
	sub := b.db.bus.Subscribe(q)
	return &Observer{id: uuid.New(), query: q, busSub: sub}, nil
}

// Changes returns a re-query observer whose Subscribe, like
// requery.ModeChanges, emits the current snapshot synchronously at
// subscribe time, then behaves exactly like Observe's stream.
func (b *SelectBuilder) Changes() (*ChangesStream, error) {
	deps := planner.Dependencies(b.logicalPlan())
	q, err := requery.New(b.optimizedPlan(), deps, b.db)
	if err != nil {
		return nil, err
	}
	sub := b.db.bus.Subscribe(q)
	return &ChangesStream{id: uuid.New(), query: q, busSub: sub}, nil
}

// Trace compiles the query into an incremental Z-set dataflow,
// maintaining its output on each touched delta instead of recomputing
// from scratch. It returns the "plan" error kind when the plan contains
// a Sort/Limit/Offset/TopK anywhere, since those can't be maintained
// incrementally, directing the caller to Observe/Changes instead.
func (b *SelectBuilder) Trace() (*IvmObserver, error) {
	df, err := ivm.Compile(b.logicalPlan(), b.db)
	if err != nil {
		if errors.Is(err, ivm.ErrNotIncrementalizable) {
			return nil, &schema.Error{Kind: "plan", Table: b.table, Message: "trace(): " + err.Error() + ", use observe() or changes() instead"}
		}
		return nil, err
	}
	sub := b.db.bus.Subscribe(df)
	return &IvmObserver{id: uuid.New(), df: df, busSub: sub}, nil
}

// deriveLayout sniffs a stable column layout from a result set: the
// union of column names across all rows, sorted for determinism, each
// typed by the first non-null value observed for it (falling back to
// String for an all-null or empty column). There is no static schema to
// consult here: a query's projection can span several tables, rename
// columns, or compute aggregates with no source column at all, so the
// layout is derived from the shape actually produced, the same shape
// every call against unchanged data reproduces.
func deriveLayout(rows []rowstore.Row) *codec.SchemaLayout {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				names = append(names, c)
			}
		}
	}
	sort.Strings(names)

	cols := make([]*schema.ColumnDef, len(names))
	for i, name := range names {
		kind := value.KindString
		typed := false
		nullable := false
		for _, r := range rows {
			v, ok := r[name]
			if !ok || v.IsNull() {
				nullable = true
				continue
			}
			if !typed {
				kind = v.Kind()
				typed = true
			}
		}
		cols[i] = &schema.ColumnDef{Name: name, Type: kind, Nullable: nullable}
	}
	return codec.NewSchemaLayout(cols)
}

func describePlan(n planner.Node) string {
	switch v := n.(type) {
	case planner.Scan:
		return fmt.Sprintf("Scan(%s)", v.Table)
	case planner.IndexGet:
		return fmt.Sprintf("IndexGet(%s.%s, key=%v)", v.Table, v.Index, v.Key)
	case planner.IndexRangeScan:
		return fmt.Sprintf("IndexRangeScan(%s.%s, [%v,%v])", v.Table, v.Index, v.Low, v.High)
	case planner.IndexInGet:
		return fmt.Sprintf("IndexInGet(%s.%s, keys=%v)", v.Table, v.Index, v.Keys)
	case planner.GinIndexScan:
		return fmt.Sprintf("GinIndexScan(%s.%s)", v.Table, v.Index)
	case planner.GinIndexScanMulti:
		return fmt.Sprintf("GinIndexScanMulti(%s.%s)", v.Table, v.Index)
	case planner.ResidualFilter:
		return fmt.Sprintf("ResidualFilter(%v) -> %s", v.Pred, describePlan(v.Input))
	case planner.Filter:
		return fmt.Sprintf("Filter(%v) -> %s", v.Pred, describePlan(v.Input))
	case planner.Join:
		kind := "InnerJoin"
		if v.Kind == planner.LeftOuterJoin {
			kind = "LeftOuterJoin"
		}
		return fmt.Sprintf("%s(%s on %s=%s) -> %s", kind, v.Right, v.Cond.LeftCol, v.Cond.RightCol, describePlan(v.Input))
	case planner.GroupBy:
		return fmt.Sprintf("GroupBy(%v) -> %s", v.Cols, describePlan(v.Input))
	case planner.Aggregate:
		return fmt.Sprintf("Aggregate(%v) -> %s", v.Aggs, describePlan(v.Input))
	case planner.Project:
		return fmt.Sprintf("Project(%v) -> %s", v.Cols, describePlan(v.Input))
	case planner.Sort:
		return fmt.Sprintf("Sort(%v) -> %s", v.Keys, describePlan(v.Input))
	case planner.Limit:
		return fmt.Sprintf("Limit(%d) -> %s", v.N, describePlan(v.Input))
	case planner.Offset:
		return fmt.Sprintf("Offset(%d) -> %s", v.K, describePlan(v.Input))
	case planner.TopK:
		return fmt.Sprintf("TopK(%d, %v) -> %s", v.N, v.Keys, describePlan(v.Input))
	default:
		return fmt.Sprintf("%T", n)
	}
}
