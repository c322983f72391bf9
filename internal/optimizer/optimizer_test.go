package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

func productsSchema() *schema.TableDef {
	return &schema.TableDef{
		Name: "products",
		Columns: []*schema.ColumnDef{
			{Name: "id", Type: value.KindInt64, PrimaryKey: true},
			{Name: "category", Type: value.KindString},
			{Name: "price", Type: value.KindInt64},
		},
		PrimaryKey: []string{"id"},
		Indexes: []*schema.IndexDef{
			{Name: "products_category_idx", Kind: schema.BTree, Columns: []string{"category"}},
		},
	}
}

func documentsSchema() *schema.TableDef {
	return &schema.TableDef{
		Name: "documents",
		Columns: []*schema.ColumnDef{
			{Name: "id", Type: value.KindInt64, PrimaryKey: true},
			{Name: "metadata", Type: value.KindJsonb, Nullable: true},
		},
		PrimaryKey: []string{"id"},
		Indexes: []*schema.IndexDef{
			{Name: "documents_metadata_gin", Kind: schema.GIN, Columns: []string{"metadata"}},
		},
	}
}

func lookupFor(defs ...*schema.TableDef) SchemaLookup {
	m := make(map[string]*schema.TableDef, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return func(table string) *schema.TableDef { return m[table] }
}

func TestEqOnIndexedColumnBecomesIndexGet(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("category"), predicate.Literal{Value: value.String("Books")})).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	ig, ok := opt.(planner.IndexGet)
	require.True(t, ok)
	assert.Equal(t, "products_category_idx", ig.Index)
	assert.Equal(t, []value.Value{value.String("Books")}, ig.Key)
}

func TestEqOnPrimaryKeyBecomesIndexGet(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("id"), predicate.Literal{Value: value.Int64(42)})).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	ig, ok := opt.(planner.IndexGet)
	require.True(t, ok)
	assert.Equal(t, schema.PrimaryKeyIndexName, ig.Index)
	assert.Equal(t, []value.Value{value.Int64(42)}, ig.Key)
}

func TestInOnIndexedColumnBecomesIndexInGet(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.In{
			Expr: predicate.Column("category"),
			Values: []predicate.Expression{
				predicate.Literal{Value: value.String("Electronics")},
				predicate.Literal{Value: value.String("Books")},
				predicate.Literal{Value: value.String("Sports")},
			},
		}).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	ing, ok := opt.(planner.IndexInGet)
	require.True(t, ok)
	assert.Len(t, ing.Keys, 3)
}

func TestRangeComparisonBecomesIndexRangeScan(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.Gt(predicate.Column("category"), predicate.Literal{Value: value.String("B")})).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	rs, ok := opt.(planner.IndexRangeScan)
	require.True(t, ok)
	assert.Equal(t, []value.Value{value.String("B")}, rs.Low)
	assert.False(t, rs.LowIncl)
}

func TestFlippedComparisonOperandsStillMatch(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.Gt(predicate.Literal{Value: value.String("B")}, predicate.Column("category"))).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	rs, ok := opt.(planner.IndexRangeScan)
	require.True(t, ok)
	assert.Equal(t, []value.Value{value.String("B")}, rs.High)
	assert.False(t, rs.HighIncl)
}

func TestJsonbEqOnGinColumnBecomesGinIndexScan(t *testing.T) {
	n := planner.Select("documents").
		Where(predicate.JsonbEq{Expr: predicate.Column("metadata"), Path: "$.category", Target: value.String("tech")}).
		Build()
	opt := Optimize(n, lookupFor(documentsSchema()))

	scan, ok := opt.(planner.GinIndexScan)
	require.True(t, ok)
	assert.Equal(t, "$.category", scan.Path)
}

func TestGinAndCombinationBecomesMultiScan(t *testing.T) {
	n := planner.Select("documents").
		Where(predicate.JsonbEq{Expr: predicate.Column("metadata"), Path: "$.category", Target: value.String("tech")}).
		Where(predicate.JsonbEq{Expr: predicate.Column("metadata"), Path: "$.status", Target: value.String("published")}).
		Build()
	opt := Optimize(n, lookupFor(documentsSchema()))

	multi, ok := opt.(planner.GinIndexScanMulti)
	require.True(t, ok)
	assert.Len(t, multi.Pairs, 2)
}

func TestNonIndexedFilterIsKept(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("price"), predicate.Literal{Value: value.Int64(5)})).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	_, ok := opt.(planner.Filter)
	assert.True(t, ok)
}

func TestMixedIndexedAndResidualPredicateProducesResidualFilter(t *testing.T) {
	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("category"), predicate.Literal{Value: value.String("Books")})).
		Where(predicate.Gt(predicate.Column("price"), predicate.Literal{Value: value.Int64(10)})).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	rf, ok := opt.(planner.ResidualFilter)
	require.True(t, ok)
	_, isIndexGet := rf.Input.(planner.IndexGet)
	assert.True(t, isIndexGet)
}

func TestSortThenLimitBecomesTopK(t *testing.T) {
	n := planner.Select("products").
		OrderBy("price", planner.Desc).
		Limit(10).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	topk, ok := opt.(planner.TopK)
	require.True(t, ok)
	assert.Equal(t, 10, topk.N)
}

func TestSortLimitOffsetAccumulatesIntoTopKBudget(t *testing.T) {
	n := planner.Select("products").
		OrderBy("price", planner.Desc).
		Limit(10).
		Offset(5).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	off, ok := opt.(planner.Offset)
	require.True(t, ok)
	assert.Equal(t, 5, off.K)
	topk, ok := off.Input.(planner.TopK)
	require.True(t, ok)
	assert.Equal(t, 15, topk.N)
}

func TestProjectionPreservingSortKeyIsLeftInPlace(t *testing.T) {
	n := planner.Select("products").
		Project("id", "price").
		OrderBy("price", planner.Asc).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	sort, ok := opt.(planner.Sort)
	require.True(t, ok)
	_, isProject := sort.Input.(planner.Project)
	assert.True(t, isProject)
}

func TestProjectionDroppingSortKeyIsDeferred(t *testing.T) {
	n := planner.Select("products").
		Project("id").
		OrderBy("price", planner.Asc).
		Build()
	opt := Optimize(n, lookupFor(productsSchema()))

	proj, ok := opt.(planner.Project)
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, proj.Cols)
	sort, ok := proj.Input.(planner.Sort)
	require.True(t, ok)
	_, isScan := sort.Input.(planner.Scan)
	assert.True(t, isScan)
}
