package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/optimizer"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

type testCatalog struct {
	tables map[string]*rowstore.Table
	defs   map[string]*schema.TableDef
}

func newTestCatalog() *testCatalog {
	return &testCatalog{tables: map[string]*rowstore.Table{}, defs: map[string]*schema.TableDef{}}
}

func (c *testCatalog) Table(name string) *rowstore.Table { return c.tables[name] }

func (c *testCatalog) lookup(name string) *schema.TableDef { return c.defs[name] }

func (c *testCatalog) addTable(def *schema.TableDef) *rowstore.Table {
	t := rowstore.New(def)
	c.tables[def.Name] = t
	c.defs[def.Name] = def
	return t
}

func productsSchema() *schema.TableDef {
	return &schema.TableDef{
		Name: "products",
		Columns: []*schema.ColumnDef{
			{Name: "id", Type: value.KindInt64, PrimaryKey: true, AutoIncrement: true},
			{Name: "category", Type: value.KindString},
			{Name: "price", Type: value.KindInt64},
		},
		PrimaryKey: []string{"id"},
		Indexes: []*schema.IndexDef{
			{Name: "products_category_idx", Kind: schema.BTree, Columns: []string{"category"}},
		},
	}
}

func ordersSchema() *schema.TableDef {
	return &schema.TableDef{
		Name: "orders",
		Columns: []*schema.ColumnDef{
			{Name: "id", Type: value.KindInt64, PrimaryKey: true, AutoIncrement: true},
			{Name: "product_id", Type: value.KindInt64},
			{Name: "qty", Type: value.KindInt64},
		},
		PrimaryKey: []string{"id"},
	}
}

func run(t *testing.T, cat *testCatalog, n planner.Node) []rowstore.Row {
	t.Helper()
	opt := optimizer.Optimize(n, cat.lookup)
	rows, err := Rows(opt, cat)
	require.NoError(t, err)
	return rows
}

func TestScanReturnsAllRows(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
		{"category": value.String("Electronics"), "price": value.Int64(20)},
	})
	require.NoError(t, err)

	rows := run(t, cat, planner.Select("products").Build())
	assert.Len(t, rows, 2)
}

func TestFilterOnIndexedColumnUsesIndexGet(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
		{"category": value.String("Electronics"), "price": value.Int64(20)},
		{"category": value.String("Books"), "price": value.Int64(30)},
	})
	require.NoError(t, err)

	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("category"), predicate.Literal{Value: value.String("Books")})).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, value.String("Books"), r["category"])
	}
}

func TestFilterOnPrimaryKeyUsesIndexGet(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	ids, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
		{"category": value.String("Electronics"), "price": value.Int64(20)},
	})
	require.NoError(t, err)

	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("id"), predicate.Literal{Value: value.Int64(ids[1])})).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.Equal(t, value.String("Electronics"), rows[0]["category"])
}

func TestResidualFilterAppliesAfterIndexGet(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
		{"category": value.String("Books"), "price": value.Int64(30)},
	})
	require.NoError(t, err)

	n := planner.Select("products").
		Where(predicate.Eq(predicate.Column("category"), predicate.Literal{Value: value.String("Books")})).
		Where(predicate.Gt(predicate.Column("price"), predicate.Literal{Value: value.Int64(20)})).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Int64(30), rows[0]["price"])
}

func TestProjectNarrowsColumns(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{{"category": value.String("Books"), "price": value.Int64(10)}})
	require.NoError(t, err)

	n := planner.Select("products").Project("category").Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.Equal(t, value.String("Books"), rows[0]["category"])
	_, hasPrice := rows[0]["price"]
	assert.False(t, hasPrice)
}

func TestSortThenLimitReturnsTopKInOrder(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("A"), "price": value.Int64(5)},
		{"category": value.String("B"), "price": value.Int64(50)},
		{"category": value.String("C"), "price": value.Int64(20)},
		{"category": value.String("D"), "price": value.Int64(40)},
	})
	require.NoError(t, err)

	n := planner.Select("products").OrderBy("price", planner.Desc).Limit(2).Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 2)
	assert.Equal(t, value.Int64(50), rows[0]["price"])
	assert.Equal(t, value.Int64(40), rows[1]["price"])
}

func TestSortIsStableOnTies(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("first"), "price": value.Int64(10)},
		{"category": value.String("second"), "price": value.Int64(10)},
		{"category": value.String("third"), "price": value.Int64(10)},
	})
	require.NoError(t, err)

	n := planner.Select("products").OrderBy("price", planner.Asc).Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 3)
	assert.Equal(t, value.String("first"), rows[0]["category"])
	assert.Equal(t, value.String("second"), rows[1]["category"])
	assert.Equal(t, value.String("third"), rows[2]["category"])
}

func TestInnerJoinUsesIndexProbe(t *testing.T) {
	cat := newTestCatalog()
	products := cat.addTable(productsSchema())
	orders := cat.addTable(ordersSchema())
	ids, _, err := products.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
	})
	require.NoError(t, err)
	_, _, err = orders.InsertRows([]rowstore.Row{
		{"product_id": value.Int64(ids[0]), "qty": value.Int64(3)},
	})
	require.NoError(t, err)

	n := planner.Select("orders").
		InnerJoin("products", planner.JoinCondition{LeftCol: "product_id", RightCol: "id"}).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Int64(3), rows[0]["qty"])
	assert.Equal(t, value.String("Books"), rows[0]["category"])
}

func TestLeftOuterJoinPadsWithNull(t *testing.T) {
	cat := newTestCatalog()
	products := cat.addTable(productsSchema())
	orders := cat.addTable(ordersSchema())
	_, _, err := orders.InsertRows([]rowstore.Row{
		{"product_id": value.Int64(999), "qty": value.Int64(1)},
	})
	require.NoError(t, err)
	_ = products

	n := planner.Select("orders").
		LeftJoin("products", planner.JoinCondition{LeftCol: "product_id", RightCol: "id"}).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.True(t, rows[0]["category"].IsNull())
	assert.True(t, rows[0]["price"].IsNull())
}

func TestGroupByCountAndSum(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
		{"category": value.String("Books"), "price": value.Int64(30)},
		{"category": value.String("Electronics"), "price": value.Int64(100)},
	})
	require.NoError(t, err)

	n := planner.Select("products").
		GroupBy("category").
		Aggregate(planner.AggSpec{Kind: planner.AggCount, Alias: "n"}).
		Aggregate(planner.AggSpec{Kind: planner.AggSum, Column: "price", Alias: "total"}).
		Build()
	rows := run(t, cat, n)
	byCategory := make(map[string]rowstore.Row, len(rows))
	for _, r := range rows {
		byCategory[r["category"].String()] = r
	}
	require.Contains(t, byCategory, "Books")
	assert.Equal(t, value.Int64(2), byCategory["Books"]["n"])
	assert.Equal(t, value.Float64(40), byCategory["Books"]["total"])
	assert.Equal(t, value.Int64(1), byCategory["Electronics"]["n"])
}

func TestAggregateWithoutGroupByProducesOneRow(t *testing.T) {
	cat := newTestCatalog()
	tbl := cat.addTable(productsSchema())
	_, _, err := tbl.InsertRows([]rowstore.Row{
		{"category": value.String("Books"), "price": value.Int64(10)},
		{"category": value.String("Electronics"), "price": value.Int64(20)},
	})
	require.NoError(t, err)

	n := planner.Select("products").
		Aggregate(planner.AggSpec{Kind: planner.AggCount, Alias: "n"}).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Int64(2), rows[0]["n"])
}

func TestAggregateOverEmptyTableStillReturnsOneRow(t *testing.T) {
	cat := newTestCatalog()
	cat.addTable(productsSchema())

	n := planner.Select("products").
		Aggregate(planner.AggSpec{Kind: planner.AggCount, Alias: "n"}).
		Build()
	rows := run(t, cat, n)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Int64(0), rows[0]["n"])
}
