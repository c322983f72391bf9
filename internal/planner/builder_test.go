package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/value"
)

func TestBuildScanOnly(t *testing.T) {
	n := Select("products").Build()
	scan, ok := n.(Scan)
	require.True(t, ok)
	assert.Equal(t, "products", scan.Table)
}

func TestMultipleWhereCallsAndCombine(t *testing.T) {
	p1 := predicate.Eq(predicate.Column("category"), predicate.Literal{Value: value.String("Books")})
	p2 := predicate.Gt(predicate.Column("price"), predicate.Literal{Value: value.Int64(10)})
	n := Select("products").Where(p1).Where(p2).Build()

	filter, ok := n.(Filter)
	require.True(t, ok)
	and, ok := filter.Pred.(predicate.And)
	require.True(t, ok)
	assert.Len(t, and, 2)
}

func TestSingleWhereIsNotWrappedInAnd(t *testing.T) {
	p1 := predicate.Eq(predicate.Column("category"), predicate.Literal{Value: value.String("Books")})
	n := Select("products").Where(p1).Build()
	filter := n.(Filter)
	_, isAnd := filter.Pred.(predicate.And)
	assert.False(t, isAnd)
}

func TestFullNodeOrder(t *testing.T) {
	n := Select("employees").
		Where(predicate.IsNotNull{Expr: predicate.Column("dept_id")}).
		LeftJoin("departments", JoinCondition{LeftCol: "dept_id", RightCol: "id"}).
		GroupBy("dept_id").
		Aggregate(AggSpec{Kind: AggCount, Alias: "n"}).
		Project("dept_id", "n").
		OrderBy("n", Desc).
		Limit(5).
		Offset(1).
		Build()

	offset, ok := n.(Offset)
	require.True(t, ok)
	assert.Equal(t, 1, offset.K)

	limit, ok := offset.Input.(Limit)
	require.True(t, ok)
	assert.Equal(t, 5, limit.N)

	sort, ok := limit.Input.(Sort)
	require.True(t, ok)
	assert.Equal(t, "n", sort.Keys[0].Column)

	project, ok := sort.Input.(Project)
	require.True(t, ok)
	assert.Equal(t, []string{"dept_id", "n"}, project.Cols)

	agg, ok := project.Input.(Aggregate)
	require.True(t, ok)
	require.NotNil(t, agg.Group)
	assert.Equal(t, []string{"dept_id"}, agg.Group.Cols)

	join, ok := agg.Group.Input.(Join)
	require.True(t, ok)
	assert.Equal(t, LeftOuterJoin, join.Kind)
	assert.Equal(t, "departments", join.Right)

	_, ok = join.Input.(Filter)
	require.True(t, ok)
}

func TestDependenciesCollectsScanAndJoinTargets(t *testing.T) {
	n := Select("employees").
		LeftJoin("departments", JoinCondition{LeftCol: "dept_id", RightCol: "id"}).
		Build()
	deps := Dependencies(n)
	assert.ElementsMatch(t, []string{"employees", "departments"}, deps)
}
