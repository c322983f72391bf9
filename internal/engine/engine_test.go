package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/changebus"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

// countingObserver counts how many times OnFlush is called, to assert the
// write-path batching behavior directly against the change bus.
type countingObserver struct {
	deps  []string
	calls int
}

func (o *countingObserver) Dependencies() []string { return o.deps }
func (o *countingObserver) OnFlush(changes map[string][]changebus.Delta) {
	o.calls++
}

func newUsersDB(t *testing.T) *Database {
	t.Helper()
	db := New("test")
	err := db.RegisterTable(db.CreateTable("users").
		Column("id", value.KindInt64, ColumnOptions{PrimaryKey: true, AutoIncrement: true}).
		Column("name", value.KindString, ColumnOptions{}).
		Column("age", value.KindInt32, ColumnOptions{Nullable: true}).
		UniqueIndex("users_name_unique", "name"))
	require.NoError(t, err)
	return db
}

func TestRegisterTableRejectsDuplicateName(t *testing.T) {
	db := newUsersDB(t)
	err := db.RegisterTable(db.CreateTable("users").
		Column("id", value.KindInt64, ColumnOptions{PrimaryKey: true, AutoIncrement: true}))
	require.Error(t, err)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "schema", serr.Kind)
}

func TestRegisterTableRejectsInvalidDefinition(t *testing.T) {
	db := New("test")
	err := db.RegisterTable(db.CreateTable("broken"))
	require.Error(t, err)
}

func TestJsonbIndexAllowsGinOverJsonbColumn(t *testing.T) {
	db := New("test")
	err := db.RegisterTable(db.CreateTable("docs").
		Column("id", value.KindInt64, ColumnOptions{PrimaryKey: true, AutoIncrement: true}).
		Column("body", value.KindJsonb, ColumnOptions{Nullable: true}).
		JsonbIndex("docs_body_gin", "body"))
	require.NoError(t, err)
}

func TestInsertBuilderExec(t *testing.T) {
	db := newUsersDB(t)
	ids, err := db.Insert("users").
		Row(map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)}).
		Row(map[string]value.Value{"name": value.String("bob"), "age": value.Int32(40)}).
		Exec()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, 2, db.Table("users").RowCount())
}

func TestInsertBuilderUndefinedTable(t *testing.T) {
	db := newUsersDB(t)
	_, err := db.Insert("ghosts").Row(map[string]value.Value{"name": value.String("x")}).Exec()
	require.Error(t, err)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "schema", serr.Kind)
}

func TestUpdateAndDeleteBuilders(t *testing.T) {
	db := newUsersDB(t)
	_, err := db.Insert("users").
		Row(map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)}).
		Row(map[string]value.Value{"name": value.String("bob"), "age": value.Int32(40)}).
		Exec()
	require.NoError(t, err)

	n, err := db.Update("users").Where(Col("name").Eq(Lit(value.String("alice")))).Set("age", value.Int32(31)).Exec()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := db.Select().From("users").Where(Col("name").Eq(Lit(value.String("alice")))).Exec()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	age, ok := rows[0]["age"].AsInt32()
	require.True(t, ok)
	assert.EqualValues(t, 31, age)

	deleted, err := db.Delete("users").Where(Col("name").Eq(Lit(value.String("bob")))).Exec()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, db.Table("users").RowCount())
}

func TestWriteBatchCoalescesIntoSingleNotification(t *testing.T) {
	db := newUsersDB(t)
	obs := &countingObserver{deps: []string{"users"}}
	db.bus.Subscribe(obs)

	_, err := db.Insert("users").
		Rows(
			map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)},
			map[string]value.Value{"name": value.String("bob"), "age": value.Int32(40)},
			map[string]value.Value{"name": value.String("carol"), "age": value.Int32(50)},
		).Exec()
	require.NoError(t, err)

	assert.Equal(t, 1, obs.calls, "a single Exec flushes once regardless of how many rows it wrote")
}

func TestSelectExecWithFilterAndProjection(t *testing.T) {
	db := newUsersDB(t)
	_, err := db.Insert("users").
		Rows(
			map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)},
			map[string]value.Value{"name": value.String("bob"), "age": value.Int32(40)},
			map[string]value.Value{"name": value.String("carol"), "age": value.Int32(50)},
		).Exec()
	require.NoError(t, err)

	rows, err := db.Select("name").From("users").
		Where(Col("age").Gt(Lit(value.Int32(35)))).
		OrderBy("name", planner.Asc).
		Exec()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	names := []string{}
	for _, r := range rows {
		s, _ := r["name"].AsString()
		names = append(names, s)
	}
	assert.Equal(t, []string{"bob", "carol"}, names)
}

func TestSelectExplainReflectsFilterAndScan(t *testing.T) {
	db := newUsersDB(t)
	ex := db.Select().From("users").Where(Col("name").Eq(Lit(value.String("alice")))).Explain()
	assert.Contains(t, ex.Logical, "Filter(")
	assert.Contains(t, ex.Logical, "Scan(users)")
	assert.Equal(t, ex.Optimized, ex.Physical)
}

func TestSelectBinaryRoundTrip(t *testing.T) {
	db := newUsersDB(t)
	_, err := db.Insert("users").
		Row(map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)}).
		Exec()
	require.NoError(t, err)

	buf, layout, err := db.Select().From("users").ExecBinary()
	require.NoError(t, err)
	assert.NotEmpty(t, buf)
	assert.NotNil(t, layout)

	layout2, err := db.Select().From("users").GetSchemaLayout()
	require.NoError(t, err)
	assert.Equal(t, layout, layout2)
}

func TestTransactionStagedWritesAreInvisibleToDatabaseReadsUntilCommit(t *testing.T) {
	db := newUsersDB(t)
	tx := db.Transaction()
	_, err := tx.Insert("users", []map[string]value.Value{
		{"name": value.String("alice"), "age": value.Int32(30)},
	})
	require.NoError(t, err)

	rows, err := db.Select().From("users").Exec()
	require.NoError(t, err)
	assert.Empty(t, rows, "the base store is untouched until Commit replays the staging buffer onto it")

	require.NoError(t, tx.Commit())
	assert.Equal(t, "committed", tx.State())

	rows, err = db.Select().From("users").Exec()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTransactionLaterOpsSeeEarlierStagedOpsInOrder(t *testing.T) {
	db := newUsersDB(t)
	tx := db.Transaction()
	ids, err := tx.Insert("users", []map[string]value.Value{
		{"name": value.String("alice"), "age": value.Int32(30)},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// The update targets a row this same transaction just staged for
	// insertion; it must resolve against the staging buffer, not the
	// (still empty) base store.
	n, err := tx.Update("users", Col("name").Eq(Lit(value.String("alice"))), map[string]value.Value{"age": value.Int32(31)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, tx.Commit())

	rows, err := db.Select().From("users").Exec()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	age, _ := rows[0]["age"].AsInt32()
	assert.EqualValues(t, 31, age, "the staged update applied before the staged insert was ever replayed")
}

func TestTransactionRollbackDiscardsStagingBufferUnreplayed(t *testing.T) {
	db := newUsersDB(t)
	tx := db.Transaction()
	_, err := tx.Insert("users", []map[string]value.Value{
		{"name": value.String("alice"), "age": value.Int32(30)},
	})
	require.NoError(t, err)

	require.NoError(t, tx.Rollback())
	assert.Equal(t, "rolled_back", tx.State())
	assert.Equal(t, 0, db.Table("users").RowCount(), "nothing was ever applied to the base store")
}

func TestTransactionRollbackLeavesPreBeginStateOfExistingRows(t *testing.T) {
	db := newUsersDB(t)
	_, err := db.Insert("users").
		Row(map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)}).
		Row(map[string]value.Value{"name": value.String("bob"), "age": value.Int32(40)}).
		Exec()
	require.NoError(t, err)

	tx := db.Transaction()
	_, err = tx.Update("users", Col("name").Eq(Lit(value.String("alice"))), map[string]value.Value{"age": value.Int32(99)})
	require.NoError(t, err)
	_, err = tx.Delete("users", Col("name").Eq(Lit(value.String("bob"))))
	require.NoError(t, err)

	require.NoError(t, tx.Rollback())

	rows, err := db.Select().From("users").Where(Col("name").Eq(Lit(value.String("alice")))).Exec()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	age, _ := rows[0]["age"].AsInt32()
	assert.EqualValues(t, 30, age, "the staged update never touched the base store")

	count := db.Table("users").RowCount()
	assert.Equal(t, 2, count, "the staged delete never touched the base store")
}

func TestTransactionRejectsOperationsAfterCompletion(t *testing.T) {
	db := newUsersDB(t)
	tx := db.Transaction()
	require.NoError(t, tx.Commit())

	_, err := tx.Insert("users", []map[string]value.Value{{"name": value.String("x")}})
	require.Error(t, err)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "transaction", serr.Kind)
}

func TestTraceRejectsNonIncrementalizablePlan(t *testing.T) {
	db := newUsersDB(t)
	_, err := db.Insert("users").
		Row(map[string]value.Value{"name": value.String("alice"), "age": value.Int32(30)}).
		Exec()
	require.NoError(t, err)

	_, err = db.Select().From("users").OrderBy("age", planner.Desc).Limit(1).Trace()
	require.Error(t, err)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "plan", serr.Kind)
}

func TestObserveFiresOnSubsequentMutationOnly(t *testing.T) {
	db := newUsersDB(t)
	obs, err := db.Select().From("users").Observe()
	require.NoError(t, err)
	assert.True(t, obs.IsEmpty())
	assert.NotEmpty(t, obs.ID())

	calls := 0
	var lastResult []rowstore.Row
	obs.Subscribe(func(rows []rowstore.Row) {
		calls++
		lastResult = rows
	})
	assert.Equal(t, 0, calls, "subscribing with ModeObserve fires no callback synchronously")

	_, err = db.Insert("users").Row(map[string]value.Value{"name": value.String("alice"), "age": value.Int32(1)}).Exec()
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Len(t, lastResult, 1)
	assert.Equal(t, 1, obs.Length())
}

func TestExprBuildsExpectedPredicateTrees(t *testing.T) {
	p := And(
		Col("age").Gte(Lit(value.Int32(18))),
		Or(Col("name").Eq(Lit(value.String("alice"))), Col("name").Eq(Lit(value.String("bob")))),
		Not(Col("age").IsNull()),
	)
	require.NotNil(t, p)

	row := predicate.Row{"age": value.Int32(25), "name": value.String("alice")}
	assert.True(t, p.Eval(row))
}
