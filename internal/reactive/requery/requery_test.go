package requery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/changebus"
	"github.com/reactivedb/reactivedb/internal/optimizer"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

type testCatalog struct {
	tables map[string]*rowstore.Table
}

func (c *testCatalog) Table(name string) *rowstore.Table { return c.tables[name] }

func usersSchema() *schema.TableDef {
	return &schema.TableDef{
		Name: "users",
		Columns: []*schema.ColumnDef{
			{Name: "id", Type: value.KindInt64, PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: value.KindString},
		},
		PrimaryKey: []string{"id"},
	}
}

func newCatalog() (*testCatalog, *rowstore.Table) {
	tbl := rowstore.New(usersSchema())
	return &testCatalog{tables: map[string]*rowstore.Table{"users": tbl}}, tbl
}

func buildQuery(t *testing.T, cat *testCatalog) *Query {
	t.Helper()
	logical := planner.Select("users").Build()
	deps := planner.Dependencies(logical)
	opt := optimizer.Optimize(logical, func(string) *schema.TableDef { return nil })
	q, err := New(opt, deps, cat)
	require.NoError(t, err)
	return q
}

func TestChangesModeEmitsSynchronouslyOnSubscribe(t *testing.T) {
	cat, tbl := newCatalog()
	_, _, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("alice")}})
	require.NoError(t, err)

	q := buildQuery(t, cat)
	var got []rowstore.Row
	calls := 0
	q.Subscribe(ModeChanges, func(rows []rowstore.Row) {
		calls++
		got = rows
	})
	assert.Equal(t, 1, calls)
	assert.Len(t, got, 1)
}

func TestObserveModeWaitsForFirstMutation(t *testing.T) {
	cat, tbl := newCatalog()
	_, _, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("alice")}})
	require.NoError(t, err)

	q := buildQuery(t, cat)
	calls := 0
	q.Subscribe(ModeObserve, func(rows []rowstore.Row) { calls++ })
	assert.Equal(t, 0, calls)

	ids, deltas, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("bob")}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	q.OnFlush(map[string][]changebus.Delta{"users": {{Seq: 0, Table: "users", Row: deltas[0]}}})
	assert.Equal(t, 1, calls)
}

func TestIdenticalResultSuppressesNotification(t *testing.T) {
	cat, tbl := newCatalog()
	_, _, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("alice")}})
	require.NoError(t, err)

	q := buildQuery(t, cat)
	calls := 0
	q.Subscribe(ModeObserve, func(rows []rowstore.Row) { calls++ })

	// Insert then delete the same row: net result is unchanged.
	ids, insDeltas, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("temp")}})
	require.NoError(t, err)
	delDeltas := tbl.DeleteRows(ids)

	q.OnFlush(map[string][]changebus.Delta{"users": {
		{Seq: 0, Table: "users", Row: insDeltas[0]},
	}})
	assert.Equal(t, 1, calls)

	q.OnFlush(map[string][]changebus.Delta{"users": {
		{Seq: 1, Table: "users", Row: delDeltas[0]},
	}})
	assert.Equal(t, 2, calls, "result returned to its prior shape but hash-compare only suppresses identical *consecutive* results, not history")

	// A further flush that re-runs to the same result is suppressed.
	q.OnFlush(map[string][]changebus.Delta{"users": {
		{Seq: 1, Table: "users", Row: delDeltas[0]},
	}})
	assert.Equal(t, 2, calls, "an identical consecutive result must not notify")
}

func TestUnsubscribeStopsFurtherCallbacks(t *testing.T) {
	cat, tbl := newCatalog()
	q := buildQuery(t, cat)
	calls := 0
	sub := q.Subscribe(ModeObserve, func(rows []rowstore.Row) { calls++ })
	sub.Unsubscribe()

	_, deltas, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("alice")}})
	require.NoError(t, err)
	q.OnFlush(map[string][]changebus.Delta{"users": {{Seq: 0, Table: "users", Row: deltas[0]}}})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, q.SubscriptionCount())
}

func TestSubscribeAfterLastUnsubscribeCatchesUp(t *testing.T) {
	cat, tbl := newCatalog()
	q := buildQuery(t, cat)
	sub := q.Subscribe(ModeObserve, func(rows []rowstore.Row) {})
	sub.Unsubscribe()

	_, _, err := tbl.InsertRows([]rowstore.Row{{"name": value.String("alice")}})
	require.NoError(t, err)
	// No flush delivered while subscriber-less; a fresh subscribe should
	// still observe the mutation immediately via ModeChanges.
	var got []rowstore.Row
	q.Subscribe(ModeChanges, func(rows []rowstore.Row) { got = rows })
	assert.Len(t, got, 1)
}
