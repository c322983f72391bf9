package changebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/rowstore"
)

type recordingObserver struct {
	deps  []string
	calls []map[string][]Delta
}

func (o *recordingObserver) Dependencies() []string { return o.deps }
func (o *recordingObserver) OnFlush(changes map[string][]Delta) {
	o.calls = append(o.calls, changes)
}

func insertDelta(rowID int64) rowstore.Delta {
	return rowstore.Delta{Kind: rowstore.Insert, RowID: rowID, After: rowstore.Row{"id": {}}}
}

func TestFlushDeliversOnlyDirtyDependencies(t *testing.T) {
	bus := New()
	obs := &recordingObserver{deps: []string{"users"}}
	bus.Subscribe(obs)

	bus.Append("orders", insertDelta(1))
	bus.Flush()
	assert.Empty(t, obs.calls, "observer does not depend on orders")

	bus.Append("users", insertDelta(1))
	bus.Flush()
	require.Len(t, obs.calls, 1)
	assert.Len(t, obs.calls[0]["users"], 1)
}

func TestMultipleDeltasInOneFlushCoalesceIntoOneCall(t *testing.T) {
	bus := New()
	obs := &recordingObserver{deps: []string{"users"}}
	bus.Subscribe(obs)

	bus.Append("users", insertDelta(1))
	bus.Append("users", insertDelta(2))
	bus.Append("users", insertDelta(3))
	bus.Flush()

	require.Len(t, obs.calls, 1)
	assert.Len(t, obs.calls[0]["users"], 3)
}

func TestFlushWithNoDirtyTablesIsNoop(t *testing.T) {
	bus := New()
	obs := &recordingObserver{deps: []string{"users"}}
	bus.Subscribe(obs)

	bus.Flush()
	assert.Empty(t, obs.calls)
}

func TestObserversVisitedInRegistrationOrder(t *testing.T) {
	bus := New()
	var order []string
	first := &orderTrackingObserver{name: "first", order: &order}
	second := &orderTrackingObserver{name: "second", order: &order}
	bus.Subscribe(first)
	bus.Subscribe(second)

	bus.Append("users", insertDelta(1))
	bus.Flush()

	assert.Equal(t, []string{"first", "second"}, order)
}

type orderTrackingObserver struct {
	name  string
	order *[]string
}

func (o *orderTrackingObserver) Dependencies() []string { return []string{"users"} }
func (o *orderTrackingObserver) OnFlush(map[string][]Delta) {
	*o.order = append(*o.order, o.name)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	obs := &recordingObserver{deps: []string{"users"}}
	sub := bus.Subscribe(obs)

	bus.Append("users", insertDelta(1))
	bus.Flush()
	require.Len(t, obs.calls, 1)

	sub.Unsubscribe()
	bus.Append("users", insertDelta(2))
	bus.Flush()
	assert.Len(t, obs.calls, 1, "no further calls after unsubscribe")
}

func TestNewSubscriberDoesNotReplayHistory(t *testing.T) {
	bus := New()
	bus.Append("users", insertDelta(1))

	obs := &recordingObserver{deps: []string{"users"}}
	bus.Subscribe(obs)
	bus.Flush()
	assert.Empty(t, obs.calls, "subscriber registered after the delta should not see it")

	bus.Append("users", insertDelta(2))
	bus.Flush()
	require.Len(t, obs.calls, 1)
	assert.Len(t, obs.calls[0]["users"], 1)
}

func TestLogTruncatesPastSlowestObserverWatermark(t *testing.T) {
	bus := New()
	slow := &holdingObserver{deps: []string{"users"}}
	fast := &recordingObserver{deps: []string{"users"}}
	bus.Subscribe(slow)
	bus.Subscribe(fast)

	bus.Append("users", insertDelta(1))
	bus.Flush()

	// Both observers depend on users and both receive OnFlush, so the bus
	// advances both watermarks past the delta, even for the observer that
	// ignores it; the slowest watermark is then past every entry and the
	// log is truncated to empty.
	require.Len(t, fast.calls, 1)
	assert.Len(t, bus.logs["users"].entries, 0)
}

type holdingObserver struct {
	deps []string
}

func (o *holdingObserver) Dependencies() []string           { return o.deps }
func (o *holdingObserver) OnFlush(changes map[string][]Delta) {}
