package engine

import (
	"github.com/google/uuid"

	"github.com/reactivedb/reactivedb/internal/changebus"
	"github.com/reactivedb/reactivedb/internal/codec"
	"github.com/reactivedb/reactivedb/internal/reactive/ivm"
	"github.com/reactivedb/reactivedb/internal/reactive/requery"
	"github.com/reactivedb/reactivedb/internal/rowstore"
)

// Observer is a standing re-query subscription: its first callback fires
// on the next mutation that actually changes the result, not
// synchronously at subscribe time.
type Observer struct {
	id     uuid.UUID
	query  *requery.Query
	busSub *changebus.Subscription
}

// ID uniquely identifies this handle for the lifetime of the process,
// letting a host keep its own registry of live observers without holding
// a direct pointer (e.g. across an FFI or RPC boundary).
func (o *Observer) ID() string { return o.id.String() }

// GetResult returns the last computed full result.
func (o *Observer) GetResult() []rowstore.Row { return o.query.Result() }

// GetResultBinary encodes the last computed result via internal/codec.
func (o *Observer) GetResultBinary() ([]byte, *codec.SchemaLayout) {
	rows := o.query.Result()
	layout := deriveLayout(rows)
	return codec.Encode(rows, layout), layout
}

// GetSchemaLayout returns the layout matching GetResultBinary's buffer.
func (o *Observer) GetSchemaLayout() *codec.SchemaLayout { return deriveLayout(o.query.Result()) }

// Length returns the row count of the last computed result.
func (o *Observer) Length() int { return o.query.Len() }

// IsEmpty reports whether the last computed result has no rows.
func (o *Observer) IsEmpty() bool { return o.query.IsEmpty() }

// SubscriptionCount returns the number of live callback subscriptions.
func (o *Observer) SubscriptionCount() int { return o.query.SubscriptionCount() }

// Subscribe registers cb, called back whenever the maintained result
// changes after the subscribe call (ModeObserve semantics).
func (o *Observer) Subscribe(cb func([]rowstore.Row)) *requery.Subscription {
	return o.query.Subscribe(requery.ModeObserve, cb)
}

// Unsubscribe tears down the observer's registration on the change bus
// entirely: no further flush will reach its re-query Query.
func (o *Observer) Unsubscribe() { o.busSub.Unsubscribe() }

// ChangesStream is a standing re-query subscription whose Subscribe
// additionally emits the current snapshot synchronously at subscribe
// time, matching a "changes()" stream that never leaves a new subscriber
// without an initial value.
type ChangesStream struct {
	id     uuid.UUID
	query  *requery.Query
	busSub *changebus.Subscription
}

// ID uniquely identifies this handle for the lifetime of the process.
func (c *ChangesStream) ID() string { return c.id.String() }

func (c *ChangesStream) GetResult() []rowstore.Row { return c.query.Result() }

func (c *ChangesStream) GetResultBinary() ([]byte, *codec.SchemaLayout) {
	rows := c.query.Result()
	layout := deriveLayout(rows)
	return codec.Encode(rows, layout), layout
}

func (c *ChangesStream) GetSchemaLayout() *codec.SchemaLayout { return deriveLayout(c.query.Result()) }
func (c *ChangesStream) Length() int                          { return c.query.Len() }
func (c *ChangesStream) IsEmpty() bool                        { return c.query.IsEmpty() }
func (c *ChangesStream) SubscriptionCount() int               { return c.query.SubscriptionCount() }

// Subscribe registers cb, called back immediately with the current
// snapshot and again on every subsequent change (ModeChanges semantics).
func (c *ChangesStream) Subscribe(cb func([]rowstore.Row)) *requery.Subscription {
	return c.query.Subscribe(requery.ModeChanges, cb)
}

func (c *ChangesStream) Unsubscribe() { c.busSub.Unsubscribe() }

// IvmObserver is a standing incremental (Z-set) dataflow subscription:
// its callback receives only the rows added and removed on each touched
// flush, never a full recomputation.
type IvmObserver struct {
	id     uuid.UUID
	df     *ivm.Dataflow
	busSub *changebus.Subscription
}

// ID uniquely identifies this handle for the lifetime of the process.
func (o *IvmObserver) ID() string { return o.id.String() }

// GetResult returns the dataflow's current materialized output.
func (o *IvmObserver) GetResult() []rowstore.Row { return o.df.CurrentOutput() }

func (o *IvmObserver) GetResultBinary() ([]byte, *codec.SchemaLayout) {
	rows := o.df.CurrentOutput()
	layout := deriveLayout(rows)
	return codec.Encode(rows, layout), layout
}

func (o *IvmObserver) GetSchemaLayout() *codec.SchemaLayout {
	return deriveLayout(o.df.CurrentOutput())
}

func (o *IvmObserver) Length() int   { return len(o.df.CurrentOutput()) }
func (o *IvmObserver) IsEmpty() bool { return len(o.df.CurrentOutput()) == 0 }

// Subscribe registers cb, called back with the net {added, removed} rows
// of every flush cycle that actually touches this dataflow's output. It
// does not fire synchronously; pull GetResult for the initial snapshot.
func (o *IvmObserver) Subscribe(cb func(ivm.AddedRemoved)) *ivm.Subscription {
	return o.df.Subscribe(cb)
}

func (o *IvmObserver) Unsubscribe() { o.busSub.Unsubscribe() }
