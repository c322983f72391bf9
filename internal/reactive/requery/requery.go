// Package requery implements the re-query reactive strategy: cache an
// optimized plan's last full result, re-run it whenever the change bus
// says a dependency is dirty, and notify subscribers only when the new
// result actually differs from the cached one.
package requery

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/reactivedb/reactivedb/internal/changebus"
	"github.com/reactivedb/reactivedb/internal/executor"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/rowstore"
)

// Mode selects when a subscriber receives its first callback.
type Mode int

const (
	// ModeObserve waits for the first post-subscribe mutation before
	// calling back, matching observe()'s semantics.
	ModeObserve Mode = iota
	// ModeChanges calls back synchronously, once, at subscribe time with
	// the current snapshot, matching changes()'s semantics.
	ModeChanges
)

// Query is one standing subscription's cached state: the optimized plan
// it re-runs, the tables it depends on, the last full result and its
// hash, and the list of live subscribers.
type Query struct {
	plan planner.Node
	deps []string
	cat  executor.Catalog

	result     []rowstore.Row
	resultHash uint64

	subs    []*Subscription
	onPanic func(error)
}

// New constructs a Query, running plan once against cat and caching the
// result. deps is the dependency set computed from the pre-optimization
// logical plan (optimizer rewrites never add or remove the tables a plan
// reads, so it applies equally to the optimized plan passed here).
func New(plan planner.Node, deps []string, cat executor.Catalog) (*Query, error) {
	rows, err := executor.Rows(plan, cat)
	if err != nil {
		return nil, err
	}
	return &Query{
		plan:       plan,
		deps:       deps,
		cat:        cat,
		result:     rows,
		resultHash: hashRows(rows),
	}, nil
}

// SetPanicHandler installs a hook invoked (instead of propagating) when a
// subscriber callback panics, isolating one bad subscriber from the rest
// and from the write call that triggered the flush.
func (q *Query) SetPanicHandler(f func(error)) { q.onPanic = f }

// Dependencies implements changebus.Observer.
func (q *Query) Dependencies() []string { return q.deps }

// Result returns the last computed snapshot.
func (q *Query) Result() []rowstore.Row { return q.result }

// Len returns the row count of the last computed snapshot.
func (q *Query) Len() int { return len(q.result) }

// IsEmpty reports whether the last computed snapshot has no rows.
func (q *Query) IsEmpty() bool { return len(q.result) == 0 }

// SubscriptionCount returns the number of live subscribers.
func (q *Query) SubscriptionCount() int { return len(q.subs) }

// Subscription is a live callback registration against a Query.
type Subscription struct {
	query *Query
	cb    func([]rowstore.Row)
}

// Unsubscribe removes the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	for i, sub := range s.query.subs {
		if sub == s {
			s.query.subs = append(s.query.subs[:i], s.query.subs[i+1:]...)
			return
		}
	}
}

// Subscribe registers cb under mode. If the query had no subscribers
// (and therefore had stopped re-running on flush), it catches up with a
// fresh run first so the new subscriber never sees a stale snapshot.
func (q *Query) Subscribe(mode Mode, cb func([]rowstore.Row)) *Subscription {
	if len(q.subs) == 0 {
		q.refresh()
	}
	sub := &Subscription{query: q, cb: cb}
	q.subs = append(q.subs, sub)
	if mode == ModeChanges {
		q.deliver(sub, q.result)
	}
	return sub
}

func (q *Query) refresh() {
	rows, err := executor.Rows(q.plan, q.cat)
	if err != nil {
		return
	}
	q.result = rows
	q.resultHash = hashRows(rows)
}

// OnFlush implements changebus.Observer. With no live subscribers the
// query skips re-running entirely: the observer remains valid but stops
// re-running until Subscribe catches it up again.
func (q *Query) OnFlush(changes map[string][]changebus.Delta) {
	if len(q.subs) == 0 {
		return
	}
	rows, err := executor.Rows(q.plan, q.cat)
	if err != nil {
		return
	}
	newHash := hashRows(rows)
	if newHash == q.resultHash {
		return
	}
	q.result = rows
	q.resultHash = newHash
	for _, sub := range q.subs {
		q.deliver(sub, rows)
	}
}

func (q *Query) deliver(sub *Subscription, rows []rowstore.Row) {
	defer func() {
		if r := recover(); r != nil && q.onPanic != nil {
			q.onPanic(fmt.Errorf("requery subscriber panic: %v", r))
		}
	}()
	sub.cb(rows)
}

// hashRows computes a deterministic hash over a row set regardless of Go
// map iteration order, so repeated identical results compare equal and
// the query can skip notifying subscribers of a no-op flush.
func hashRows(rows []rowstore.Row) uint64 {
	h := fnv.New64a()
	cols := make([]string, 0, 8)
	for _, row := range rows {
		cols = cols[:0]
		for c := range row {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			v := row[c]
			h.Write([]byte(c))
			h.Write([]byte{0})
			h.Write([]byte(v.Kind().String()))
			h.Write([]byte{0})
			h.Write([]byte(v.String()))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return h.Sum64()
}
