// Package changebus is the per-table delta log and fan-out mechanism.
// Writers append deltas as they commit; a dirty
// set tracks which tables changed since the last flush; flushing visits
// every registered observer in registration order, handing each only the
// deltas for the tables it actually depends on, then advances that
// observer's consumed-watermark. A table's log is truncated past the
// minimum watermark still outstanding across all observers.
package changebus

import "github.com/reactivedb/reactivedb/internal/rowstore"

// Delta is one change entry as seen by the bus: a row-store delta tagged
// with its table and a monotonically increasing, per-table sequence
// number.
type Delta struct {
	Seq   int64
	Table string
	Row   rowstore.Delta
}

// Observer is anything that can be driven by flush-time deltas; the
// re-query and IVM reactive strategies both implement it.
type Observer interface {
	// Dependencies lists the table names this observer reads from.
	Dependencies() []string
	// OnFlush is called at most once per Flush, only when at least one
	// dependency has pending deltas, with exactly those deltas grouped
	// by table.
	OnFlush(changes map[string][]Delta)
}

type tableLog struct {
	entries []Delta
	nextSeq int64
}

type registration struct {
	obs        Observer
	watermarks map[string]int64 // table -> next unconsumed seq
}

// Bus is the per-Database change bus. It is not safe for concurrent use
// from multiple goroutines, matching the single-threaded cooperative
// model the whole engine runs under: callers serialize all access
// to one Database themselves.
type Bus struct {
	logs      map[string]*tableLog
	dirty     map[string]bool
	observers []*registration
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		logs:  make(map[string]*tableLog),
		dirty: make(map[string]bool),
	}
}

func (b *Bus) logFor(table string) *tableLog {
	l, ok := b.logs[table]
	if !ok {
		l = &tableLog{}
		b.logs[table] = l
	}
	return l
}

// Append records one committed delta for table and marks it dirty. Call
// this after the row-store mutation that produced d has already been
// committed: index updates happen before the delta is appended.
func (b *Bus) Append(table string, d rowstore.Delta) {
	log := b.logFor(table)
	log.entries = append(log.entries, Delta{Seq: log.nextSeq, Table: table, Row: d})
	log.nextSeq++
	b.dirty[table] = true
}

// Subscription is the handle returned by Subscribe; call Unsubscribe to
// stop receiving flushes.
type Subscription struct {
	bus *Bus
	reg *registration
}

// Unsubscribe removes the observer from the bus. Idempotent.
func (s *Subscription) Unsubscribe() {
	for i, r := range s.bus.observers {
		if r == s.reg {
			s.bus.observers = append(s.bus.observers[:i], s.bus.observers[i+1:]...)
			return
		}
	}
}

// Subscribe registers obs, starting it at the current end of each
// dependency's log; it never replays history that predates it.
func (b *Bus) Subscribe(obs Observer) *Subscription {
	reg := &registration{obs: obs, watermarks: make(map[string]int64)}
	for _, table := range obs.Dependencies() {
		reg.watermarks[table] = b.logFor(table).nextSeq
	}
	b.observers = append(b.observers, reg)
	return &Subscription{bus: b, reg: reg}
}

// Flush visits every observer in registration order. This is the
// deferred cooperative yield point: the engine calls Flush once after a
// public write call (or once at the end of a batch write) returns, so
// however many deltas that call produced are delivered as a single
// notification per observer.
func (b *Bus) Flush() {
	if len(b.dirty) == 0 {
		return
	}
	dirty := b.dirty
	b.dirty = make(map[string]bool)

	for _, reg := range b.observers {
		changes := make(map[string][]Delta)
		for _, table := range reg.obs.Dependencies() {
			if !dirty[table] {
				continue
			}
			log := b.logs[table]
			watermark := reg.watermarks[table]
			var pending []Delta
			for _, e := range log.entries {
				if e.Seq >= watermark {
					pending = append(pending, e)
				}
			}
			if len(pending) > 0 {
				changes[table] = pending
				reg.watermarks[table] = log.nextSeq
			}
		}
		if len(changes) > 0 {
			reg.obs.OnFlush(changes)
		}
	}

	b.truncate()
}

// truncate drops log entries older than the minimum watermark still
// outstanding among observers that depend on that table. A table with no
// dependent observers is fully drained: nothing will ever consume it.
func (b *Bus) truncate() {
	for table, log := range b.logs {
		min := int64(-1)
		hasDependent := false
		for _, reg := range b.observers {
			wm, depends := reg.watermarks[table]
			if !depends {
				continue
			}
			hasDependent = true
			if min == -1 || wm < min {
				min = wm
			}
		}
		if !hasDependent {
			log.entries = nil
			continue
		}
		i := 0
		for i < len(log.entries) && log.entries[i].Seq < min {
			i++
		}
		log.entries = log.entries[i:]
	}
}
