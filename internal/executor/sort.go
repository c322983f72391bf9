package executor

import (
	"container/heap"
	"sort"

	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/value"
)

// compareRows returns -1/0/1 for "a sorts before/equal-to/after b" under
// keys. Incomparable or missing values are treated as equal so a type
// mismatch degrades to "no opinion" (stable order) rather than a crash;
// the executor never aborts a query over a row-level type error.
func compareRows(a, b rowstore.Row, keys []planner.SortKey) int {
	for _, k := range keys {
		av, aok := a[k.Column]
		bv, bok := b[k.Column]
		if !aok || !bok {
			continue
		}
		c, ok := value.Compare(av, bv)
		if !ok {
			continue
		}
		if k.Order == planner.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// stableSortRows sorts rows in place, preserving the input order of ties.
func stableSortRows(rows []rowstore.Row, keys []planner.SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		return compareRows(rows[i], rows[j], keys) < 0
	})
}

// topK returns the first n rows in sort order using a bounded max-heap of
// size n, sized to Limit(+Offset), rather than a full sort. The heap
// keeps the current worst-of-the-kept row at its root so a better
// candidate can evict it in O(log n).
func topK(rows []rowstore.Row, keys []planner.SortKey, n int) []rowstore.Row {
	if n <= 0 {
		return nil
	}
	h := &topKHeap{keys: keys}
	for i, row := range rows {
		entry := topKEntry{row: row, seq: i}
		if h.Len() < n {
			heap.Push(h, entry)
			continue
		}
		if h.Len() > 0 && compareRows(row, h.rows[0].row, keys) < 0 {
			h.rows[0] = entry
			heap.Fix(h, 0)
		}
	}
	out := make([]rowstore.Row, h.Len())
	// Pop drains worst-first; filling from the back yields ascending
	// (best-first) order while keeping ties in original input order.
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(topKEntry).row
	}
	return out
}

type topKEntry struct {
	row rowstore.Row
	seq int // original index, breaks ties so Pop order matches a stable sort
}

// topKHeap is a max-heap over the "worst kept" row: Less reports whether
// i should be popped before j, i.e. i sorts after j (or, on a tie, i was
// seen later).
type topKHeap struct {
	rows []topKEntry
	keys []planner.SortKey
}

func (h *topKHeap) Len() int { return len(h.rows) }
func (h *topKHeap) Less(i, j int) bool {
	c := compareRows(h.rows[i].row, h.rows[j].row, h.keys)
	if c != 0 {
		return c > 0
	}
	return h.rows[i].seq > h.rows[j].seq
}
func (h *topKHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *topKHeap) Push(x any)    { h.rows = append(h.rows, x.(topKEntry)) }
func (h *topKHeap) Pop() any {
	old := h.rows
	n := len(old)
	item := old[n-1]
	h.rows = old[:n-1]
	return item
}

var _ heap.Interface = (*topKHeap)(nil)
