// Package postinglist implements the sorted row-id sets that back every
// B-tree and GIN index key. Small posting lists stay a plain sorted
// slice; once a key's posting list grows past a threshold it is
// compacted into a roaring bitmap, trading append simplicity for
// run-length-compressed storage on skewed-cardinality keys (a handful of
// JSONB tokens or a low-cardinality column value touching a large
// fraction of the table).
package postinglist

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// CompactThreshold is the posting-list length at or above which the list
// switches from a sorted slice to a roaring bitmap.
const CompactThreshold = 64

// List is a mutable, deduplicated, sorted set of row-ids.
type List struct {
	small  []int64 // used while len(small) < CompactThreshold, always sorted
	bitmap *roaring.Bitmap
}

// New returns an empty posting list.
func New() *List { return &List{} }

// Len returns the number of row-ids currently in the list.
func (l *List) Len() int {
	if l.bitmap != nil {
		return int(l.bitmap.GetCardinality())
	}
	return len(l.small)
}

// Add inserts a row-id, deduplicated, compacting into a bitmap once the
// length crosses CompactThreshold.
func (l *List) Add(rowID int64) {
	if l.bitmap != nil {
		l.bitmap.Add(uint32(rowID))
		return
	}
	i := sort.Search(len(l.small), func(i int) bool { return l.small[i] >= rowID })
	if i < len(l.small) && l.small[i] == rowID {
		return
	}
	l.small = append(l.small, 0)
	copy(l.small[i+1:], l.small[i:])
	l.small[i] = rowID

	if len(l.small) >= CompactThreshold {
		l.compact()
	}
}

// Remove deletes a row-id if present; a no-op otherwise.
func (l *List) Remove(rowID int64) {
	if l.bitmap != nil {
		l.bitmap.Remove(uint32(rowID))
		return
	}
	i := sort.Search(len(l.small), func(i int) bool { return l.small[i] >= rowID })
	if i < len(l.small) && l.small[i] == rowID {
		l.small = append(l.small[:i], l.small[i+1:]...)
	}
}

// Contains reports whether rowID is present.
func (l *List) Contains(rowID int64) bool {
	if l.bitmap != nil {
		return l.bitmap.Contains(uint32(rowID))
	}
	i := sort.Search(len(l.small), func(i int) bool { return l.small[i] >= rowID })
	return i < len(l.small) && l.small[i] == rowID
}

// ToSlice returns the row-ids in ascending order.
func (l *List) ToSlice() []int64 {
	if l.bitmap != nil {
		u32 := l.bitmap.ToArray()
		out := make([]int64, len(u32))
		for i, v := range u32 {
			out[i] = int64(v)
		}
		return out
	}
	out := make([]int64, len(l.small))
	copy(out, l.small)
	return out
}

func (l *List) compact() {
	bm := roaring.New()
	for _, id := range l.small {
		bm.Add(uint32(id))
	}
	l.bitmap = bm
	l.small = nil
}

// Union returns the sorted, deduplicated union of several lists' row-ids.
// Used for IN-scans (union of point lookups) and multi-path GIN scans.
func Union(lists ...*List) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, l := range lists {
		if l == nil {
			continue
		}
		for _, id := range l.ToSlice() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Intersect returns the sorted intersection of several lists' row-ids, used
// by the GIN AND-combination rule to combine posting lists in-index rather
// than loading candidate rows.
func Intersect(lists ...*List) []int64 {
	if len(lists) == 0 {
		return nil
	}
	counts := make(map[int64]int)
	for _, l := range lists {
		if l == nil {
			return nil
		}
		for _, id := range l.ToSlice() {
			counts[id]++
		}
	}
	var out []int64
	for id, c := range counts {
		if c == len(lists) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
