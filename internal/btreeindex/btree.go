// Package btreeindex implements an ordered secondary index: a map from
// column value (or composite column tuple) to a posting list of
// row-ids, supporting point, range, and IN scans.
//
// The "tree" is a sorted slice of entries rather than a balanced tree:
// row counts an embedded engine deals with fit comfortably in memory, and
// a sorted slice with binary search gives the same asymptotic lookup cost
// as the map's real workhorse, the posting list, without the bookkeeping
// of node splits. Composite keys are compared lexicographically by the
// declared column order, the leading columns taking precedence.
package btreeindex

import (
	"sort"

	"github.com/reactivedb/reactivedb/internal/postinglist"
	"github.com/reactivedb/reactivedb/internal/value"
)

// Key is a composite index key: one value per indexed column, in
// declaration order.
type Key []value.Value

// Compare orders two keys lexicographically. Unmatched component kinds
// sort the shorter/mismatched key first in a stable, arbitrary order;
// this only ever happens within a single column's values when the caller
// mixes kinds, which schema validation prevents in practice.
func Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c, ok := value.Compare(a[i], b[i]); ok {
			if c != 0 {
				return c
			}
			continue
		}
		// Incomparable components: fall back to a total but arbitrary
		// order so the index stays sorted (kind, then string form).
		if a[i].Kind() != b[i].Kind() {
			if a[i].Kind() < b[i].Kind() {
				return -1
			}
			return 1
		}
		if a[i].String() != b[i].String() {
			if a[i].String() < b[i].String() {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

type entry struct {
	key    Key
	postID *postinglist.List
}

// Index is a composite-key ordered index. Unique enforces at most one
// posting per key, as required for primary-key and UniqueBTree indexes.
type Index struct {
	Unique  bool
	entries []entry // kept sorted by Compare(key)
}

// New returns an empty index.
func New(unique bool) *Index { return &Index{Unique: unique} }

func (idx *Index) search(key Key) (int, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return Compare(idx.entries[i].key, key) >= 0
	})
	if i < len(idx.entries) && Compare(idx.entries[i].key, key) == 0 {
		return i, true
	}
	return i, false
}

// Insert adds rowID under key. Returns an error if Unique is set and key
// already maps to at least one row-id other than rowID; re-inserting the
// same rowID under its existing key is a no-op.
func (idx *Index) Insert(key Key, rowID int64) error {
	i, found := idx.search(key)
	if found {
		if idx.Unique && idx.entries[i].postID.Len() > 0 && !idx.entries[i].postID.Contains(rowID) {
			return &DuplicateKeyError{Key: key}
		}
		idx.entries[i].postID.Add(rowID)
		return nil
	}
	e := entry{key: key, postID: postinglist.New()}
	e.postID.Add(rowID)
	idx.entries = append(idx.entries, entry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
	return nil
}

// Remove deletes rowID from key's posting list. A now-empty entry is
// pruned so Compare-based search stays tight.
func (idx *Index) Remove(key Key, rowID int64) {
	i, found := idx.search(key)
	if !found {
		return
	}
	idx.entries[i].postID.Remove(rowID)
	if idx.entries[i].postID.Len() == 0 {
		idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	}
}

// Point returns the row-ids exactly matching key.
func (idx *Index) Point(key Key) []int64 {
	i, found := idx.search(key)
	if !found {
		return nil
	}
	return idx.entries[i].postID.ToSlice()
}

// In returns the deduplicated union of row-ids across multiple keys.
func (idx *Index) In(keys []Key) []int64 {
	var lists []*postinglist.List
	for _, k := range keys {
		if i, found := idx.search(k); found {
			lists = append(lists, idx.entries[i].postID)
		}
	}
	return postinglist.Union(lists...)
}

// Range returns row-ids whose key falls within [low, high] (inclusivity
// controlled per bound). A nil bound means unbounded on that side.
func (idx *Index) Range(low, high Key, lowIncl, highIncl bool) []int64 {
	lo := 0
	if low != nil {
		lo = sort.Search(len(idx.entries), func(i int) bool {
			c := Compare(idx.entries[i].key, low)
			if lowIncl {
				return c >= 0
			}
			return c > 0
		})
	}
	hi := len(idx.entries)
	if high != nil {
		hi = sort.Search(len(idx.entries), func(i int) bool {
			c := Compare(idx.entries[i].key, high)
			if highIncl {
				return c > 0
			}
			return c >= 0
		})
	}
	if lo >= hi {
		return nil
	}
	var lists []*postinglist.List
	for _, e := range idx.entries[lo:hi] {
		lists = append(lists, e.postID)
	}
	return postinglist.Union(lists...)
}

// PrefixPoint returns row-ids for every entry whose leading component
// equals prefix[0], used for single-column predicates against a composite
// index's leading column.
func (idx *Index) PrefixPoint(prefix value.Value) []int64 {
	lo := sort.Search(len(idx.entries), func(i int) bool {
		if len(idx.entries[i].key) == 0 {
			return true
		}
		c, ok := value.Compare(idx.entries[i].key[0], prefix)
		if !ok {
			return true
		}
		return c >= 0
	})
	var lists []*postinglist.List
	for i := lo; i < len(idx.entries); i++ {
		if len(idx.entries[i].key) == 0 {
			continue
		}
		c, ok := value.Compare(idx.entries[i].key[0], prefix)
		if !ok || c != 0 {
			break
		}
		lists = append(lists, idx.entries[i].postID)
	}
	return postinglist.Union(lists...)
}

// Len returns the number of distinct keys in the index.
func (idx *Index) Len() int { return len(idx.entries) }

// DuplicateKeyError reports a uniqueness violation on insert/update.
type DuplicateKeyError struct {
	Key Key
}

func (e *DuplicateKeyError) Error() string {
	return "duplicate key violates unique index constraint: " + keyString(e.Key)
}

func keyString(k Key) string {
	s := "("
	for i, v := range k {
		if i > 0 {
			s += ", "
		}
		s += v.String()
	}
	return s + ")"
}
