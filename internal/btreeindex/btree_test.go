package btreeindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/value"
)

func k(vs ...value.Value) Key { return Key(vs) }

func TestPointLookup(t *testing.T) {
	idx := New(false)
	require.NoError(t, idx.Insert(k(value.String("Books")), 1))
	require.NoError(t, idx.Insert(k(value.String("Books")), 2))
	require.NoError(t, idx.Insert(k(value.String("Electronics")), 3))

	assert.ElementsMatch(t, []int64{1, 2}, idx.Point(k(value.String("Books"))))
	assert.ElementsMatch(t, []int64{3}, idx.Point(k(value.String("Electronics"))))
	assert.Empty(t, idx.Point(k(value.String("Home"))))
}

func TestUniqueIndexRejectsDuplicateKeyForDifferentRow(t *testing.T) {
	idx := New(true)
	require.NoError(t, idx.Insert(k(value.Int64(1)), 100))
	err := idx.Insert(k(value.Int64(1)), 200)
	assert.Error(t, err)
	var dup *DuplicateKeyError
	assert.ErrorAs(t, err, &dup)
}

func TestUniqueIndexAllowsReinsertOfSameRow(t *testing.T) {
	idx := New(true)
	require.NoError(t, idx.Insert(k(value.Int64(1)), 100))
	assert.NoError(t, idx.Insert(k(value.Int64(1)), 100))
}

func TestRangeInclusiveExclusive(t *testing.T) {
	idx := New(false)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, idx.Insert(k(value.Int64(i)), i))
	}
	got := idx.Range(k(value.Int64(3)), k(value.Int64(6)), true, true)
	assert.ElementsMatch(t, []int64{3, 4, 5, 6}, got)

	got = idx.Range(k(value.Int64(3)), k(value.Int64(6)), false, false)
	assert.ElementsMatch(t, []int64{4, 5}, got)

	got = idx.Range(nil, k(value.Int64(3)), false, true)
	assert.ElementsMatch(t, []int64{1, 2, 3}, got)
}

func TestInUnionsMultipleKeys(t *testing.T) {
	idx := New(false)
	require.NoError(t, idx.Insert(k(value.String("a")), 1))
	require.NoError(t, idx.Insert(k(value.String("b")), 2))
	require.NoError(t, idx.Insert(k(value.String("c")), 3))

	got := idx.In([]Key{k(value.String("a")), k(value.String("c")), k(value.String("z"))})
	assert.ElementsMatch(t, []int64{1, 3}, got)
}

func TestRemovePrunesEmptyEntry(t *testing.T) {
	idx := New(false)
	require.NoError(t, idx.Insert(k(value.Int64(1)), 1))
	idx.Remove(k(value.Int64(1)), 1)
	assert.Empty(t, idx.Point(k(value.Int64(1))))
	assert.Equal(t, 0, idx.Len())
}

func TestCompositeKeyLexicographicOrder(t *testing.T) {
	idx := New(false)
	require.NoError(t, idx.Insert(k(value.String("a"), value.Int64(2)), 1))
	require.NoError(t, idx.Insert(k(value.String("a"), value.Int64(1)), 2))
	require.NoError(t, idx.Insert(k(value.String("b"), value.Int64(0)), 3))

	got := idx.Range(k(value.String("a"), value.Int64(0)), k(value.String("a"), value.Int64(9)), true, true)
	assert.ElementsMatch(t, []int64{1, 2}, got)
}

func TestPrefixPointOnLeadingColumn(t *testing.T) {
	idx := New(false)
	require.NoError(t, idx.Insert(k(value.String("a"), value.Int64(2)), 1))
	require.NoError(t, idx.Insert(k(value.String("a"), value.Int64(1)), 2))
	require.NoError(t, idx.Insert(k(value.String("b"), value.Int64(0)), 3))

	got := idx.PrefixPoint(value.String("a"))
	assert.ElementsMatch(t, []int64{1, 2}, got)
}
