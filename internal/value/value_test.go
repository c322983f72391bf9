package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Int64(5), Int64(5)))
	assert.False(t, Equal(Int64(5), Int64(6)))
	assert.False(t, Equal(Int64(5), Int32(5)), "different kinds never compare equal")
	assert.True(t, Equal(Null(), Null()))
	assert.True(t, Equal(String("hi"), String("hi")))

	nan := Float64(math.NaN())
	assert.False(t, Equal(nan, nan), "NaN never equals itself")
}

func TestCompareCrossKindIsUnmatched(t *testing.T) {
	_, ok := Compare(Int64(1), String("1"))
	assert.False(t, ok)
}

func TestCompareOrdering(t *testing.T) {
	cmp, ok := Compare(Int64(1), Int64(2))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	cmp, ok = Compare(String("b"), String("a"))
	require.True(t, ok)
	assert.Equal(t, 1, cmp)
}

func TestCompareNaNIsUnmatched(t *testing.T) {
	_, ok := Compare(Float64(math.NaN()), Float64(1))
	assert.False(t, ok)
}

func TestCoerceWidensInt32ToInt64(t *testing.T) {
	v, err := Coerce(Int32(42), KindInt64)
	require.NoError(t, err)
	i, ok := v.AsInt64()
	require.True(t, ok)
	assert.EqualValues(t, 42, i)
}

func TestCoerceInt32OverflowFails(t *testing.T) {
	_, err := Coerce(Int64(1<<40), KindInt32)
	assert.Error(t, err)
}

func TestCoerceNullPassesThrough(t *testing.T) {
	v, err := Coerce(Null(), KindInt64)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestCoerceMismatchFails(t *testing.T) {
	_, err := Coerce(String("x"), KindInt64)
	assert.Error(t, err)
}

func TestJsonObjectPreservesInsertionOrder(t *testing.T) {
	obj := NewJsonObject()
	obj.Set("b", Int64(2))
	obj.Set("a", Int64(1))
	assert.Equal(t, []string{"b", "a"}, obj.Keys())
}
