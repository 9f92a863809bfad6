package qdisc

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentBitmap_BasicSetClear(t *testing.T) {
	b := NewConcurrentBitmap(10)
	require.Equal(t, 10, b.Len())

	set, err := b.IsBitSet(3)
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, b.UpdateBit(3, true))
	set, err = b.IsBitSet(3)
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, b.UpdateBit(3, false))
	set, err = b.IsBitSet(3)
	require.NoError(t, err)
	assert.False(t, set)

	_, err = b.IsBitSet(10)
	assert.Error(t, err)
}

func TestConcurrentBitmap_TokenCAS(t *testing.T) {
	b := NewConcurrentBitmap(64)
	tok0, err := b.GetToken(5)
	require.NoError(t, err)

	ok, err := b.TryUpdateBit(5, tok0, true)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale token must fail now
	ok, err = b.TryUpdateBit(5, tok0, false)
	require.NoError(t, err)
	assert.False(t, ok, "stale token should not succeed")

	tok1, err := b.GetToken(5)
	require.NoError(t, err)
	assert.NotEqual(t, tok0, tok1)

	ok, err = b.TryUpdateBit(5, tok1, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentBitmap_GrowShrink(t *testing.T) {
	b := NewConcurrentBitmap(0)
	assert.Equal(t, 0, b.Len())

	b.Grow(100)
	assert.Equal(t, 100, b.Len())
	assert.True(t, b.IsEmpty())

	for i := 0; i < 100; i++ {
		require.NoError(t, b.UpdateBit(i, true))
	}
	assert.True(t, b.IsFull())
	assert.Equal(t, 100, b.UnsafePopCount())

	require.NoError(t, b.Shrink(50))
	assert.Equal(t, 50, b.Len())
	assert.True(t, b.IsFull())

	b.Grow(10)
	assert.Equal(t, 60, b.Len())
	// the newly grown bits must be zero
	for i := 50; i < 60; i++ {
		set, err := b.IsBitSet(i)
		require.NoError(t, err)
		assert.False(t, set)
	}
}

func TestConcurrentBitmap_InsertRemoveRoundTrip(t *testing.T) {
	// Build up a reference []bool alongside the bitmap via the same
	// sequence of insert/remove operations, and assert they stay in sync.
	ref := []bool{}
	b := NewConcurrentBitmap(0)

	insert := func(i int, v bool) {
		ref = append(ref, false)
		copy(ref[i+1:], ref[i:])
		ref[i] = v
		require.NoError(t, b.InsertBitAt(i, v, true))
	}
	remove := func(i int) {
		ref = append(ref[:i], ref[i+1:]...)
		require.NoError(t, b.RemoveBitAt(i, true))
	}

	insert(0, true)
	insert(1, false)
	insert(1, true)
	insert(0, false)
	remove(2)
	insert(2, true)

	assert.Equal(t, ref, b.Snapshot())
}

func TestConcurrentBitmap_ConcurrentUpdatesDoNotRace(t *testing.T) {
	const n = 256
	b := NewConcurrentBitmap(n)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				idx := r.Intn(n)
				_ = b.UpdateBit(idx, r.Intn(2) == 0)
			}
		}(int64(g))
	}
	wg.Wait()
	assert.Equal(t, n, b.Len())
}
