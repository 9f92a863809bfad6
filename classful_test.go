package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassfulBase_AddChildRejectsDuplicateHandle(t *testing.T) {
	r := NewRoundRobin()
	require.NoError(t, r.TryAddChild(NewFIFO(WithFIFOHandle("a")), nil))
	err := r.TryAddChild(NewFIFO(WithFIFOHandle("a")), nil)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestClassfulBase_TryFindRouteLocatesLeaf(t *testing.T) {
	r := NewRoundRobin()
	leaf := NewFIFO(WithFIFOHandle("target"))
	require.NoError(t, r.TryAddChild(leaf, nil))

	path, found := r.TryFindRoute("target")
	require.True(t, found)
	assert.Same(t, leaf, path.Leaf())
	assert.False(t, path.Empty())

	_, found = r.TryFindRoute("missing")
	assert.False(t, found)
}

func TestClassfulBase_TryRemoveChildRequiresEmpty(t *testing.T) {
	r := NewRoundRobin()
	leaf := NewFIFO()
	require.NoError(t, r.TryAddChild(leaf, nil))
	require.NoError(t, leaf.Enqueue(NewWorkload(noopPayload)))

	ok, err := r.TryRemoveChild(leaf)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _ = leaf.TryDequeueInternal(0, false)
	ok, err = r.TryRemoveChild(leaf)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassfulBase_TryEnqueueClassifiesToMatchingChild(t *testing.T) {
	r := NewRoundRobin()
	evens := NewFIFO(WithFIFOPredicate(func(s any) bool { return s.(int)%2 == 0 }))
	odds := NewFIFO(WithFIFOPredicate(func(s any) bool { return s.(int)%2 != 0 }))
	require.NoError(t, r.TryAddChild(evens, func(s any) bool { return s.(int)%2 == 0 }))
	require.NoError(t, r.TryAddChild(odds, func(s any) bool { return s.(int)%2 != 0 }))

	w := NewWorkload(noopPayload)
	ok, err := r.TryEnqueue(4, w)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, evens.IsEmpty())
	assert.True(t, odds.IsEmpty())
}

func TestClassfulBase_IsEmptyTracksChildren(t *testing.T) {
	r := NewRoundRobin()
	leaf := NewFIFO()
	require.NoError(t, r.TryAddChild(leaf, nil))
	assert.True(t, r.IsEmpty())

	require.NoError(t, leaf.Enqueue(NewWorkload(noopPayload)))
	assert.False(t, r.IsEmpty())
}
