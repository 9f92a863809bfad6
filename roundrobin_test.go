package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin_RotatesAcrossChildren(t *testing.T) {
	r := NewRoundRobin()
	a := NewFIFO()
	b := NewFIFO()
	require.NoError(t, r.TryAddChild(a, nil))
	require.NoError(t, r.TryAddChild(b, nil))

	wa := NewWorkload(noopPayload)
	wb := NewWorkload(noopPayload)
	require.NoError(t, a.Enqueue(wa))
	require.NoError(t, b.Enqueue(wb))

	first, ok := r.TryDequeueInternal(0, false)
	require.True(t, ok)
	second, ok := r.TryDequeueInternal(0, false)
	require.True(t, ok)

	assert.ElementsMatch(t, []*Workload{wa, wb}, []*Workload{first, second})
	assert.NotSame(t, first, second)
}

func TestRoundRobin_SkipsEmptyChildren(t *testing.T) {
	r := NewRoundRobin()
	a := NewFIFO()
	b := NewFIFO()
	require.NoError(t, r.TryAddChild(a, nil))
	require.NoError(t, r.TryAddChild(b, nil))

	w := NewWorkload(noopPayload)
	require.NoError(t, b.Enqueue(w))

	got, ok := r.TryDequeueInternal(0, false)
	require.True(t, ok)
	assert.Same(t, w, got)
}

func TestRoundRobin_EmptyTreeReturnsFalse(t *testing.T) {
	r := NewRoundRobin()
	_, ok := r.TryDequeueInternal(0, false)
	assert.False(t, ok)

	require.NoError(t, r.TryAddChild(NewFIFO(), nil))
	_, ok = r.TryDequeueInternal(0, false)
	assert.False(t, ok)
}
