package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopPayload(flag *CancellationFlag) (any, error) { return nil, nil }

func TestFIFO_OrderIsFirstInFirstOut(t *testing.T) {
	f := NewFIFO()
	w1 := NewWorkload(noopPayload)
	w2 := NewWorkload(noopPayload)
	w3 := NewWorkload(noopPayload)
	require.NoError(t, f.Enqueue(w1))
	require.NoError(t, f.Enqueue(w2))
	require.NoError(t, f.Enqueue(w3))

	got, ok := f.TryDequeueInternal(0, false)
	require.True(t, ok)
	assert.Same(t, w1, got)

	got, ok = f.TryDequeueInternal(0, false)
	require.True(t, ok)
	assert.Same(t, w2, got)
}

func TestFIFO_EmptyReturnsFalse(t *testing.T) {
	f := NewFIFO()
	_, ok := f.TryDequeueInternal(0, false)
	assert.False(t, ok)
	assert.True(t, f.IsEmpty())
}

func TestFIFO_EnqueueAfterCompleteFails(t *testing.T) {
	f := NewFIFO()
	f.Complete()
	err := f.Enqueue(NewWorkload(noopPayload))
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestFIFO_PredicateGatesClassification(t *testing.T) {
	f := NewFIFO(WithFIFOPredicate(func(state any) bool { return state == "match" }))
	assert.True(t, f.CanClassify("match"))
	assert.False(t, f.CanClassify("nope"))

	ok, err := f.TryEnqueue("nope", NewWorkload(noopPayload))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.TryEnqueue("match", NewWorkload(noopPayload))
	require.NoError(t, err)
	assert.True(t, ok)
}
