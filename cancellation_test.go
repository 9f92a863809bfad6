package qdisc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancellationFlag_ThrowIfCancellationRequested(t *testing.T) {
	var f CancellationFlag
	assert.NoError(t, f.ThrowIfCancellationRequested())
	f.request()
	err := f.ThrowIfCancellationRequested()
	assert.ErrorIs(t, err, ErrWorkloadCanceled)
	assert.True(t, f.IsCancellationRequested())
}

func TestCancellationFlag_MarkCanceled(t *testing.T) {
	var f CancellationFlag
	f.MarkCanceled()
	assert.True(t, f.IsCancellationRequested())
}

func TestCancellationToken_ContextSatisfiesInterface(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var tok CancellationToken = ctx
	assert.NotNil(t, tok.Done())
	assert.NoError(t, tok.Err())
}
