package qdisc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_ScheduleByHandleRoutesToNamedLeaf(t *testing.T) {
	root := NewRoundRobin()
	leaf := NewFIFO(WithFIFOHandle("urgent"))
	require.NoError(t, root.TryAddChild(leaf, nil))

	sched, err := NewScheduler(root, WithMaxConcurrency(2))
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = sched.ScheduleByHandle("urgent", func(flag *CancellationFlag) (any, error) {
		close(done)
		return nil, nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workload did not run")
	}
}

func TestFactory_ScheduleByUnknownHandleFails(t *testing.T) {
	sched, err := NewScheduler(NewRoundRobin(), WithMaxConcurrency(1))
	require.NoError(t, err)
	_, err = sched.ScheduleByHandle("missing", noopPayload)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestFactory_ClassifyNoMatchFails(t *testing.T) {
	root := NewRoundRobin()
	require.NoError(t, root.TryAddChild(NewFIFO(), func(s any) bool { return s == "a" }))
	sched, err := NewScheduler(root, WithMaxConcurrency(1))
	require.NoError(t, err)

	_, err = sched.Classify("b", noopPayload)
	assert.ErrorIs(t, err, ErrNoClassifier)
}

func TestFactory_ScheduleAsyncAwaitsCompletion(t *testing.T) {
	sched, err := NewScheduler(NewFIFO(), WithMaxConcurrency(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w, err := sched.ScheduleAsync(ctx, func(flag *CancellationFlag) (any, error) {
		return "done", nil
	}, true)
	require.NoError(t, err)
	assert.True(t, w.Status().IsTerminal())
}

func TestFactory_WaitAllAggregatesErrors(t *testing.T) {
	sched, err := NewScheduler(NewFIFO(), WithMaxConcurrency(2))
	require.NoError(t, err)

	boom := errors.New("boom")
	w1, err := sched.Schedule(func(flag *CancellationFlag) (any, error) { return nil, boom })
	require.NoError(t, err)
	w2, err := sched.Schedule(func(flag *CancellationFlag) (any, error) { return nil, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = WaitAll(ctx, w1, w2)
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 1)
}

func TestFactory_WaitAnyReturnsFirstDone(t *testing.T) {
	sched, err := NewScheduler(NewFIFO(), WithMaxConcurrency(2))
	require.NoError(t, err)

	fast, err := sched.Schedule(func(flag *CancellationFlag) (any, error) { return "fast", nil })
	require.NoError(t, err)
	slowRelease := make(chan struct{})
	slow, err := sched.Schedule(func(flag *CancellationFlag) (any, error) {
		<-slowRelease
		return "slow", nil
	})
	require.NoError(t, err)
	defer close(slowRelease)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	winner, err := WaitAny(ctx, fast, slow)
	require.NoError(t, err)
	assert.Same(t, fast, winner)
}
