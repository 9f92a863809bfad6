package qdisc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the zero-data error kinds named in the scheduler's
// error handling design. Use [errors.Is] to test for these.
var (
	// ErrSchedulerClosed is returned when an enqueue is attempted after the
	// target qdisc (or the scheduler's root) has been completed/disposed.
	ErrSchedulerClosed = errors.New("qdisc: scheduler closed")

	// ErrUnknownHandle is returned by ScheduleByHandle when no descendant
	// qdisc carries the requested handle.
	ErrUnknownHandle = errors.New("qdisc: unknown handle")

	// ErrNoClassifier is returned when no predicate anywhere in the subtree
	// matched the classification state.
	ErrNoClassifier = errors.New("qdisc: no classifier matched")
)

// ConfigurationError reports invalid builder/constructor input: a
// duplicate handle among a qdisc's children, exceeding a qdisc's maximum
// fan-out, a non-positive max concurrency, or removing a child that is
// missing or is the implicit local leaf. It is always surfaced
// synchronously to the caller that attempted the mutation. A
// non-positive bounded capacity is not reported as an error (NewBounded
// treats it as 1).
type ConfigurationError struct {
	// Op names the operation that failed (e.g. "TryAddChild", "WithMaxConcurrency").
	Op string
	// Reason is a short human-readable explanation.
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("qdisc: configuration error in %s: %s", e.Op, e.Reason)
}

// InconsistencyError reports a violated internal invariant, such as an
// enqueue-by-handle routing path pointing at a child that no longer
// exists. On the enqueuing thread it propagates to the caller. On a
// worker thread, a workload found in an illegal phase is logged as a
// fatal diagnostic and left in its current status; it is not
// transitioned to Faulted.
type InconsistencyError struct {
	Detail string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("qdisc: internal inconsistency: %s", e.Detail)
}

// FaultedError wraps a panic/error raised by a workload's payload. It is
// attached to the workload's result; it never propagates to the worker
// goroutine.
type FaultedError struct {
	Cause error
}

func (e *FaultedError) Error() string {
	return fmt.Sprintf("qdisc: workload faulted: %v", e.Cause)
}

func (e *FaultedError) Unwrap() error { return e.Cause }

// CanceledReason explains why a workload transitioned to Canceled.
type CanceledReason string

const (
	// CanceledByCaller means try_cancel was invoked (before or during run).
	CanceledByCaller CanceledReason = "Canceled"
	// CanceledByToken means an external CancellationToken fired.
	CanceledByToken CanceledReason = "TokenFired"
	// CanceledOverwritten means a bounded qdisc evicted the workload to make
	// room for a newer enqueue.
	CanceledOverwritten CanceledReason = "Overwritten"
)

// CanceledError wraps the reason a workload was canceled.
type CanceledError struct {
	Reason CanceledReason
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("qdisc: workload canceled: %s", e.Reason)
}

// Is allows errors.Is(err, ErrWorkloadCanceled) to match any CanceledError
// regardless of its specific reason.
func (e *CanceledError) Is(target error) bool {
	return target == ErrWorkloadCanceled
}

// ErrWorkloadCanceled is the kind-level sentinel matched by any *CanceledError.
var ErrWorkloadCanceled = errors.New("qdisc: workload canceled")

// AggregateError collects multiple errors from a fan-in operation such as
// WaitAll. It implements Unwrap() []error (Go 1.20+ multi-error support),
// so errors.Is/errors.As check against every contained error.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("qdisc: %d workloads did not complete successfully", len(e.Errors))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// Is implements custom matching: an AggregateError matches itself as a
// type (regardless of contents), in addition to the standard Unwrap
// traversal of its members.
func (e *AggregateError) Is(target error) bool {
	var agg *AggregateError
	return errors.As(target, &agg)
}
