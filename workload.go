package qdisc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WKG-Software-GmbH/qdisc/diag"
)

// Status is the bit-flag status of a workload, combining its discrete
// lifecycle phase with the independent CancellationRequested and
// ContinuationsInvoked flags.
type Status uint32

const (
	StatusCreated Status = 1 << iota
	StatusScheduled
	StatusRunning
	StatusCancellationRequested
	StatusRanToCompletion
	StatusCanceled
	StatusFaulted
	StatusPooled
	StatusContinuationsInvoked
)

func (s Status) String() string {
	if s == 0 {
		return "None"
	}
	names := []struct {
		bit  Status
		name string
	}{
		{StatusCreated, "Created"},
		{StatusScheduled, "Scheduled"},
		{StatusRunning, "Running"},
		{StatusCancellationRequested, "CancellationRequested"},
		{StatusRanToCompletion, "RanToCompletion"},
		{StatusCanceled, "Canceled"},
		{StatusFaulted, "Faulted"},
		{StatusPooled, "Pooled"},
		{StatusContinuationsInvoked, "ContinuationsInvoked"},
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// IsTerminal reports whether the status includes one of the three
// terminal phases (RanToCompletion, Canceled, Faulted).
func (s Status) IsTerminal() bool {
	return s&(StatusRanToCompletion|StatusCanceled|StatusFaulted) != 0
}

// phase is the discrete internal lifecycle state. CancellationRequested
// and ContinuationsInvoked are tracked as separate flags rather than
// phases, since they can be true simultaneously with Running or with a
// terminal phase respectively.
type phase uint32

const (
	phaseCreated phase = iota
	phaseScheduled
	phaseRunning
	phaseRanToCompletion
	phaseCanceled
	phaseFaulted
	phasePooled
)

func (p phase) status() Status {
	switch p {
	case phaseCreated:
		return StatusCreated
	case phaseScheduled:
		return StatusScheduled
	case phaseRunning:
		return StatusRunning
	case phaseRanToCompletion:
		return StatusRanToCompletion
	case phaseCanceled:
		return StatusCanceled
	case phaseFaulted:
		return StatusFaulted
	case phasePooled:
		return StatusPooled
	default:
		return 0
	}
}

// Payload is the unit of work a Workload executes. It receives the
// workload's CancellationFlag (nil-safe to check: a never-canceled flag
// simply never reports a request) and returns a result value and/or an
// error.
type Payload func(flag *CancellationFlag) (any, error)

// ContextOptions mirrors the source design's per-workload execution
// context flags. Go has no ambient synchronization-context concept, so
// ContinueOnCapturedContext is honored via an explicit Dispatcher
// callback instead of an implicit captured context.
type ContextOptions struct {
	// FlowExecutionContext indicates whether a context.Context value
	// attached at schedule time should be propagated into continuations.
	FlowExecutionContext bool

	// ContinueOnCapturedContext, when true and Dispatcher is non-nil,
	// routes continuation invocation through Dispatcher instead of
	// running it directly on the completing goroutine.
	ContinueOnCapturedContext bool

	// Dispatcher, if set, is used to run continuations when
	// ContinueOnCapturedContext is true.
	Dispatcher func(func())
}

type continuationEntry func(*Workload)

var nextWorkloadID atomic.Uint64

// Workload is a stateful unit of deferred work with a lifecycle state
// machine, a cancellation flag, and an ordered list of continuations.
type Workload struct {
	id    uint64
	phase atomic.Uint32

	cancellationRequested atomic.Bool
	continuationsInvoked  atomic.Bool

	payload    Payload
	flag       CancellationFlag
	ctxOptions ContextOptions

	token       CancellationToken
	stopWatcher chan struct{}

	mu            sync.Mutex
	continuations []continuationEntry
	dispatching   bool

	binding atomic.Pointer[classlessHandle]

	schedulerState any

	result any
	resErr error

	doneCh chan struct{}

	logger diag.Logger

	vtable    *VirtualTimeTable
	startedAt time.Time

	serviceProvider ServiceProvider
}

// classlessHandle is the minimal view of a leaf qdisc a workload needs to
// hold as its (weak, non-owning) binding reference, used only for
// cooperative removal-on-cancel.
type classlessHandle struct {
	q Classless
}

// WorkloadOption configures a Workload at construction time.
type WorkloadOption func(*Workload)

// WithCancellationToken attaches an external cancellation source. If the
// token is already done at schedule time, or fires while the workload is
// Scheduled, the workload transitions straight to Canceled without
// running its payload; if it fires while Running, the workload's
// CancellationFlag is set so the payload can cooperatively observe it.
func WithCancellationToken(token CancellationToken) WorkloadOption {
	return func(w *Workload) { w.token = token }
}

// WithContextOptions sets the workload's ContextOptions.
func WithContextOptions(opts ContextOptions) WorkloadOption {
	return func(w *Workload) { w.ctxOptions = opts }
}

// WithWorkloadLogger attaches a diagnostics logger used to report illegal
// state transitions (a scheduler bug, per the source design) encountered
// by this workload.
func WithWorkloadLogger(logger diag.Logger) WorkloadOption {
	return func(w *Workload) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// withVTable attaches the virtual-time table a classful qdisc's WFQ
// policy uses to record this workload's execution duration. It is
// unexported: only the scheduler core wires it up.
func withVTable(vt *VirtualTimeTable) WorkloadOption {
	return func(w *Workload) { w.vtable = vt }
}

// NewWorkload constructs a workload in the Created phase.
func NewWorkload(payload Payload, opts ...WorkloadOption) *Workload {
	w := &Workload{
		id:     nextWorkloadID.Add(1),
		doneCh: make(chan struct{}),
		logger: diag.NewNoOpLogger(),
	}
	w.payload = payload
	w.phase.Store(uint32(phaseCreated))
	for _, o := range opts {
		o(w)
	}
	if w.token != nil {
		w.stopWatcher = make(chan struct{})
		go w.watchToken()
	}
	return w
}

func (w *Workload) watchToken() {
	select {
	case <-w.token.Done():
		w.tryCancelInternal(CanceledByToken)
	case <-w.stopWatcher:
	}
}

// ID returns the workload's monotonically increasing, process-unique id.
func (w *Workload) ID() uint64 { return w.id }

// Status returns the workload's current bit-flag status.
func (w *Workload) Status() Status {
	s := phase(w.phase.Load()).status()
	if w.cancellationRequested.Load() && s == StatusRunning {
		s |= StatusCancellationRequested
	}
	if w.continuationsInvoked.Load() {
		s |= StatusContinuationsInvoked
	}
	return s
}

// Result returns the workload's result value and error, valid only once
// Status().IsTerminal() is true.
func (w *Workload) Result() (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.resErr
}

// CancellationFlag returns the workload's cancellation flag. This is
// primarily useful for tests; payloads receive the same flag as an
// argument.
func (w *Workload) CancellationFlag() *CancellationFlag { return &w.flag }

// bind assigns the leaf qdisc currently holding this workload and
// transitions Created -> Scheduled. Returns an *InconsistencyError if the
// workload was not in the Created phase (a workload may only ever be
// bound once).
func (w *Workload) bind(q Classless) error {
	if !w.phase.CompareAndSwap(uint32(phaseCreated), uint32(phaseScheduled)) {
		return &InconsistencyError{Detail: fmt.Sprintf("workload %d bind: not in Created phase", w.id)}
	}
	w.binding.Store(&classlessHandle{q: q})
	return nil
}

// clearBinding drops the workload's owning-qdisc reference. Called once
// the workload reaches a terminal phase.
func (w *Workload) clearBinding() {
	w.binding.Store(nil)
}

// boundQdisc returns the leaf qdisc currently holding this workload, or
// nil if unbound (not yet scheduled, or already terminal).
func (w *Workload) boundQdisc() Classless {
	h := w.binding.Load()
	if h == nil {
		return nil
	}
	return h.q
}

// TryCancel transitions Scheduled -> Canceled (if not yet running), or
// sets the cooperative CancellationRequested flag if Running. Returns
// whether cancellation was accepted in either form.
func (w *Workload) TryCancel() bool {
	return w.tryCancelInternal(CanceledByCaller)
}

func (w *Workload) tryCancelInternal(reason CanceledReason) bool {
	if w.phase.CompareAndSwap(uint32(phaseScheduled), uint32(phaseCanceled)) {
		if q := w.boundQdisc(); q != nil {
			q.TryRemove(w)
		}
		w.flag.request()
		w.finalize(nil, &CanceledError{Reason: reason})
		return true
	}
	if phase(w.phase.Load()) == phaseRunning {
		if w.cancellationRequested.CompareAndSwap(false, true) {
			w.flag.request()
		}
		return true
	}
	return false
}

// evictOverwritten transitions the workload directly to Canceled with
// reason Overwritten, used by bounded qdiscs when making room for a new
// enqueue. It only succeeds from Scheduled (a resident workload is
// always Scheduled; it becomes Running only once a worker has dequeued
// it, by which point it is no longer resident in any qdisc).
func (w *Workload) evictOverwritten() bool {
	if w.phase.CompareAndSwap(uint32(phaseScheduled), uint32(phaseCanceled)) {
		w.finalize(nil, &CanceledError{Reason: CanceledOverwritten})
		return true
	}
	return false
}

// TryRunSynchronously transitions Scheduled -> Running, invokes the
// payload, and transitions to RanToCompletion, Canceled, or Faulted
// depending on the outcome. If the workload's cancellation token is
// already done, it transitions to Canceled instead, without invoking the
// payload. Returns false only if the workload was not in the Scheduled
// phase, which indicates a scheduler bug; such calls are logged rather
// than panicking, per the error handling design.
func (w *Workload) TryRunSynchronously(workerID int) bool {
	if w.token != nil && w.token.Err() != nil && w.tryCancelInternal(CanceledByToken) {
		return true
	}
	if !w.phase.CompareAndSwap(uint32(phaseScheduled), uint32(phaseRunning)) {
		w.logger.Fatal("workload not in Scheduled phase at run time", diag.Caller(0),
			diag.F("workload_id", w.id), diag.F("worker_id", workerID), diag.F("status", w.Status().String()))
		return false
	}
	w.clearBinding()
	if w.token != nil && w.token.Err() != nil {
		w.cancellationRequested.Store(true)
		w.flag.request()
	}
	if w.vtable != nil {
		w.startedAt = time.Now()
	}

	result, err := w.invokePayload(workerID)

	if w.vtable != nil {
		w.vtable.Record(w.payload, time.Since(w.startedAt))
	}

	switch {
	case err != nil && isCanceledError(err):
		w.phase.Store(uint32(phaseCanceled))
		w.finalize(nil, err)
	case err != nil:
		w.phase.Store(uint32(phaseFaulted))
		w.finalize(nil, &FaultedError{Cause: err})
	default:
		w.phase.Store(uint32(phaseRanToCompletion))
		w.finalize(result, nil)
	}
	return true
}

func isCanceledError(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}

// invokePayload runs the payload, converting a panic into a
// *FaultedError rather than crashing the worker goroutine, mirroring the
// "errors originating inside a payload are always trapped at the worker
// boundary" propagation policy.
func (w *Workload) invokePayload(workerID int) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	return w.payload(&w.flag)
}

// finalize stores the result/error, stops the token watcher, marks the
// phase transition complete, and dispatches continuations.
func (w *Workload) finalize(result any, err error) {
	w.mu.Lock()
	w.result = result
	w.resErr = err
	w.mu.Unlock()
	w.clearBinding()
	if w.stopWatcher != nil {
		select {
		case <-w.stopWatcher:
		default:
			close(w.stopWatcher)
		}
	}
	w.runContinuations()
}

// ContinueWith appends a one-shot continuation. Per the canonical
// inlining rule: if the workload's terminal status is already visible
// and the appender is not itself inside this workload's continuation
// dispatch loop, the callback runs inline, synchronously, before
// ContinueWith returns. Otherwise it is queued and run by the goroutine
// draining continuations (the completing worker, or a reentrant
// continuation appending another continuation to itself).
func (w *Workload) ContinueWith(cb func(*Workload)) {
	w.mu.Lock()
	if w.Status().IsTerminal() && !w.dispatching {
		w.mu.Unlock()
		w.invokeContinuation(cb)
		return
	}
	w.continuations = append(w.continuations, cb)
	w.mu.Unlock()
}

func (w *Workload) invokeContinuation(cb continuationEntry) {
	if w.ctxOptions.ContinueOnCapturedContext && w.ctxOptions.Dispatcher != nil {
		w.ctxOptions.Dispatcher(func() { cb(w) })
		return
	}
	cb(w)
}

// runContinuations drains the continuation list, repeatedly, until no
// more remain (a continuation may itself append another continuation).
// Once drained, ContinuationsInvoked becomes visible and Wait/await
// callers unblock.
func (w *Workload) runContinuations() {
	w.mu.Lock()
	w.dispatching = true
	for len(w.continuations) > 0 {
		batch := w.continuations
		w.continuations = nil
		w.mu.Unlock()
		for _, cb := range batch {
			w.invokeContinuation(cb)
		}
		w.mu.Lock()
	}
	w.dispatching = false
	w.mu.Unlock()
	w.continuationsInvoked.Store(true)
	close(w.doneCh)
}

// RegisterServiceProvider attaches a per-invocation service provider
// before execution begins. It is a no-op once the workload has left the
// Created and Scheduled phases (it is running or already terminal).
func (w *Workload) RegisterServiceProvider(sp ServiceProvider) {
	if p := phase(w.phase.Load()); p != phaseCreated && p != phaseScheduled {
		return
	}
	w.mu.Lock()
	w.serviceProvider = sp
	w.mu.Unlock()
}

// ServiceProvider returns the workload's attached service provider, or
// nil if none was registered.
func (w *Workload) ServiceProvider() ServiceProvider {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.serviceProvider
}

// Await blocks until the workload reaches a terminal status (with
// continuations invoked), or ctx is canceled first.
func (w *Workload) Await(ctx context.Context) (Status, error) {
	select {
	case <-w.doneCh:
		return w.Status(), nil
	case <-ctx.Done():
		return w.Status(), ctx.Err()
	}
}

// Wait blocks until the workload reaches a terminal status, or timeout
// elapses. It returns false on expiry; expiry does not cancel the
// workload. A non-positive timeout waits without a time limit.
func (w *Workload) Wait(timeout time.Duration) (Status, bool) {
	if timeout <= 0 {
		<-w.doneCh
		return w.Status(), true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.doneCh:
		return w.Status(), true
	case <-timer.C:
		return w.Status(), false
	}
}

// Done returns a channel closed once the workload's continuations have
// been invoked (its final visible status).
func (w *Workload) Done() <-chan struct{} { return w.doneCh }
