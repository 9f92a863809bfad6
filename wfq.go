package qdisc

import (
	"sync"
	"sync/atomic"

	"github.com/WKG-Software-GmbH/qdisc/diag"
)

// FairnessPreference selects the base virtual-finish-time WeightedFair
// compares candidates against.
type FairnessPreference int

const (
	// LongTermFairness computes a candidate's virtual finish time as
	// last_virtual_finish_time_i + candidate.virtual_execution_time: the
	// classic earliest-due-date formula, favoring children that have gone
	// longest without service.
	LongTermFairness FairnessPreference = iota
	// ShortTermFairness substitutes now() for last_virtual_finish_time_i,
	// favoring responsiveness over strict long-run fairness.
	ShortTermFairness
)

// fairState is attached to a workload's schedulerState by WeightedFair at
// enqueue time: the destination child's estimated virtual execution time,
// computed from the scheduler time model and the inverse of its weight.
// It is stripped once the workload is claimed off a candidate slot.
type fairState struct {
	virtualExecutionTime float64
}

// wfqChildState is one child's WFQ bookkeeping: a monotone virtual finish
// time and a 1-entry candidate-slot lookahead buffer, both guarded by the
// same per-child mutex so claiming or repopulating one child never blocks
// a concurrent scan of another.
type wfqChildState struct {
	mu         sync.Mutex
	lastFinish float64
	candidate  *Workload
	weight     float64
	punishment float64
}

// WeightedFair is a classful qdisc implementing a weighted-fair /
// earliest-due-date dispatch policy: each child carries a weight and a
// running virtual finish time; TryDequeueInternal always serves the
// non-empty child whose next candidate would finish earliest, then
// advances that child's finish time by the claimed workload's estimated
// execution cost divided by its weight (and scaled by its punishment
// factor).
//
// This is the qdisc that makes the VirtualTimeTable's per-payload
// statistics load-bearing: without an estimate of how long a workload's
// function will take, there is nothing to divide by weight.
type WeightedFair struct {
	classfulBase

	vtable         *VirtualTimeTable
	schedulerModel TimeModel
	executionModel TimeModel
	fairness       FairnessPreference

	// gen is bumped every time a candidate slot is successfully claimed.
	// A scan that observes gen change mid-flight restarts rather than
	// acting on a now-stale view of which child would finish earliest.
	gen atomic.Uint64

	mu     sync.Mutex
	states map[Qdisc]*wfqChildState
}

// WeightedFairOption configures a WeightedFair at construction time.
type WeightedFairOption func(*WeightedFair)

// WithWeightedFairHandle assigns the router's handle.
func WithWeightedFairHandle(h Handle) WeightedFairOption {
	return func(w *WeightedFair) { w.handle = h }
}

// WithWeightedFairMaxFanOut caps the number of children the router will
// accept.
func WithWeightedFairMaxFanOut(n int) WeightedFairOption {
	return func(w *WeightedFair) { w.maxFanOut = n }
}

// WithWeightedFairPredicate sets the router's own classification
// predicate: state matching it routes directly to the router's implicit
// local leaf, attaching FairState exactly as any other destination would.
func WithWeightedFairPredicate(p Predicate) WeightedFairOption {
	return func(w *WeightedFair) { w.predicate = p }
}

// WithWeightedFairFairness overrides the default LongTermFairness base
// used when comparing candidates' virtual finish times.
func WithWeightedFairFairness(pref FairnessPreference) WeightedFairOption {
	return func(w *WeightedFair) { w.fairness = pref }
}

// WithWeightedFairExecutionTimeModel overrides the dequeue-time model
// (default: the model passed to NewWeightedFair) used to advance a
// child's virtual finish time once a workload is claimed.
func WithWeightedFairExecutionTimeModel(m TimeModel) WeightedFairOption {
	return func(w *WeightedFair) { w.executionModel = m }
}

// WithWeightedFairLogger attaches a diagnostics logger used to report
// emptiness-bitmap token-CAS races and candidate-slot repopulation races
// encountered during TryDequeueInternal.
func WithWeightedFairLogger(logger diag.Logger) WeightedFairOption {
	return func(w *WeightedFair) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWeightedFair constructs an empty weighted-fair router. vtable
// supplies the per-payload execution-time estimates the policy divides
// by each child's weight; model seeds both the enqueue-time scheduler
// time model and the dequeue-time execution time model (either may be
// overridden independently via options). When this router is part of a
// tree handed to NewScheduler, pass the same vtable to
// WithVirtualTimeTable so the scheduler records execution times into the
// table this router reads from, instead of building a second, disjoint
// one.
func NewWeightedFair(vtable *VirtualTimeTable, model TimeModel, opts ...WeightedFairOption) *WeightedFair {
	w := &WeightedFair{
		classfulBase:   newClassfulBase(NoHandle, nil, 0),
		vtable:         vtable,
		schedulerModel: model,
		executionModel: model,
		states:         make(map[Qdisc]*wfqChildState),
	}
	for _, o := range opts {
		o(w)
	}
	w.attachLocalLeaf()
	w.states[Qdisc(w.LocalLeaf())] = &wfqChildState{weight: 1, punishment: 1}
	return w
}

// AddChild adds child with the given classification predicate (may be
// nil), scheduling weight (larger weight means a larger share of
// dispatch slots; non-positive weight is treated as 1), and an optional
// execution punishment factor (scales the virtual-finish advance on top
// of weight; defaults to 1, i.e. no extra punishment). Per the EDD
// correctness invariant, every child's (and the local leaf's) virtual
// finish time is reset to 0 when a new child is added, so a newcomer is
// never starved by — or unfairly favored over — the existing children's
// accumulated history.
func (w *WeightedFair) AddChild(child Qdisc, predicate Predicate, weight float64, punishmentFactor ...float64) error {
	if weight <= 0 {
		weight = 1
	}
	factor := 1.0
	if len(punishmentFactor) > 0 && punishmentFactor[0] > 0 {
		factor = punishmentFactor[0]
	}
	if err := w.classfulBase.TryAddChild(child, predicate); err != nil {
		return err
	}
	w.mu.Lock()
	w.states[child] = &wfqChildState{weight: weight, punishment: factor}
	for _, st := range w.states {
		st.mu.Lock()
		st.lastFinish = 0
		st.mu.Unlock()
	}
	w.mu.Unlock()
	return nil
}

// TryAddChild implements Classful.TryAddChild with a default weight of 1,
// so a caller routing through the Classful interface (rather than
// WeightedFair's own AddChild) still gets correctly-initialized
// bookkeeping instead of a nil child state.
func (w *WeightedFair) TryAddChild(child Qdisc, predicate Predicate) error {
	return w.AddChild(child, predicate, 1)
}

// TryRemoveChild additionally drops child's WFQ bookkeeping once
// detached.
func (w *WeightedFair) TryRemoveChild(child Qdisc) (bool, error) {
	ok, err := w.classfulBase.TryRemoveChild(child)
	if ok {
		w.mu.Lock()
		delete(w.states, child)
		w.mu.Unlock()
	}
	return ok, err
}

func (w *WeightedFair) stateFor(q Qdisc) *wfqChildState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.states[q]
}

// attachFairState computes dest's estimated virtual execution time from
// the scheduler time model and its weight, and stashes it on wl's
// schedulerState for TryDequeueInternal to read back once wl reaches the
// front of dest's candidate slot.
func (w *WeightedFair) attachFairState(wl *Workload, dest Qdisc) {
	weight := 1.0
	if st := w.stateFor(dest); st != nil {
		st.mu.Lock()
		weight = st.weight
		st.mu.Unlock()
	}
	if weight <= 0 {
		weight = 1
	}

	estimate := 1.0
	if wl.payload != nil {
		entry := w.vtable.EntryFor(wl.payload)
		if stats := entry.Snapshot(); stats.SampleCount > 0 {
			estimate = entry.For(w.schedulerModel)
		}
	}
	wl.schedulerState = &fairState{virtualExecutionTime: estimate / weight}
}

// TryEnqueue performs the depth-first classification search, attaching
// FairState to wl for whichever destination ends up matching before
// committing the enqueue.
func (w *WeightedFair) TryEnqueue(state any, wl *Workload) (bool, error) {
	if err := w.checkOpen(); err != nil {
		return false, err
	}

	if w.predicate != nil && w.predicate(state) {
		w.attachFairState(wl, Qdisc(w.LocalLeaf()))
		return true, w.LocalLeaf().Enqueue(wl)
	}

	w.childModLock.RLock()
	children := make([]*childEntry, len(w.children))
	copy(children, w.children)
	w.childModLock.RUnlock()

	for _, c := range children {
		if c.predicate != nil && c.predicate(state) {
			w.attachFairState(wl, c.q)
			return enqueueMatched(c.q, state, wl)
		}
	}
	for _, c := range children {
		if c.predicate == nil {
			w.attachFairState(wl, c.q)
			if ok, err := enqueueInto(c.q, state, wl); ok || err != nil {
				return ok, err
			}
		}
	}
	return false, nil
}

// TryEnqueueDirect enqueues wl into the local leaf iff the router's own
// predicate matches state, attaching FairState first.
func (w *WeightedFair) TryEnqueueDirect(state any, wl *Workload) (bool, error) {
	if w.predicate == nil || !w.predicate(state) {
		return false, nil
	}
	if err := w.checkOpen(); err != nil {
		return false, err
	}
	w.attachFairState(wl, Qdisc(w.LocalLeaf()))
	return true, w.LocalLeaf().Enqueue(wl)
}

// TryDequeueInternal implements the §4.5.2 dequeue algorithm: scan every
// non-empty child for its candidate workload (repopulating the 1-entry
// lookahead slot under that child's mutex if empty), pick the minimum
// virtual finish time, then claim the chosen child's candidate with a
// CAS-style re-check — restarting the whole scan if the generation
// counter moved (another worker claimed something) or the claim lost a
// race. backtrack is ignored: fairness overrides backtracking.
func (w *WeightedFair) TryDequeueInternal(workerID int, _ bool) (*Workload, bool) {
	for {
		w.childModLock.RLock()
		children := make([]*childEntry, len(w.children))
		copy(children, w.children)
		w.childModLock.RUnlock()

		n := len(children)
		if n == 0 {
			return nil, false
		}

		startGen := w.gen.Load()

		var (
			bestIdx      = -1
			bestState    *wfqChildState
			bestWorkload *Workload
			bestFinish   float64
		)

		for i, c := range children {
			set, err := w.bitmap.IsBitSet(i)
			if err != nil || !set {
				continue
			}
			st := w.stateFor(c.q)
			if st == nil {
				continue
			}
			wl, vf, ok := w.scanChild(i, c.q, st)
			if !ok {
				continue
			}
			if bestIdx < 0 || vf < bestFinish {
				bestIdx, bestState, bestWorkload, bestFinish = i, st, wl, vf
			}
		}

		if bestIdx < 0 {
			return nil, false
		}
		if w.gen.Load() != startGen {
			continue
		}

		claimed, ok := bestState.claim(bestWorkload)
		if !ok {
			continue
		}

		cost := w.executionCost(claimed)
		weight, punishment := bestState.weightAndPunishment()
		bestState.advanceFinish(cost * punishment / weight)
		w.gen.Add(1)

		claimed.schedulerState = nil
		w.repopulate(bestIdx, children[bestIdx].q, bestState)

		return claimed, true
	}
}

// scanChild repopulates child i's candidate slot if empty (dequeuing one
// workload from its sub-qdisc) and returns it alongside its computed
// virtual finish time. It takes the child's mutex only for the duration
// of this call (TryLock, so a concurrently repopulating worker is
// skipped rather than blocked); the candidate is re-validated at claim
// time against exactly this race.
func (w *WeightedFair) scanChild(i int, q Qdisc, st *wfqChildState) (*Workload, float64, bool) {
	if !st.mu.TryLock() {
		w.logger.Debug("candidate slot repopulation already in progress on another worker; skipping child this round",
			diag.Caller(0), diag.F("child_index", i))
		return nil, 0, false
	}
	defer st.mu.Unlock()

	if st.candidate == nil {
		wl, ok := dequeueFromChild(q, -1)
		if !ok {
			w.clearBitLogged(i)
			return nil, 0, false
		}
		st.candidate = wl
	}

	estimate := 1.0
	if fs, ok := st.candidate.schedulerState.(*fairState); ok {
		estimate = fs.virtualExecutionTime
	}
	base := st.lastFinish
	if w.fairness == ShortTermFairness {
		base = w.vtable.Now()
	}
	return st.candidate, base + estimate, true
}

// repopulate attempts to refill child i's candidate slot immediately
// after a successful claim, so the next scan doesn't have to wait on a
// fresh dequeue.
func (w *WeightedFair) repopulate(i int, q Qdisc, st *wfqChildState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.candidate != nil {
		return
	}
	wl, ok := dequeueFromChild(q, -1)
	if !ok {
		w.clearBitLogged(i)
		return
	}
	st.candidate = wl
}

func dequeueFromChild(q Qdisc, workerID int) (*Workload, bool) {
	switch v := q.(type) {
	case Classless:
		return v.TryDequeueInternal(workerID, false)
	case Classful:
		return v.TryDequeueInternal(workerID, false)
	default:
		return nil, false
	}
}

func (w *WeightedFair) executionCost(wl *Workload) float64 {
	if wl.payload == nil {
		return 1.0
	}
	entry := w.vtable.EntryFor(wl.payload)
	if stats := entry.Snapshot(); stats.SampleCount > 0 {
		return entry.For(w.executionModel)
	}
	return 1.0
}

func (st *wfqChildState) claim(expected *Workload) (*Workload, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.candidate != expected {
		return nil, false
	}
	st.candidate = nil
	return expected, true
}

func (st *wfqChildState) advanceFinish(delta float64) {
	st.mu.Lock()
	st.lastFinish += delta
	st.mu.Unlock()
}

func (st *wfqChildState) weightAndPunishment() (float64, float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	weight, punishment := st.weight, st.punishment
	if weight <= 0 {
		weight = 1
	}
	if punishment <= 0 {
		punishment = 1
	}
	return weight, punishment
}

// OnWorkerTerminated is a no-op: WFQ's per-child state does not depend on
// which worker served a workload.
func (w *WeightedFair) OnWorkerTerminated(workerID int) {}

var (
	_ Classful = (*WeightedFair)(nil)
)
