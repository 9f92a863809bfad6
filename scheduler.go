package qdisc

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/WKG-Software-GmbH/qdisc/diag"
)

// Scheduler owns a tree of qdiscs rooted at a single Qdisc (classless or
// classful) and a dynamically-sized pool of worker goroutines that
// dequeue and run workloads from it.
//
// Workers are not pre-spawned: a worker goroutine is started only when
// work is scheduled and the pool is under its concurrency cap, and each
// worker exits once it observes the tree empty, following a race-safe
// check-again-after-marking-idle protocol so a workload enqueued in the
// narrow window between a worker's failed dequeue and its exit is never
// stranded unserved.
type Scheduler struct {
	root   Qdisc
	opts   schedulerOptions
	vtable *VirtualTimeTable

	mu             sync.Mutex
	cond           *sync.Cond
	currentWorkers int
	freeWorkerIDs  []int
	nextWorkerID   int

	disposed atomic.Bool
}

// NewScheduler constructs a Scheduler rooted at root. root must not
// already be attached to another scheduler or qdisc.
func NewScheduler(root Qdisc, opts ...SchedulerOption) (*Scheduler, error) {
	o := schedulerOptions{
		maxConcurrency: runtime.GOMAXPROCS(0),
		logger:         diag.NewNoOpLogger(),
	}
	for _, opt := range opts {
		if err := opt.applyScheduler(&o); err != nil {
			return nil, err
		}
	}
	vt := o.vtableOverride
	if vt == nil {
		vt = NewVirtualTimeTable(o.vtableSamples)
	}
	s := &Scheduler{
		root:   root,
		opts:   o,
		vtable: vt,
	}
	s.cond = sync.NewCond(&s.mu)
	root.setParent(schedulerParent{s: s}, 0)
	return s, nil
}

// Root returns the scheduler's root qdisc.
func (s *Scheduler) Root() Qdisc { return s.root }

// VirtualTimeTable returns the scheduler's shared execution-time
// statistics table, consulted by weighted-fair routers in the tree.
func (s *Scheduler) VirtualTimeTable() *VirtualTimeTable { return s.vtable }

func (s *Scheduler) newWorkload(payload Payload, opts ...WorkloadOption) *Workload {
	base := []WorkloadOption{
		WithContextOptions(s.opts.contextOptions),
		WithWorkloadLogger(s.opts.logger),
		withVTable(s.vtable),
	}
	return NewWorkload(payload, append(base, opts...)...)
}

func (s *Scheduler) tryDequeue(workerID int, backtrack bool) (*Workload, bool) {
	switch v := s.root.(type) {
	case Classless:
		return v.TryDequeueInternal(workerID, backtrack)
	case Classful:
		return v.TryDequeueInternal(workerID, backtrack)
	default:
		return nil, false
	}
}

// onWorkScheduled is invoked (via schedulerParent.notify) whenever any
// qdisc in the tree gains a workload. It starts one additional worker if
// the pool is below its concurrency cap; idle workers already polling
// the tree will simply pick the new workload up themselves.
func (s *Scheduler) onWorkScheduled() {
	s.mu.Lock()
	if s.disposed.Load() || s.currentWorkers >= s.opts.maxConcurrency {
		s.mu.Unlock()
		return
	}
	s.currentWorkers++
	id := s.acquireWorkerIDLocked()
	s.mu.Unlock()
	s.opts.logger.Event("worker spawned", diag.Caller(0), diag.F("worker_id", id), diag.F("worker_name", workerName(id)))
	go s.workerLoop(id)
}

// workerName derives a stable, human-readable name from a worker's
// counter-assigned id, for log correlation across spawn/exit pairs.
func workerName(workerID int) string {
	return "worker-" + strconv.Itoa(workerID)
}

func (s *Scheduler) acquireWorkerIDLocked() int {
	if n := len(s.freeWorkerIDs); n > 0 {
		id := s.freeWorkerIDs[n-1]
		s.freeWorkerIDs = s.freeWorkerIDs[:n-1]
		return id
	}
	id := s.nextWorkerID
	s.nextWorkerID++
	return id
}

// workerLoop repeatedly dequeues and runs workloads until the tree is
// observed empty and try_dequeue_or_exit_safely commits to exiting. A
// workload dequeued after DisposeRoot has been called is aborted via
// cancellation instead of executed: disposal is a commitment that no
// payload starts after it, not merely that no new one is accepted.
func (s *Scheduler) workerLoop(workerID int) {
	backtrack := false
	for {
		w, ok := s.tryDequeueOrExitSafely(workerID, backtrack)
		if !ok {
			s.opts.logger.Event("worker exited", diag.Caller(0), diag.F("worker_id", workerID), diag.F("worker_name", workerName(workerID)))
			return
		}
		backtrack = false
		if s.disposed.Load() {
			w.TryCancel()
			continue
		}
		w.TryRunSynchronously(workerID)
	}
}

// tryDequeueOrExitSafely attempts one dequeue; on a miss it releases the
// worker's slot, then re-samples the tree (the race window an enqueuer's
// notify could have landed in). If the scheduler is not disposed, the
// tree is non-empty and the pool is still below its cap, it re-claims a
// slot and tries again; otherwise it commits to exiting (when the pool is
// back at its cap, the worker holding the last slot serves the new work).
// This is the check-again-after-marking-idle protocol that keeps a racing
// enqueue from being left unserved without exceeding maxConcurrency.
func (s *Scheduler) tryDequeueOrExitSafely(workerID int, backtrack bool) (*Workload, bool) {
	for {
		if w, ok := s.tryDequeue(workerID, backtrack); ok {
			return w, true
		}
		backtrack = false

		s.mu.Lock()
		s.currentWorkers--
		s.mu.Unlock()

		if !s.disposed.Load() && !s.root.IsEmpty() {
			s.mu.Lock()
			reclaimed := s.currentWorkers < s.opts.maxConcurrency
			if reclaimed {
				s.currentWorkers++
			}
			s.mu.Unlock()
			if reclaimed {
				continue
			}
		}

		s.mu.Lock()
		s.freeWorkerIDs = append(s.freeWorkerIDs, workerID)
		s.cond.Broadcast()
		s.mu.Unlock()
		return nil, false
	}
}

// SchedulerStats is a point-in-time snapshot of pool occupancy, useful
// for diagnostics and load-shedding decisions.
type SchedulerStats struct {
	ActiveWorkers  int
	MaxConcurrency int
	Pending        int
}

// Stats returns a snapshot of the scheduler's current pool occupancy and
// the number of workloads still resident in its tree.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	active := s.currentWorkers
	s.mu.Unlock()
	return SchedulerStats{
		ActiveWorkers:  active,
		MaxConcurrency: s.opts.maxConcurrency,
		Pending:        s.root.RecursiveCount(),
	}
}

// DisposeRoot completes the root qdisc (rejecting further enqueues) and
// blocks until every worker goroutine has exited, or ctx is canceled
// first. Workloads already resident when DisposeRoot is called are not
// run to completion: any workload a worker dequeues after disposal is
// aborted via cancellation rather than executed.
func (s *Scheduler) DisposeRoot(ctx context.Context) error {
	s.disposed.Store(true)
	s.root.Complete()

	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for s.currentWorkers > 0 {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
