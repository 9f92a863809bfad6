package qdisc

import "context"

// Schedule enqueues payload directly on the root qdisc: into the root
// itself if it is classless, or into the root's implicit local leaf
// (bypassing classification entirely) if it is classful.
func (s *Scheduler) Schedule(payload Payload, opts ...WorkloadOption) (*Workload, error) {
	if s.disposed.Load() {
		return nil, ErrSchedulerClosed
	}
	leaf, ok := s.root.(Classless)
	if !ok {
		cf, ok := s.root.(Classful)
		if !ok {
			return nil, &ConfigurationError{Op: "Schedule", Reason: "root qdisc is neither Classless nor Classful"}
		}
		leaf = cf.LocalLeaf()
	}
	w := s.newWorkload(payload, opts...)
	if err := leaf.Enqueue(w); err != nil {
		return nil, err
	}
	return w, nil
}

// ScheduleByHandle routes payload to the descendant (or the root itself)
// carrying handle h, returning ErrUnknownHandle if no such qdisc exists.
// A classful qdisc carrying h receives payload in its implicit local leaf.
func (s *Scheduler) ScheduleByHandle(h Handle, payload Payload, opts ...WorkloadOption) (*Workload, error) {
	if s.disposed.Load() {
		return nil, ErrSchedulerClosed
	}
	leaf, err := s.resolveHandle(h)
	if err != nil {
		return nil, err
	}
	w := s.newWorkload(payload, opts...)
	if err := leaf.Enqueue(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Scheduler) resolveHandle(h Handle) (Classless, error) {
	if cl, ok := s.root.(Classless); ok {
		if cl.Handle() == h {
			return cl, nil
		}
		return nil, ErrUnknownHandle
	}
	cf, ok := s.root.(Classful)
	if !ok {
		return nil, ErrUnknownHandle
	}
	if cf.Handle() == h {
		return cf.LocalLeaf(), nil
	}
	path, found := cf.TryFindRoute(h)
	if !found || path.Leaf() == nil {
		return nil, ErrUnknownHandle
	}
	return path.Leaf(), nil
}

// Classify runs the tree's classification predicates against state and
// enqueues payload into the first matching leaf, returning
// ErrNoClassifier if nothing in the tree matches.
func (s *Scheduler) Classify(state any, payload Payload, opts ...WorkloadOption) (*Workload, error) {
	if s.disposed.Load() {
		return nil, ErrSchedulerClosed
	}
	w := s.newWorkload(payload, opts...)
	switch v := s.root.(type) {
	case Classless:
		if !v.CanClassify(state) {
			return nil, ErrNoClassifier
		}
		if err := v.Enqueue(w); err != nil {
			return nil, err
		}
		return w, nil
	case Classful:
		ok, err := v.TryEnqueue(state, w)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoClassifier
		}
		return w, nil
	default:
		return nil, ErrNoClassifier
	}
}

// ScheduleAsync schedules payload and, when awaitable is true, blocks
// until it reaches a terminal status (or ctx is canceled) before
// returning. This collapses the source design's separate synchronous
// and asynchronous scheduling entry points into one operation switched
// by a single bool, rather than a doubled API surface.
func (s *Scheduler) ScheduleAsync(ctx context.Context, payload Payload, awaitable bool, opts ...WorkloadOption) (*Workload, error) {
	w, err := s.Schedule(payload, opts...)
	if err != nil {
		return nil, err
	}
	if awaitable {
		if _, err := w.Await(ctx); err != nil {
			return w, err
		}
	}
	return w, nil
}

// WaitAll blocks until every workload in workloads reaches a terminal
// status, or ctx is canceled. It returns an *AggregateError collecting
// every non-nil workload result error, or nil if all succeeded.
func WaitAll(ctx context.Context, workloads ...*Workload) error {
	var errs []error
	for _, w := range workloads {
		if _, err := w.Await(ctx); err != nil {
			return err
		}
		if _, resErr := w.Result(); resErr != nil {
			errs = append(errs, resErr)
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// WaitAny blocks until the first of workloads reaches a terminal
// status, or ctx is canceled, returning that workload.
func WaitAny(ctx context.Context, workloads ...*Workload) (*Workload, error) {
	if len(workloads) == 0 {
		return nil, nil
	}
	type result struct {
		w   *Workload
		err error
	}
	out := make(chan result, len(workloads))
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, w := range workloads {
		w := w
		go func() {
			_, err := w.Await(innerCtx)
			select {
			case out <- result{w: w, err: err}:
			case <-innerCtx.Done():
			}
		}()
	}
	r := <-out
	return r.w, r.err
}
