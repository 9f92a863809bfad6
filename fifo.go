package qdisc

import "sync"

// FIFO is an unbounded, classless first-in-first-out queue: the
// simplest leaf qdisc, and the default choice when a scheduler's root
// has no classification requirements at all.
type FIFO struct {
	classlessBase
	mu    sync.Mutex
	items []*Workload
}

// FIFOOption configures a FIFO at construction time.
type FIFOOption func(*FIFO)

// WithFIFOHandle assigns the queue's handle, making it reachable via
// ScheduleByHandle.
func WithFIFOHandle(h Handle) FIFOOption {
	return func(f *FIFO) { f.handle = h }
}

// WithFIFOPredicate sets the classification predicate a parent classful
// qdisc consults when routing by state rather than by handle.
func WithFIFOPredicate(p Predicate) FIFOOption {
	return func(f *FIFO) { f.predicate = p }
}

// NewFIFO constructs an empty, unbounded FIFO queue.
func NewFIFO(opts ...FIFOOption) *FIFO {
	f := &FIFO{classlessBase: newClasslessBase(NoHandle, nil)}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Enqueue binds w to the queue and appends it at the tail.
func (f *FIFO) Enqueue(w *Workload) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := w.bind(f); err != nil {
		return err
	}
	f.mu.Lock()
	f.items = append(f.items, w)
	f.mu.Unlock()
	f.notifyParent()
	return nil
}

// TryEnqueueDirect enqueues w iff the queue's own predicate matches
// state.
func (f *FIFO) TryEnqueueDirect(state any, w *Workload) (bool, error) {
	if !f.CanClassify(state) {
		return false, nil
	}
	return true, f.Enqueue(w)
}

// TryEnqueue is, for a leaf, identical to TryEnqueueDirect.
func (f *FIFO) TryEnqueue(state any, w *Workload) (bool, error) {
	return f.TryEnqueueDirect(state, w)
}

// TryDequeueInternal removes and returns the oldest resident workload.
// backtrack has no effect: a FIFO always serves the same element
// regardless of whether the prior dequeue's execution failed.
func (f *FIFO) TryDequeueInternal(workerID int, backtrack bool) (*Workload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, false
	}
	w := f.items[0]
	f.items[0] = nil
	f.items = f.items[1:]
	return w, true
}

// TryPeekUnsafe returns the oldest resident workload without removing
// it.
func (f *FIFO) TryPeekUnsafe(workerID int) (*Workload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, false
	}
	return f.items[0], true
}

// TryRemove removes a specific resident workload, used by TryCancel's
// (currently best-effort, linear-scan) path for a workload still
// Scheduled.
func (f *FIFO) TryRemove(target *Workload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.items {
		if w == target {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the queue currently holds no workload.
func (f *FIFO) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items) == 0
}

// RecursiveCount returns the number of resident workloads (a leaf has no
// descendants to recurse into).
func (f *FIFO) RecursiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

var (
	_ Classless = (*FIFO)(nil)
)
