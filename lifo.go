package qdisc

import "sync"

// LIFO is an unbounded, classless last-in-first-out queue: a stack of
// workloads, serving the most recently enqueued one first.
type LIFO struct {
	classlessBase
	mu    sync.Mutex
	items []*Workload
}

// LIFOOption configures a LIFO at construction time.
type LIFOOption func(*LIFO)

// WithLIFOHandle assigns the stack's handle, making it reachable via
// ScheduleByHandle.
func WithLIFOHandle(h Handle) LIFOOption {
	return func(l *LIFO) { l.handle = h }
}

// WithLIFOPredicate sets the classification predicate a parent classful
// qdisc consults when routing by state rather than by handle.
func WithLIFOPredicate(p Predicate) LIFOOption {
	return func(l *LIFO) { l.predicate = p }
}

// NewLIFO constructs an empty, unbounded LIFO stack.
func NewLIFO(opts ...LIFOOption) *LIFO {
	l := &LIFO{classlessBase: newClasslessBase(NoHandle, nil)}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Enqueue binds w to the stack and pushes it.
func (l *LIFO) Enqueue(w *Workload) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := w.bind(l); err != nil {
		return err
	}
	l.mu.Lock()
	l.items = append(l.items, w)
	l.mu.Unlock()
	l.notifyParent()
	return nil
}

// TryEnqueueDirect enqueues w iff the stack's own predicate matches
// state.
func (l *LIFO) TryEnqueueDirect(state any, w *Workload) (bool, error) {
	if !l.CanClassify(state) {
		return false, nil
	}
	return true, l.Enqueue(w)
}

// TryEnqueue is, for a leaf, identical to TryEnqueueDirect.
func (l *LIFO) TryEnqueue(state any, w *Workload) (bool, error) {
	return l.TryEnqueueDirect(state, w)
}

// TryDequeueInternal removes and returns the most recently pushed
// workload. backtrack has no effect: a plain stack always serves the
// same top element regardless of a prior failed execution.
func (l *LIFO) TryDequeueInternal(workerID int, backtrack bool) (*Workload, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.items)
	if n == 0 {
		return nil, false
	}
	w := l.items[n-1]
	l.items[n-1] = nil
	l.items = l.items[:n-1]
	return w, true
}

// TryPeekUnsafe returns the top-of-stack workload without removing it.
func (l *LIFO) TryPeekUnsafe(workerID int) (*Workload, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.items)
	if n == 0 {
		return nil, false
	}
	return l.items[n-1], true
}

// TryRemove removes a specific resident workload.
func (l *LIFO) TryRemove(target *Workload) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.items {
		if w == target {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the stack currently holds no workload.
func (l *LIFO) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items) == 0
}

// RecursiveCount returns the number of resident workloads.
func (l *LIFO) RecursiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

var (
	_ Classless = (*LIFO)(nil)
)
