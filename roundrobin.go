package qdisc

import (
	"sync/atomic"

	"github.com/WKG-Software-GmbH/qdisc/diag"
)

// RoundRobin is a classful qdisc that dispatches to its children in
// rotating order, using the emptiness bitmap to skip children known to
// hold nothing; a child whose bit is clear is not tried.
type RoundRobin struct {
	classfulBase
	cursor atomic.Uint64
}

// RoundRobinOption configures a RoundRobin at construction time.
type RoundRobinOption func(*RoundRobin)

// WithRoundRobinHandle assigns the router's handle.
func WithRoundRobinHandle(h Handle) RoundRobinOption {
	return func(r *RoundRobin) { r.handle = h }
}

// WithRoundRobinMaxFanOut caps the number of children the router will
// accept.
func WithRoundRobinMaxFanOut(n int) RoundRobinOption {
	return func(r *RoundRobin) { r.maxFanOut = n }
}

// WithRoundRobinPredicate sets the router's own classification predicate:
// state matching it routes directly to the router's implicit local leaf
// (LocalLeaf), rather than to any explicitly added child.
func WithRoundRobinPredicate(p Predicate) RoundRobinOption {
	return func(r *RoundRobin) { r.predicate = p }
}

// WithRoundRobinLogger attaches a diagnostics logger used to report
// emptiness-bitmap token-CAS races encountered while scanning children.
func WithRoundRobinLogger(logger diag.Logger) RoundRobinOption {
	return func(r *RoundRobin) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRoundRobin constructs an empty round-robin router.
func NewRoundRobin(opts ...RoundRobinOption) *RoundRobin {
	r := &RoundRobin{classfulBase: newClassfulBase(NoHandle, nil, 0)}
	for _, o := range opts {
		o(r)
	}
	r.attachLocalLeaf()
	return r
}

// TryDequeueInternal scans children starting from the router's rotating
// cursor, consulting the emptiness bitmap to skip children known to hold
// nothing, and advances the cursor past whichever child it served from
// (or attempted to, on a miss) so the next call continues the rotation.
func (r *RoundRobin) TryDequeueInternal(workerID int, backtrack bool) (*Workload, bool) {
	r.childModLock.RLock()
	children := make([]*childEntry, len(r.children))
	copy(children, r.children)
	r.childModLock.RUnlock()

	n := len(children)
	if n == 0 {
		return nil, false
	}

	start := int(r.cursor.Load()) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if set, err := r.bitmap.IsBitSet(idx); err != nil || !set {
			continue
		}
		child := children[idx].q
		var (
			w  *Workload
			ok bool
		)
		switch v := child.(type) {
		case Classless:
			w, ok = v.TryDequeueInternal(workerID, backtrack)
		case Classful:
			w, ok = v.TryDequeueInternal(workerID, backtrack)
		}
		if ok {
			r.cursor.Store(uint64(idx + 1))
			if child.IsEmpty() {
				r.clearBitLogged(idx)
			}
			return w, true
		}
		// the bit said non-empty but the dequeue still missed (raced with
		// another worker); clear it and keep scanning.
		r.clearBitLogged(idx)
	}
	r.cursor.Store(uint64(start + 1))
	return nil, false
}

// OnWorkerTerminated is a no-op for round-robin: the policy holds no
// per-worker state.
func (r *RoundRobin) OnWorkerTerminated(workerID int) {}

var (
	_ Classful = (*RoundRobin)(nil)
)
