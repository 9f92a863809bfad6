package qdisc

import "sync"

// BoundedMode selects a Bounded queue's dequeue order. Both modes share
// the same fixed-capacity ring storage and overwrite-eviction behavior
// when full; they differ only in which end TryDequeueInternal serves
// from.
type BoundedMode int

const (
	// BoundedFIFO serves the oldest resident workload first.
	BoundedFIFO BoundedMode = iota
	// BoundedLIFO serves the most recently enqueued workload first.
	BoundedLIFO
)

// Bounded is a fixed-capacity, classless leaf backed by a power-of-two
// ring buffer. When Enqueue is called against a full queue, a resident
// workload is evicted (transitioned to Canceled with
// CanceledOverwritten) to make room for the new one, rather than
// blocking or failing — mirroring a network interface's bounded
// transmit ring. BoundedFIFO evicts the oldest resident; BoundedLIFO
// evicts the current top (the most recently written slot), since that
// is the slot the new workload is about to occupy.
type Bounded struct {
	classlessBase
	mode BoundedMode

	mu   sync.Mutex
	ring []*Workload
	r, w uint
}

// BoundedOption configures a Bounded queue at construction time.
type BoundedOption func(*Bounded)

// WithBoundedHandle assigns the queue's handle.
func WithBoundedHandle(h Handle) BoundedOption {
	return func(b *Bounded) { b.handle = h }
}

// WithBoundedPredicate sets the classification predicate a parent
// classful qdisc consults when routing by state.
func WithBoundedPredicate(p Predicate) BoundedOption {
	return func(b *Bounded) { b.predicate = p }
}

// NewBounded constructs a Bounded queue of the given capacity and
// dequeue mode. capacity is rounded up to the next power of two. A
// non-positive capacity is treated as 1; no error is reported for it.
func NewBounded(capacity int, mode BoundedMode, opts ...BoundedOption) *Bounded {
	if capacity <= 0 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	b := &Bounded{
		classlessBase: newClasslessBase(NoHandle, nil),
		mode:          mode,
		ring:          make([]*Workload, size),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bounded) mask(v uint) uint { return v & (uint(len(b.ring)) - 1) }

func (b *Bounded) lenLocked() int { return int(b.w - b.r) }

// Enqueue binds w and pushes it into the ring, evicting a resident
// workload first if the ring is already at capacity: the oldest
// resident for BoundedFIFO, or the current top (the slot the new
// workload is about to take) for BoundedLIFO.
func (b *Bounded) Enqueue(w *Workload) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := w.bind(b); err != nil {
		return err
	}

	b.mu.Lock()
	var evicted *Workload
	switch full := b.lenLocked() == len(b.ring); {
	case full && b.mode == BoundedLIFO:
		idx := b.mask(b.w - 1)
		evicted = b.ring[idx]
		b.ring[idx] = w
	case full:
		idx := b.mask(b.r)
		evicted = b.ring[idx]
		b.ring[idx] = nil
		b.r++
		b.ring[b.mask(b.w)] = w
		b.w++
	default:
		b.ring[b.mask(b.w)] = w
		b.w++
	}
	b.mu.Unlock()

	if evicted != nil {
		evicted.evictOverwritten()
	}
	b.notifyParent()
	return nil
}

// TryEnqueueDirect enqueues w iff the queue's own predicate matches
// state.
func (b *Bounded) TryEnqueueDirect(state any, w *Workload) (bool, error) {
	if !b.CanClassify(state) {
		return false, nil
	}
	return true, b.Enqueue(w)
}

// TryEnqueue is, for a leaf, identical to TryEnqueueDirect.
func (b *Bounded) TryEnqueue(state any, w *Workload) (bool, error) {
	return b.TryEnqueueDirect(state, w)
}

// TryDequeueInternal removes and returns the next workload per the
// queue's configured BoundedMode. backtrack has no effect: neither mode
// reorders on a failed re-execution.
func (b *Bounded) TryDequeueInternal(workerID int, backtrack bool) (*Workload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lenLocked() == 0 {
		return nil, false
	}
	if b.mode == BoundedLIFO {
		b.w--
		idx := b.mask(b.w)
		w := b.ring[idx]
		b.ring[idx] = nil
		return w, true
	}
	idx := b.mask(b.r)
	w := b.ring[idx]
	b.ring[idx] = nil
	b.r++
	return w, true
}

// TryPeekUnsafe returns what TryDequeueInternal would return next,
// without removing it.
func (b *Bounded) TryPeekUnsafe(workerID int) (*Workload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lenLocked() == 0 {
		return nil, false
	}
	if b.mode == BoundedLIFO {
		return b.ring[b.mask(b.w-1)], true
	}
	return b.ring[b.mask(b.r)], true
}

// TryRemove removes a specific resident workload, best-effort.
func (b *Bounded) TryRemove(target *Workload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.lenLocked()
	for i := 0; i < n; i++ {
		idx := b.mask(b.r + uint(i))
		if b.ring[idx] == target {
			for j := i; j < n-1; j++ {
				from := b.mask(b.r + uint(j+1))
				to := b.mask(b.r + uint(j))
				b.ring[to] = b.ring[from]
			}
			b.ring[b.mask(b.r+uint(n-1))] = nil
			b.w--
			return true
		}
	}
	return false
}

// IsEmpty reports whether the queue currently holds no workload.
func (b *Bounded) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked() == 0
}

// RecursiveCount returns the number of resident workloads.
func (b *Bounded) RecursiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

var (
	_ Classless = (*Bounded)(nil)
)
