package qdisc

import (
	"sync"
	"sync/atomic"

	"github.com/WKG-Software-GmbH/qdisc/diag"
)

// Predicate classifies a caller-supplied state value against one child's
// (or one qdisc's own) routing rule.
type Predicate func(state any) bool

// Qdisc is the capability every node in the scheduling tree shares:
// classless leaves and classful routers alike.
type Qdisc interface {
	// Handle returns the qdisc's immutable handle (possibly NoHandle).
	Handle() Handle

	// IsEmpty reports whether the qdisc, and everything beneath it, holds
	// no pending workload.
	IsEmpty() bool

	// RecursiveCount returns the number of workloads resident in the
	// qdisc and its descendants. It is O(descendant count); it exists for
	// tests and diagnostics, not the hot path.
	RecursiveCount() int

	// Complete marks the qdisc as closed: subsequent enqueues into it fail
	// with ErrSchedulerClosed. It does not change the parent link;
	// TryRemoveChild installs the sentinel parent separately.
	Complete()

	setParent(p parentLink, indexInParent int)
}

// Classless is a leaf qdisc: FIFO, LIFO, or one of their bounded
// variants.
type Classless interface {
	Qdisc

	// Enqueue binds w to this qdisc, appends it, and notifies the parent
	// chain. Fails with ErrSchedulerClosed if the qdisc has been
	// completed.
	Enqueue(w *Workload) error

	// TryEnqueueDirect runs this qdisc's own predicate (if any) against
	// state; on match, enqueues w and returns true.
	TryEnqueueDirect(state any, w *Workload) (bool, error)

	// CanClassify reports whether this qdisc's own predicate matches
	// state. A leaf qdisc has no children to recurse into.
	CanClassify(state any) bool

	// TryEnqueue is, for a leaf, identical to TryEnqueueDirect (leaves
	// have no children to delegate to).
	TryEnqueue(state any, w *Workload) (bool, error)

	// TryDequeueInternal returns (nil, false) iff the queue was empty at
	// call time. backtrack hints that the caller's prior execution
	// failed and would prefer the same element again, if the policy can
	// honor it.
	TryDequeueInternal(workerID int, backtrack bool) (*Workload, bool)

	// TryPeekUnsafe returns what TryDequeueInternal would return next,
	// without removing it. The observation may be stale under
	// contention.
	TryPeekUnsafe(workerID int) (*Workload, bool)

	// TryRemove removes a specific workload, best-effort. Not every
	// queue shape supports targeted removal; such qdiscs always return
	// false.
	TryRemove(w *Workload) bool
}

// Classful is an internal router node: it owns an ordered list of
// children (each classless or classful) plus a per-child classification
// predicate and an emptiness bitmap.
type Classful interface {
	Qdisc

	// TryAddChild validates the child's handle is unique among this
	// qdisc's direct children (handles elsewhere in the tree are not
	// checked), binds it, and extends the emptiness bitmap. predicate may
	// be nil (the child is then reached by classification only through
	// its own predicate or its subtree's).
	TryAddChild(child Qdisc, predicate Predicate) error

	// RemoveChild blocks until child is empty, then detaches it.
	RemoveChild(child Qdisc) error

	// TryRemoveChild detaches child only if it is already empty,
	// returning false (without error) if it is not.
	TryRemoveChild(child Qdisc) (bool, error)

	// TryFindRoute performs a depth-first search for h, returning the
	// cached path to it if found.
	TryFindRoute(h Handle) (RoutingPath, bool)

	// CanClassify reports whether this qdisc's own predicate, or any
	// descendant's, matches state.
	CanClassify(state any) bool

	// TryEnqueue routes w by classification: into LocalLeaf if this
	// qdisc's own predicate matches, otherwise to a child chosen by the
	// per-child predicates or, failing those, by the children's own
	// classification. It reports false if nothing accepted w. A child
	// whose per-child predicate is set but does not match is not
	// searched, so a true CanClassify does not guarantee acceptance.
	TryEnqueue(state any, w *Workload) (bool, error)

	// TryDequeueInternal applies the qdisc's dispatch policy (round-robin
	// or weighted-fair) to select and dequeue one workload from a
	// non-empty child.
	TryDequeueInternal(workerID int, backtrack bool) (*Workload, bool)

	// OnWorkerTerminated lets the policy flush any worker-local state
	// (WFQ has none today; round-robin has none either, but the hook
	// exists for policy symmetry with the scheduler's own
	// on_worker_terminated call).
	OnWorkerTerminated(workerID int)

	// LocalLeaf returns the qdisc's own implicit leaf (child 0): a plain
	// FIFO queue that holds workloads scheduled directly on this qdisc
	// (Schedule against a classful root) or classified against this
	// qdisc's own predicate (TryEnqueueDirect), bypassing descent into
	// any explicitly added child.
	LocalLeaf() Classless

	// TryEnqueueDirect runs this qdisc's own predicate (if any) against
	// state; on match, enqueues w into LocalLeaf and returns true,
	// without considering any child's predicate.
	TryEnqueueDirect(state any, w *Workload) (bool, error)
}

// parentLink is the single-writer back-reference every qdisc holds to
// its parent. It does not imply ownership in either direction; it exists
// purely to propagate "I have new work" notifications up to the
// scheduler.
type parentLink interface {
	notify(childIndex int)
}

// completedParent is installed once a qdisc is detached from its parent;
// it silently discards notifications, since a detached subtree is no
// longer scheduled.
type completedParent struct{}

func (completedParent) notify(int) {}

// schedulerParent is installed as the root qdisc's parent; every
// notification reaching it becomes an on_work_scheduled call.
type schedulerParent struct {
	s *Scheduler
}

func (p schedulerParent) notify(int) { p.s.onWorkScheduled() }

// classlessBase holds the fields every classless qdisc shares: its
// handle, its parent link, and its own classification predicate (if
// any).
type classlessBase struct {
	handle        Handle
	predicate     Predicate
	parent        atomic.Pointer[parentLink]
	indexInParent int
	completed     atomic.Bool
}

func newClasslessBase(handle Handle, predicate Predicate) classlessBase {
	b := classlessBase{handle: handle, predicate: predicate}
	var p parentLink = completedParent{}
	b.parent.Store(&p)
	return b
}

func (b *classlessBase) Handle() Handle { return b.handle }

func (b *classlessBase) setParent(p parentLink, indexInParent int) {
	b.parent.Store(&p)
	b.indexInParent = indexInParent
}

func (b *classlessBase) notifyParent() {
	if p := b.parent.Load(); p != nil {
		(*p).notify(b.indexInParent)
	}
}

func (b *classlessBase) CanClassify(state any) bool {
	return b.predicate != nil && b.predicate(state)
}

func (b *classlessBase) checkOpen() error {
	if b.completed.Load() {
		return ErrSchedulerClosed
	}
	return nil
}

func (b *classlessBase) Complete() {
	b.completed.Store(true)
}

// classfulBase holds the fields every classful qdisc shares: its handle,
// parent link, own classification predicate, the implicit child-0 local
// leaf that predicate routes to, ordered explicit children with their
// own per-child predicates, and the emptiness-tracking bitmap (which
// covers the local leaf at bit 0 and every explicit child thereafter).
type classfulBase struct {
	handle    Handle
	predicate Predicate
	parent    atomic.Pointer[parentLink]
	completed atomic.Bool

	maxFanOut int

	// childModLock is the sync.RWMutex (which blocks new readers while a
	// writer waits, so it is not reader-preferred) guarding structural
	// changes to children/bitmap (add/remove). Read access (classify,
	// find route, iterate for dequeue) takes the read lock; add/remove
	// take the write lock.
	childModLock sync.RWMutex
	children     []*childEntry
	bitmap       *ConcurrentBitmap
	localLeaf    Classless

	logger diag.Logger

	indexInParent int
}

type childEntry struct {
	q         Qdisc
	predicate Predicate
}

// newClassfulBase constructs a classfulBase with its implicit child-0
// local leaf already registered in children/bitmap, but not yet
// parent-linked: the local leaf's setParent call needs the classfulBase's
// final (embedded) address, which doesn't exist until the caller has
// finished constructing its concrete router value. Callers must invoke
// attachLocalLeaf once that value is at its final address.
func newClassfulBase(handle Handle, predicate Predicate, maxFanOut int) classfulBase {
	leaf := NewFIFO()
	b := classfulBase{
		handle:    handle,
		predicate: predicate,
		maxFanOut: maxFanOut,
		bitmap:    NewConcurrentBitmap(1),
		children:  []*childEntry{{q: leaf}},
		localLeaf: leaf,
		logger:    diag.NewNoOpLogger(),
	}
	var p parentLink = completedParent{}
	b.parent.Store(&p)
	return b
}

// attachLocalLeaf parent-links the implicit child-0 leaf to b. Must be
// called exactly once, immediately after b reaches its final embedded
// address (i.e. at the end of each concrete router's constructor).
func (b *classfulBase) attachLocalLeaf() {
	b.localLeaf.setParent(classfulParentAdapter{b: b}, 0)
}

// LocalLeaf returns the implicit child-0 leaf.
func (b *classfulBase) LocalLeaf() Classless { return b.localLeaf }

// TryEnqueueDirect enqueues w into the local leaf iff b's own predicate
// matches state, without considering any explicit child.
func (b *classfulBase) TryEnqueueDirect(state any, w *Workload) (bool, error) {
	if b.predicate == nil || !b.predicate(state) {
		return false, nil
	}
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	return true, b.localLeaf.Enqueue(w)
}

func (b *classfulBase) Handle() Handle { return b.handle }

func (b *classfulBase) setParent(p parentLink, indexInParent int) {
	b.parent.Store(&p)
	b.indexInParent = indexInParent
}

func (b *classfulBase) notifyParent() {
	if p := b.parent.Load(); p != nil {
		(*p).notify(b.indexInParent)
	}
}

func (b *classfulBase) Complete() {
	b.completed.Store(true)
}

func (b *classfulBase) checkOpen() error {
	if b.completed.Load() {
		return ErrSchedulerClosed
	}
	return nil
}

// childCount returns the number of children under the read lock.
func (b *classfulBase) childCount() int {
	b.childModLock.RLock()
	defer b.childModLock.RUnlock()
	return len(b.children)
}

// findChildIndex returns the index of child within b.children, or -1.
// Caller must hold childModLock (read or write).
func (b *classfulBase) findChildIndexLocked(child Qdisc) int {
	for i, c := range b.children {
		if c.q == child {
			return i
		}
	}
	return -1
}

// TryAddChild validates that the child's handle is unique among b's
// direct children, binds the child, and extends the emptiness bitmap by
// one zero bit.
func (b *classfulBase) TryAddChild(child Qdisc, predicate Predicate) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.childModLock.Lock()
	defer b.childModLock.Unlock()

	// len(b.children)-1 excludes the implicit local leaf at index 0: the
	// fan-out cap bounds explicitly added children only.
	if b.maxFanOut > 0 && len(b.children)-1 >= b.maxFanOut {
		return &ConfigurationError{Op: "TryAddChild", Reason: "maximum fan-out exceeded"}
	}
	if child.Handle() != NoHandle {
		for _, c := range b.children {
			if c.q.Handle() == child.Handle() {
				return &ConfigurationError{Op: "TryAddChild", Reason: "duplicate handle"}
			}
		}
	}

	idx := len(b.children)
	b.children = append(b.children, &childEntry{q: child, predicate: predicate})
	b.bitmap.Grow(1)
	child.setParent(classfulParentAdapter{b: b}, idx)
	return nil
}

// classfulParentAdapter lets a *classfulBase (a struct, not an
// interface) satisfy parentLink without every embedding type having to
// redeclare notify().
type classfulParentAdapter struct {
	b *classfulBase
}

func (a classfulParentAdapter) notify(childIndex int) {
	a.b.markChildNonEmpty(childIndex)
}

// markChildNonEmpty sets the emptiness bit for childIndex and propagates
// the notification up this qdisc's own parent chain.
func (b *classfulBase) markChildNonEmpty(childIndex int) {
	_ = b.bitmap.UpdateBit(childIndex, true)
	b.notifyParent()
}

// clearBitLogged clears childIndex's emptiness bit via a token-guarded
// CAS rather than an unconditional UpdateBit: on a lost CAS (another
// mutation of the same segment committed between reading the token and
// the CAS) it logs instead of forcing the clear, leaving the bit for the
// next scan to re-observe. After a successful clear it re-checks the
// child and sets the bit again if the child holds work, so a concurrent
// enqueue that landed between the dispatch policy's "empty" observation
// and this call isn't silently clobbered.
func (b *classfulBase) clearBitLogged(childIndex int) {
	token, err := b.bitmap.GetToken(childIndex)
	if err != nil {
		return
	}
	ok, err := b.bitmap.TryUpdateBit(childIndex, token, false)
	if err != nil {
		return
	}
	if !ok {
		b.logger.Debug("emptiness bitmap token-CAS lost race while clearing child bit", diag.Caller(0),
			diag.F("child_index", childIndex))
		return
	}
	b.childModLock.RLock()
	if childIndex < len(b.children) && !b.children[childIndex].q.IsEmpty() {
		_ = b.bitmap.UpdateBit(childIndex, true)
	}
	b.childModLock.RUnlock()
}

// RemoveChild blocks (busy-polling with a short backoff, since this
// library has no condition-variable-per-child) until child is empty,
// then detaches it.
func (b *classfulBase) RemoveChild(child Qdisc) error {
	for {
		ok, err := b.TryRemoveChild(child)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		spinWait()
	}
}

// TryRemoveChild detaches child only if it is currently empty.
func (b *classfulBase) TryRemoveChild(child Qdisc) (bool, error) {
	b.childModLock.Lock()
	defer b.childModLock.Unlock()

	if child == Qdisc(b.localLeaf) {
		return false, &ConfigurationError{Op: "TryRemoveChild", Reason: "cannot remove the implicit local leaf"}
	}
	idx := b.findChildIndexLocked(child)
	if idx < 0 {
		return false, &ConfigurationError{Op: "TryRemoveChild", Reason: "no such child"}
	}
	if !child.IsEmpty() {
		return false, nil
	}

	child.Complete()
	child.setParent(completedParent{}, 0)

	b.children = append(b.children[:idx], b.children[idx+1:]...)
	_ = b.bitmap.RemoveBitAt(idx, true)
	for i := idx; i < len(b.children); i++ {
		b.children[i].q.setParent(classfulParentAdapter{b: b}, i)
	}
	return true, nil
}

// TryFindRoute performs a depth-first search for h.
func (b *classfulBase) TryFindRoute(h Handle) (RoutingPath, bool) {
	b.childModLock.RLock()
	defer b.childModLock.RUnlock()

	for i, c := range b.children {
		if c.q.Handle() == h {
			return RoutingPath{steps: []routingStep{{parent: b, childIndex: i}}, leaf: leafOf(c.q)}, true
		}
		if cf, ok := c.q.(Classful); ok {
			if sub, found := cf.TryFindRoute(h); found {
				steps := append([]routingStep{{parent: b, childIndex: i}}, sub.steps...)
				return RoutingPath{steps: steps, leaf: sub.leaf}, true
			}
		}
	}
	return RoutingPath{}, false
}

// leafOf returns the leaf a TryFindRoute hit on q resolves to: q itself
// if it is a Classless leaf, or q's implicit local leaf if q is a
// classful router carrying the handle.
func leafOf(q Qdisc) Classless {
	if c, ok := q.(Classless); ok {
		return c
	}
	if cf, ok := q.(Classful); ok {
		return cf.LocalLeaf()
	}
	return nil
}

// CanClassify reports whether this qdisc's own predicate, or any
// child's, matches state.
func (b *classfulBase) CanClassify(state any) bool {
	if b.predicate != nil && b.predicate(state) {
		return true
	}
	b.childModLock.RLock()
	defer b.childModLock.RUnlock()
	for _, c := range b.children {
		if c.predicate != nil && c.predicate(state) {
			return true
		}
		if cf, ok := c.q.(Classful); ok {
			if cf.CanClassify(state) {
				return true
			}
		} else if cl, ok := c.q.(Classless); ok {
			if cl.CanClassify(state) {
				return true
			}
		}
	}
	return false
}

// TryEnqueue performs the classification search. If b's own predicate
// matches, w goes to the local leaf. Otherwise the first child (by
// position) whose per-child predicate matches receives w; only if none
// matches are the children without a per-child predicate tried, in
// position order, each through its own classification. Children whose
// per-child predicate is set but does not match are not searched.
func (b *classfulBase) TryEnqueue(state any, w *Workload) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	if b.predicate != nil && b.predicate(state) {
		return true, b.localLeaf.Enqueue(w)
	}
	b.childModLock.RLock()
	children := make([]*childEntry, len(b.children))
	copy(children, b.children)
	b.childModLock.RUnlock()

	for _, c := range children {
		if c.predicate != nil && c.predicate(state) {
			// the parent's own routing rule already decided this child is
			// the match: a classless child commits unconditionally rather
			// than re-running its own (likely unset) classification
			// predicate, which would otherwise reject the very workload
			// the parent just routed to it.
			return enqueueMatched(c.q, state, w)
		}
	}
	for _, c := range children {
		if c.predicate == nil {
			if ok, err := enqueueInto(c.q, state, w); ok || err != nil {
				return ok, err
			}
		}
	}
	return false, nil
}

func enqueueMatched(q Qdisc, state any, w *Workload) (bool, error) {
	switch v := q.(type) {
	case Classful:
		return v.TryEnqueue(state, w)
	case Classless:
		return true, v.Enqueue(w)
	default:
		return false, nil
	}
}

func enqueueInto(q Qdisc, state any, w *Workload) (bool, error) {
	switch v := q.(type) {
	case Classful:
		return v.TryEnqueue(state, w)
	case Classless:
		return v.TryEnqueue(state, w)
	default:
		return false, nil
	}
}

// IsEmpty reports whether the emptiness bitmap has no set bits.
func (b *classfulBase) IsEmpty() bool {
	return b.bitmap.IsEmpty()
}

// RecursiveCount sums RecursiveCount across all children.
func (b *classfulBase) RecursiveCount() int {
	b.childModLock.RLock()
	defer b.childModLock.RUnlock()
	total := 0
	for _, c := range b.children {
		total += c.q.RecursiveCount()
	}
	return total
}

func spinWait() {
	for i := 0; i < 1000; i++ {
	}
}
