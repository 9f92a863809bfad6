package qdisc

// Handle is a caller-chosen identifier uniquely naming a qdisc inside one
// scheduler tree — typically a small integer or an enum constant. The
// nil value is reserved for anonymous/root-only qdiscs (a qdisc
// constructed without an explicit handle never needs to be looked up by
// ScheduleByHandle).
//
// Handle values MUST be comparable with ==; the scheduler panics (as any
// Go map/equality operation would) if given an uncomparable value such
// as a slice or map.
type Handle any

// NoHandle is the reserved handle for anonymous qdiscs, equivalent to
// default(H) in the source design.
var NoHandle Handle = nil

// routingStep is one hop of a cached route from the root to a
// handle-addressed leaf: the classful qdisc traversed, and the index of
// the child taken.
type routingStep struct {
	parent     *classfulBase
	childIndex int
}

// RoutingPath is a cached sequence of (parent qdisc, child offset)
// entries from root to a handle-addressed leaf, used by
// ScheduleByHandle to avoid re-running classification predicates on
// every call.
type RoutingPath struct {
	steps []routingStep
	leaf  Classless
}

// Leaf returns the terminal classless qdisc the path resolves to.
func (p RoutingPath) Leaf() Classless { return p.leaf }

// Empty reports whether the path has no steps. Every path TryFindRoute
// returns for a hit has at least one step; the zero RoutingPath it
// returns on a miss is empty.
func (p RoutingPath) Empty() bool { return len(p.steps) == 0 }
