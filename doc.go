// Package qdisc implements a hierarchical workload scheduler modeled on
// Linux traffic-control queuing disciplines ("qdiscs").
//
// Callers submit workloads through a [Scheduler], which routes each one
// through a tree of classful (container) and classless (leaf) qdiscs
// until it lands in a leaf queue. A bounded pool of worker goroutines
// dequeues from the root qdisc, executes workloads, and drains their
// continuations.
//
// The tree is built from a small set of qdisc kinds: unbounded and
// bounded FIFO/LIFO leaves, a bitmap-accelerated round-robin router, and
// a weighted-fair/earliest-due-date router built on a virtual-time
// table. Classification of a workload to a leaf happens either by an
// explicit [Handle] or by running caller-supplied predicates against a
// caller-supplied state value.
//
// This package does not include a tree-declaration DSL, dependency
// injection for workload payloads, or a concrete logging backend beyond
// the one provided in the diag subpackage — those are external
// collaborators, consumed through interfaces ([diag.Logger],
// [ServiceProvider]) rather than implemented here.
package qdisc
