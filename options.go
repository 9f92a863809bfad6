package qdisc

import "github.com/WKG-Software-GmbH/qdisc/diag"

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	maxConcurrency int
	logger         diag.Logger
	vtableSamples  int
	vtableOverride *VirtualTimeTable
	contextOptions ContextOptions
}

// --- Scheduler Options ---

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithMaxConcurrency caps the number of worker goroutines the scheduler
// runs concurrently. Values <= 0 are rejected with a ConfigurationError
// at NewScheduler time.
func WithMaxConcurrency(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return &ConfigurationError{Op: "WithMaxConcurrency", Reason: "max concurrency must be positive"}
		}
		opts.maxConcurrency = n
		return nil
	}}
}

// WithSchedulerLogger attaches a diagnostics logger used for illegal
// state transitions and worker lifecycle events.
func WithSchedulerLogger(logger diag.Logger) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if logger != nil {
			opts.logger = logger
		}
		return nil
	}}
}

// WithVirtualTimeSampleLimit bounds the number of execution-time samples
// each VirtualTimeTable entry averages before sliding to an exponential
// moving average. <= 0 means unbounded.
func WithVirtualTimeSampleLimit(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.vtableSamples = n
		return nil
	}}
}

// WithVirtualTimeTable supplies a VirtualTimeTable the scheduler should
// use instead of constructing its own. Pass this when the tree contains
// a WeightedFair router: build the table first, hand it to
// NewWeightedFair, and pass the same instance here, so the router's
// per-payload estimates and the scheduler's own bookkeeping agree on one
// virtual clock.
func WithVirtualTimeTable(vt *VirtualTimeTable) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.vtableOverride = vt
		return nil
	}}
}

// WithDefaultContextOptions sets the ContextOptions applied to every
// workload scheduled without its own explicit WorkloadOption override.
func WithDefaultContextOptions(co ContextOptions) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.contextOptions = co
		return nil
	}}
}
