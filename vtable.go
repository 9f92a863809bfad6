package qdisc

import (
	"reflect"
	"sync"
	"time"

	"github.com/joeycumines/floater"
)

// TimeModel selects which statistic of a payload's recorded execution
// time a classful qdisc consults when estimating virtual execution time
// (see WFQ's scheduler_time_model / execution_time_model parameters).
type TimeModel int

const (
	// TimeModelBestCase uses the fastest observed execution time.
	TimeModelBestCase TimeModel = iota
	// TimeModelAverage uses the sliding moving average.
	TimeModelAverage
	// TimeModelWorstCase uses the slowest observed execution time.
	TimeModelWorstCase
)

// VTEntry holds the running execution-time statistics for one payload
// fingerprint. All fields are read via Snapshot; direct field access is
// not safe for concurrent use.
type VTEntry struct {
	mu          sync.Mutex
	sampleCount uint64
	avg         float64
	best        float64
	worst       float64
	sampleLimit uint64
}

// VTStats is a point-in-time, consistent copy of a VTEntry's statistics.
type VTStats struct {
	SampleCount uint64
	Average     float64
	Best        float64
	Worst       float64
}

// Snapshot returns a consistent copy of the entry's current statistics.
func (e *VTEntry) Snapshot() VTStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return VTStats{SampleCount: e.sampleCount, Average: e.avg, Best: e.best, Worst: e.worst}
}

// For returns the statistic named by model.
func (e *VTEntry) For(model TimeModel) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sampleCount == 0 {
		return 0
	}
	switch model {
	case TimeModelBestCase:
		return e.best
	case TimeModelWorstCase:
		return e.worst
	default:
		return e.avg
	}
}

// record merges one elapsed-duration sample into the entry, under the
// entry's mutex. Once sampleCount reaches sampleLimit, further samples
// contribute to an exponential moving average (smoothing factor
// 1/sampleLimit) rather than an unweighted mean, so the table stays
// responsive to workloads whose cost shifts over time. Individual
// samples are not stored.
func (e *VTEntry) record(elapsed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sampleCount == 0 {
		e.best = elapsed
		e.worst = elapsed
		e.avg = elapsed
		e.sampleCount = 1
		return
	}
	if elapsed < e.best {
		e.best = elapsed
	}
	if elapsed > e.worst {
		e.worst = elapsed
	}
	if e.sampleCount < e.sampleLimit {
		e.sampleCount++
		e.avg += (elapsed - e.avg) / float64(e.sampleCount)
		return
	}
	// sampleLimit reached: switch to an exponential moving average with a
	// smoothing factor equivalent to a window of sampleLimit samples.
	alpha := 1 / float64(e.sampleLimit)
	e.avg += (elapsed - e.avg) * alpha
}

// VirtualTimeTable maps a payload fingerprint to its running execution
// statistics. Entries are created lazily and never removed: their
// reference stays valid for the scheduler's lifetime, as required by
// entry_for's contract.
type VirtualTimeTable struct {
	mu          sync.RWMutex
	entries     map[uintptr]*VTEntry
	sampleLimit uint64
	anchor      time.Time
}

// NewVirtualTimeTable constructs a table that caps each entry's
// unweighted-average window at sampleLimit observations before switching
// to a sliding exponential moving average. sampleLimit <= 0 means
// "unbounded unweighted average".
func NewVirtualTimeTable(sampleLimit int) *VirtualTimeTable {
	limit := uint64(sampleLimit)
	if sampleLimit <= 0 {
		limit = ^uint64(0)
	}
	return &VirtualTimeTable{
		entries:     make(map[uintptr]*VTEntry),
		sampleLimit: limit,
		anchor:      time.Now(),
	}
}

// Fingerprint computes the stable identity of a payload closure: the
// underlying function pointer. Distinct closures sharing a function
// pointer intentionally pool statistics; distinct functions never
// collide (barring the documented Go limitation that method values and
// some generic instantiations may share a code pointer across
// otherwise-distinct call sites).
func Fingerprint(payload any) uintptr {
	return reflect.ValueOf(payload).Pointer()
}

// EntryFor returns (creating if necessary) the statistics entry keyed on
// the payload's fingerprint.
func (t *VirtualTimeTable) EntryFor(payload any) *VTEntry {
	fp := Fingerprint(payload)
	t.mu.RLock()
	e, ok := t.entries[fp]
	t.mu.RUnlock()
	if ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[fp]; ok {
		return e
	}
	e = &VTEntry{sampleLimit: t.sampleLimit}
	t.entries[fp] = e
	return e
}

// Record merges one elapsed-duration sample for the payload's
// fingerprint entry. Safe for concurrent use by many goroutines
// measuring distinct (or the same) payload.
func (t *VirtualTimeTable) Record(payload any, elapsed time.Duration) {
	t.EntryFor(payload).record(durationToScalar(elapsed))
}

// Now returns the current value of the table's monotonic virtual clock,
// as a unit-free scalar relative to the table's construction time.
//
// The conversion goes through floater.UnitsNanosToRat rather than a
// direct float64(ns)/1e9 division: summed across millions of short
// workloads the naive division accumulates visible float error in the
// virtual finish times WFQ compares, which is exactly the precision
// floater's exact-decimal big.Rat conversion is built to avoid.
func (t *VirtualTimeTable) Now() float64 {
	return durationToScalar(time.Since(t.anchor))
}

func durationToScalar(d time.Duration) float64 {
	ns := d.Nanoseconds()
	negative := ns < 0
	if negative {
		ns = -ns
	}
	units := ns / 1e9
	nanos := int32(ns % 1e9)
	if negative {
		units, nanos = -units, -nanos
	}
	rat, ok := floater.UnitsNanosToRat(units, nanos)
	if !ok {
		// fall back to plain float division; only reachable for
		// pathologically out-of-range durations.
		return float64(d.Nanoseconds()) / 1e9
	}
	f, _ := rat.Float64()
	return f
}
