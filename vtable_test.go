package qdisc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadA() {}
func payloadB() {}

func TestVirtualTimeTable_DistinctFingerprints(t *testing.T) {
	assert.NotEqual(t, Fingerprint(payloadA), Fingerprint(payloadB))
	assert.Equal(t, Fingerprint(payloadA), Fingerprint(payloadA))
}

func TestVirtualTimeTable_EntryIdentityIsStable(t *testing.T) {
	vt := NewVirtualTimeTable(0)
	e1 := vt.EntryFor(payloadA)
	e2 := vt.EntryFor(payloadA)
	require.Same(t, e1, e2)
}

func TestVirtualTimeTable_RecordStats(t *testing.T) {
	vt := NewVirtualTimeTable(0)
	vt.Record(payloadA, 10*time.Millisecond)
	vt.Record(payloadA, 20*time.Millisecond)
	vt.Record(payloadA, 30*time.Millisecond)

	stats := vt.EntryFor(payloadA).Snapshot()
	assert.Equal(t, uint64(3), stats.SampleCount)
	assert.InDelta(t, 0.010, stats.Best, 1e-6)
	assert.InDelta(t, 0.030, stats.Worst, 1e-6)
	assert.InDelta(t, 0.020, stats.Average, 1e-6)
}

func TestVirtualTimeTable_SampleLimitSlidesWindow(t *testing.T) {
	vt := NewVirtualTimeTable(4)
	entry := vt.EntryFor(payloadA)
	for i := 0; i < 4; i++ {
		vt.Record(payloadA, 10*time.Millisecond)
	}
	assert.Equal(t, uint64(4), entry.Snapshot().SampleCount)

	// Once the cap is reached, further samples move the average towards
	// the new value instead of being diluted by the full history.
	for i := 0; i < 20; i++ {
		vt.Record(payloadA, 100*time.Millisecond)
	}
	stats := entry.Snapshot()
	assert.Equal(t, uint64(4), stats.SampleCount, "sample count caps at sampleLimit")
	assert.Greater(t, stats.Average, 0.090, "average should have converged close to the new value")
}

func TestVirtualTimeTable_NowIsMonotonic(t *testing.T) {
	vt := NewVirtualTimeTable(0)
	a := vt.Now()
	time.Sleep(time.Millisecond)
	b := vt.Now()
	assert.Greater(t, b, a)
}

func TestVirtualTimeTable_ForSelectsModel(t *testing.T) {
	vt := NewVirtualTimeTable(0)
	vt.Record(payloadA, 10*time.Millisecond)
	vt.Record(payloadA, 50*time.Millisecond)
	e := vt.EntryFor(payloadA)
	assert.InDelta(t, 0.010, e.For(TimeModelBestCase), 1e-6)
	assert.InDelta(t, 0.050, e.For(TimeModelWorstCase), 1e-6)
	assert.InDelta(t, 0.030, e.For(TimeModelAverage), 1e-6)
}
