package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountSumMinMaxExact(t *testing.T) {
	a := NewAggregate(0, 0)
	durations := []int64{5, 100, 3, 3, 42, 7}
	for _, d := range durations {
		a.Add(d, false)
	}
	snap := a.Snapshot()
	assert.EqualValues(t, len(durations), snap.Count)
	var sum int64
	min, max := durations[0], durations[0]
	for _, d := range durations {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	assert.Equal(t, sum, snap.SumNs)
	assert.Equal(t, min, snap.MinNs)
	assert.Equal(t, max, snap.MaxNs)
}

func TestErrorCountOnlyCountsErrors(t *testing.T) {
	a := NewAggregate(0, 0)
	a.Add(10, false)
	a.Add(20, true)
	a.Add(30, true)
	snap := a.Snapshot()
	assert.EqualValues(t, 3, snap.Count)
	assert.EqualValues(t, 2, snap.ErrorCount)
}

func TestQuantilesWithinOneSampleOfSortedRank(t *testing.T) {
	a := NewAggregate(0, 0)
	vals := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	for _, v := range vals {
		a.Add(v, false)
	}
	snap := a.Snapshot()
	// nearest-rank p50 of 10 sorted values should land near 50-60.
	assert.True(t, snap.P50 >= 40 && snap.P50 <= 60, "p50=%v", snap.P50)
	assert.True(t, snap.P99 >= 90 && snap.P99 <= 100, "p99=%v", snap.P99)
}

func TestWindowBaselineRequiresTwoSamples(t *testing.T) {
	a := NewAggregate(0, 5)
	_, _, n, ok := a.WindowBaseline()
	assert.False(t, ok)
	assert.Equal(t, 0, n)

	a.Add(100, false)
	_, _, n, ok = a.WindowBaseline()
	assert.False(t, ok)
	assert.Equal(t, 1, n)

	a.Add(200, false)
	mean, stddev, n, ok := a.WindowBaseline()
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, 150.0, mean)
	assert.Greater(t, stddev, 0.0)
}

func TestWindowBaselineIsRingBuffer(t *testing.T) {
	a := NewAggregate(0, 3)
	for _, v := range []int64{10, 20, 30, 999, 999} {
		a.Add(v, false)
	}
	mean, _, n, ok := a.WindowBaseline()
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.InDelta(t, (30.0+999.0+999.0)/3.0, mean, 0.001)
}

func TestEngineIsolatesByName(t *testing.T) {
	e := NewEngine(0, 0)
	e.For("read").Add(10, false)
	e.For("write").Add(20, false)
	assert.EqualValues(t, 1, e.For("read").Snapshot().Count)
	assert.EqualValues(t, 1, e.For("write").Snapshot().Count)
	assert.ElementsMatch(t, []string{"read", "write"}, e.Names())
}

func TestReservoirSamplingBoundedAtCapacity(t *testing.T) {
	a := NewAggregate(16, 0)
	for i := int64(0); i < 1000; i++ {
		a.Add(i, false)
	}
	snap := a.Snapshot()
	assert.EqualValues(t, 1000, snap.Count)
	assert.LessOrEqual(t, len(a.ReservoirSnapshot()), 16)
	res := a.ReservoirSnapshot()
	for i := 1; i < len(res); i++ {
		assert.True(t, res[i-1] <= res[i], "reservoir must stay sorted")
	}
}

func TestSnapshotOnEmptyAggregate(t *testing.T) {
	a := NewAggregate(0, 0)
	snap := a.Snapshot()
	assert.EqualValues(t, 0, snap.Count)
	assert.False(t, math.IsNaN(snap.Mean))
}
