package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveDropAtDefaultThreshold(t *testing.T) {
	durations := []int64{10, 50, 99, 100, 101, 150, 200, 1000, 5, 250} // µs
	s := New()
	var keptCount int
	var keptVals []int64
	for _, d := range durations {
		ns := d * 1000
		if s.Keep(KindGpuKernel, ns) {
			keptCount++
			keptVals = append(keptVals, d)
		}
	}
	assert.Equal(t, 6, keptCount)
	assert.ElementsMatch(t, []int64{100, 101, 150, 200, 1000, 250}, keptVals)
}

func TestTraceAllOverridesThreshold(t *testing.T) {
	s := New(WithTraceAll(true))
	assert.True(t, s.Keep(KindSyscall, 0))
}

func TestEveryDroppedBelowThreshold(t *testing.T) {
	s := New(WithThreshold(KindSyscall, 10_000))
	cases := []int64{0, 1000, 9999, 10000, 20000}
	for _, d := range cases {
		kept := s.Keep(KindSyscall, d)
		if !kept {
			assert.Less(t, d, s.Threshold(KindSyscall))
		} else {
			assert.GreaterOrEqual(t, d, s.Threshold(KindSyscall))
		}
	}
}

func TestOverheadFraction(t *testing.T) {
	s := New(WithThreshold(KindSyscall, 100))
	s.Keep(KindSyscall, 200)
	s.Keep(KindSyscall, 50)
	s.Keep(KindSyscall, 50)
	assert.InDelta(t, 1.0/3.0, s.OverheadFraction(), 0.001)
}

func TestStatsSnapshot(t *testing.T) {
	s := New(WithThreshold(KindSyscall, 100))
	s.Keep(KindSyscall, 200)
	s.Keep(KindSyscall, 50)
	snap := s.Stats()
	assert.Equal(t, int64(1), snap.Kept)
	assert.Equal(t, int64(1), snap.Dropped)
}
