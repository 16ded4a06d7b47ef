package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingAnomalySpike(t *testing.T) {
	d := New(WithWindowSize(10), WithThreshold(3.0))
	var events []Event
	for i := 0; i < 12; i++ {
		ev, fired := d.Observe("write", 100)
		if fired {
			events = append(events, ev)
		}
	}
	assert.Empty(t, events, "no anomaly expected in the first twelve samples")

	ev, fired := d.Observe("write", 700)
	require.True(t, fired, "13th sample must fire an anomaly")
	assert.Equal(t, "write", ev.Name)
	assert.EqualValues(t, 700, ev.Duration)
	assert.Equal(t, SeverityHigh, ev.Severity)
}

func TestWindowNotYetFilledNeverFires(t *testing.T) {
	d := New(WithWindowSize(10))
	for i := 0; i < 9; i++ {
		_, fired := d.Observe("read", int64(100+i*1000))
		assert.False(t, fired)
	}
}

func TestSeverityBands(t *testing.T) {
	assert.Equal(t, SeverityNone, classify(2.9))
	assert.Equal(t, SeverityLow, classify(3.5))
	assert.Equal(t, SeverityMedium, classify(4.5))
	assert.Equal(t, SeverityHigh, classify(6.0))
}

func TestPerNameIsolation(t *testing.T) {
	d := New(WithWindowSize(3))
	for i := 0; i < 3; i++ {
		d.Observe("read", 100)
	}
	_, readFired := d.Observe("read", 100)
	_, writeFired := d.Observe("write", 100)
	assert.False(t, readFired)
	assert.False(t, writeFired)
}

func TestPostHocIQRDetectsOutlier(t *testing.T) {
	reservoir := []float64{10, 11, 9, 10, 12, 11, 10, 9, 10, 500}
	idx := PostHocIQR(reservoir)
	assert.Contains(t, idx, 9)
}

func TestPostHocZScoreConstantReservoirNoPanic(t *testing.T) {
	reservoir := []float64{5, 5, 5, 5}
	idx := PostHocZScore(reservoir, 3.0)
	assert.Empty(t, idx)
}

func TestPostHocIQRTooFewSamples(t *testing.T) {
	assert.Nil(t, PostHocIQR([]float64{1, 2}))
}
