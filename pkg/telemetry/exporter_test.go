package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	failFirstN int32
	calls      int32
	delays     []time.Time
}

func (f *fakeTransport) Send(ctx context.Context, batch []byte) error {
	n := atomic.AddInt32(&f.calls, 1)
	f.delays = append(f.delays, time.Now())
	if n <= f.failFirstN {
		return errors.New("transient failure")
	}
	return nil
}

func TestExportSucceedsAfterTransientFailures(t *testing.T) {
	tr := &fakeTransport{failFirstN: 2}
	e := New(tr, WithInitialDelay(time.Millisecond), WithMaxDelay(10*time.Millisecond))
	err := e.Export(context.Background(), []byte("batch"), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, tr.calls)

	stats := e.Stats()
	assert.EqualValues(t, 5, stats.DecisionsExported)
	assert.EqualValues(t, 1, stats.BatchesSent)
	assert.EqualValues(t, 0, stats.DecisionsDropped)
}

func TestExportDropsAfterExhaustingRetries(t *testing.T) {
	tr := &fakeTransport{failFirstN: 1000}
	e := New(tr, WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	err := e.Export(context.Background(), []byte("batch"), 7)
	require.Error(t, err)

	stats := e.Stats()
	assert.EqualValues(t, 7, stats.DecisionsDropped)
	assert.EqualValues(t, 1, stats.BatchesFailed)
	assert.EqualValues(t, 3, tr.calls)
}

func TestRetryDelayBounds(t *testing.T) {
	tr := &fakeTransport{failFirstN: 1000}
	base := 50 * time.Millisecond
	e := New(tr, WithMaxAttempts(4), WithInitialDelay(base), WithMaxDelay(time.Second))
	start := time.Now()
	_ = e.Export(context.Background(), []byte("x"), 1)
	_ = start
	// Delay growth is monotonic (exponential): each successive attempt's
	// gap should not be smaller than the previous, within backoff's own
	// randomization factor.
	for i := 2; i < len(tr.delays); i++ {
		gapPrev := tr.delays[i-1].Sub(tr.delays[i-2])
		gapNext := tr.delays[i].Sub(tr.delays[i-1])
		assert.True(t, gapNext >= gapPrev/2, "delay should not shrink sharply between attempts")
	}
}

func TestExportNeverBlocksPastContextCancellation(t *testing.T) {
	tr := &fakeTransport{failFirstN: 1000}
	e := New(tr, WithMaxAttempts(5), WithInitialDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Export(ctx, []byte("x"), 1)
	assert.Error(t, err)
}
