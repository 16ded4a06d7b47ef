package spanpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseClearsFields(t *testing.T) {
	p := New(4)
	s := p.Acquire()
	s.Kind = "syscall"
	s.Payload = "stale"
	p.Release(s)

	got := p.Acquire()
	assert.Equal(t, "", got.Kind)
	assert.Nil(t, got.Payload)
}

func TestPoolMissOnExhaustion(t *testing.T) {
	p := New(2)
	a := p.Acquire()
	b := p.Acquire()
	require.NotNil(t, a)
	require.NotNil(t, b)
	miss := p.Acquire() // pool exhausted, must fall back
	require.NotNil(t, miss)
	snap := p.Stats()
	assert.EqualValues(t, 1, snap.Misses)
	assert.EqualValues(t, 2, snap.Hits)
}

func TestIssuedFreeInvariant(t *testing.T) {
	p := New(8)
	var acquired []*Slot
	for i := 0; i < 5; i++ {
		acquired = append(acquired, p.Acquire())
	}
	snap := p.Stats()
	assert.EqualValues(t, 5, snap.Issued)
	assert.Equal(t, 3, snap.Free)

	for _, s := range acquired {
		p.Release(s)
	}
	snap = p.Stats()
	assert.EqualValues(t, 0, snap.Issued)
	assert.Equal(t, 8, snap.Free)
}

func TestReleaseAfterMissKeepsInvariant(t *testing.T) {
	p := New(1)
	hit := p.Acquire()
	miss := p.Acquire()

	p.Release(hit)
	p.Release(miss)

	// issued + free == capacity + misses must survive returning a
	// miss-origin slot after the hit-origin one.
	snap := p.Stats()
	assert.EqualValues(t, 0, snap.Issued)
	assert.EqualValues(t, 1, snap.Misses)
	assert.Equal(t, 2, snap.Free)
	assert.EqualValues(t, 1+snap.Misses, snap.Issued+int64(snap.Free))
}

func TestConcurrentAcquireReleaseCorrectness(t *testing.T) {
	p := New(16)
	var wg sync.WaitGroup
	const n = 500
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s := p.Acquire()
			s.Kind = "x"
			p.Release(s)
		}()
	}
	wg.Wait()
	snap := p.Stats()
	assert.EqualValues(t, 0, snap.Issued)
}

func TestBatcherFlushesOnSize(t *testing.T) {
	flushed := make(chan []*Slot, 10)
	b := NewBatcher(func(batch []*Slot) { flushed <- batch },
		WithBatchSize(3), WithIdleTimeout(time.Hour))
	b.Start()
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Enqueue(&Slot{Kind: "syscall"})
	}

	select {
	case batch := <-flushed:
		assert.Len(t, batch, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a size-triggered flush")
	}
}

func TestBatcherFlushesOnIdleTimeout(t *testing.T) {
	flushed := make(chan []*Slot, 10)
	b := NewBatcher(func(batch []*Slot) { flushed <- batch },
		WithBatchSize(1000), WithIdleTimeout(20*time.Millisecond))
	b.Start()
	defer b.Stop()

	b.Enqueue(&Slot{Kind: "syscall"})

	select {
	case batch := <-flushed:
		assert.Len(t, batch, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an idle-timeout flush")
	}
}

func TestBatcherDropsOldestOnOverflow(t *testing.T) {
	b := NewBatcher(func([]*Slot) {}, WithBatchSize(1000),
		WithIdleTimeout(time.Hour), WithQueueCapacity(2))
	b.Enqueue(&Slot{Kind: "a"})
	b.Enqueue(&Slot{Kind: "b"})
	b.Enqueue(&Slot{Kind: "c"})
	assert.EqualValues(t, 1, b.DroppedOldest())
}

func TestBatcherStopDrainsPending(t *testing.T) {
	flushed := make(chan []*Slot, 10)
	b := NewBatcher(func(batch []*Slot) { flushed <- batch },
		WithBatchSize(1000), WithIdleTimeout(time.Hour))
	b.Start()
	b.Enqueue(&Slot{Kind: "a"})
	b.Enqueue(&Slot{Kind: "b"})
	b.Stop()

	select {
	case batch := <-flushed:
		assert.Len(t, batch, 2)
	default:
		t.Fatal("expected pending items to be flushed on Stop")
	}
}
