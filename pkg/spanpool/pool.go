// Package spanpool implements the span pool and producer/batcher: a
// fixed-capacity pool of reusable span slots, and a bounded queue
// between the tracing loop (producer) and the batch flusher, with
// drop-oldest-on-overflow backpressure. Acquire falls back to a fresh
// allocation with a recorded miss on exhaustion; the batcher flushes on
// size or idle timeout and drains before stopping.
package spanpool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Slot is one reusable pool entry. Payload is cleared (set to nil) on
// release and acquire, not reused across kinds — the caller repopulates
// it after Acquire.
type Slot struct {
	Kind    string
	Payload interface{}
	pool    *Pool
}

// Reset clears a Slot's fields so it carries no stale data into its next
// use.
func (s *Slot) Reset() {
	s.Kind = ""
	s.Payload = nil
}

// Pool is a fixed-capacity pool of *Slot. Acquire returns a cleared
// slot; when the pool is empty it falls back to a fresh allocation and
// records a pool-miss. Release returns a slot to the pool. The free
// list is a mutex-guarded slice rather than a fixed-size channel: a
// released miss-origin slot grows it past capacity instead of being
// dropped, keeping issued + free == capacity + misses at all times.
type Pool struct {
	capacity int

	mu   sync.Mutex
	free []*Slot

	issued int64 // atomic: slots currently checked out
	miss   int64 // atomic: fallback allocations
	hits   int64 // atomic: slots served from free
}

// DefaultCapacity is the default pool capacity.
const DefaultCapacity = 1024

// New constructs a Pool pre-populated with capacity free slots.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{capacity: capacity, free: make([]*Slot, 0, capacity)}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &Slot{pool: p})
	}
	return p
}

// Acquire returns a cleared slot, preferring one from the free list; on
// exhaustion it allocates fresh and increments the miss counter.
func (p *Pool) Acquire() *Slot {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		s.Reset()
		atomic.AddInt64(&p.hits, 1)
		atomic.AddInt64(&p.issued, 1)
		return s
	}
	p.mu.Unlock()
	atomic.AddInt64(&p.miss, 1)
	atomic.AddInt64(&p.issued, 1)
	return &Slot{pool: p}
}

// Release returns s to the pool it was acquired from, clearing it
// first. Miss-origin slots are returned too, so the free list may hold
// more than capacity entries after a burst. A slot not originating from
// this Pool (can't happen via Acquire, but release is defensive) is
// simply dropped.
func (p *Pool) Release(s *Slot) {
	if s == nil {
		return
	}
	s.Reset()
	atomic.AddInt64(&p.issued, -1)
	if s.pool != p {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

// Snapshot is an atomic point-in-time read of the pool's counters
// without stopping the tracer.
type Snapshot struct {
	Issued int64
	Hits   int64
	Misses int64
	Free   int
}

func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()
	return Snapshot{
		Issued: atomic.LoadInt64(&p.issued),
		Hits:   atomic.LoadInt64(&p.hits),
		Misses: atomic.LoadInt64(&p.miss),
		Free:   free,
	}
}

// Batcher sits between the tracing loop (producer) and the telemetry
// exporter (consumer). It accumulates acquired slots and invokes Flush
// with a batch when either the configured size is reached or the idle
// timeout elapses with at least one pending item.
type Batcher struct {
	mu      sync.Mutex
	pending []*Slot

	batchSize    int
	idleTimeout  time.Duration
	queueCap     int

	flush func([]*Slot)

	droppedOldest int64 // atomic

	full   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// Default batcher tuning; each is overridable via a BatcherOption.
const (
	DefaultBatchSize   = 512
	DefaultIdleTimeout = time.Second
	DefaultQueueCap    = 10000
)

// BatcherOption configures a Batcher at construction.
type BatcherOption func(*Batcher)

func WithBatchSize(n int) BatcherOption   { return func(b *Batcher) { b.batchSize = n } }
func WithIdleTimeout(d time.Duration) BatcherOption {
	return func(b *Batcher) { b.idleTimeout = d }
}
func WithQueueCapacity(n int) BatcherOption { return func(b *Batcher) { b.queueCap = n } }

// NewBatcher constructs a Batcher that calls flush with each completed
// batch. Start must be called to begin the background flush loop.
func NewBatcher(flush func([]*Slot), opts ...BatcherOption) *Batcher {
	b := &Batcher{
		batchSize:   DefaultBatchSize,
		idleTimeout: DefaultIdleTimeout,
		queueCap:    DefaultQueueCap,
		flush:       flush,
		full:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Enqueue adds s to the pending queue. If the queue is at capacity, the
// oldest pending slot is dropped (and its counter incremented) rather
// than blocking the producer.
func (b *Batcher) Enqueue(s *Slot) {
	b.mu.Lock()
	if len(b.pending) >= b.queueCap {
		dropped := b.pending[0]
		b.pending = b.pending[1:]
		atomic.AddInt64(&b.droppedOldest, 1)
		if dropped.pool != nil {
			dropped.pool.Release(dropped)
		}
	}
	b.pending = append(b.pending, s)
	ready := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if ready {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
}

// DroppedOldest returns the count of pending slots dropped due to queue
// overflow.
func (b *Batcher) DroppedOldest() int64 {
	return atomic.LoadInt64(&b.droppedOldest)
}

// Start launches the background flush loop: flushes eagerly once the
// batch reaches batchSize, and on a periodic tick if idleTimeout has
// elapsed with pending items.
func (b *Batcher) Start() {
	go b.run()
}

func (b *Batcher) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			// Drain-then-flush: emit whatever remains before exiting.
			b.flushPending()
			return
		case <-ticker.C:
			b.flushPending()
		case <-b.full:
			b.flushPending()
		}
	}
}

func (b *Batcher) flushPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()
	b.flush(batch)
}

// Stop signals the flush loop to drain and flush any pending items, then
// blocks until it has exited.
func (b *Batcher) Stop() {
	close(b.stopCh)
	<-b.doneCh
}
