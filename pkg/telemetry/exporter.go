// Package telemetry implements the export pipeline: serializes batches
// to the wire format, transmits over one of two transports (framed
// binary gRPC or HTTP), retries with exponential backoff and jitter,
// and tracks observable counters. Export itself is synchronous: it
// blocks its caller while it retries and keeps no queue of its own.
package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/paiml/renacer/internal/log"
	"github.com/paiml/renacer/internal/rerrors"
)

// Protocol selects the wire transport (--otlp-protocol).
type Protocol int

const (
	ProtocolGRPC Protocol = iota
	ProtocolHTTP
)

// Transport sends one serialized batch. GRPCTransport (a raw gRPC
// client) and HTTPTransport (net/http) implement it. Export retries
// every error Send returns; it does not tell transient failures from
// permanent ones.
type Transport interface {
	Send(ctx context.Context, batch []byte) error
}

// config holds the retry policy knobs.
type config struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	headers      map[string]string
}

// Option configures an Exporter at construction.
type Option func(*config)

func WithMaxAttempts(n int) Option              { return func(c *config) { c.maxAttempts = n } }
func WithInitialDelay(d time.Duration) Option   { return func(c *config) { c.initialDelay = d } }
func WithMaxDelay(d time.Duration) Option       { return func(c *config) { c.maxDelay = d } }
func WithHeaders(h map[string]string) Option    { return func(c *config) { c.headers = h } }

func defaults() *config {
	return &config{
		maxAttempts:  5,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
	}
}

// Stats is the observable counter snapshot.
type Stats struct {
	DecisionsQueued   int64
	DecisionsExported int64
	DecisionsDropped  int64
	BatchesSent       int64
	BatchesFailed     int64
}

// Exporter drives retried delivery of serialized batches over a
// Transport. Safe for concurrent use.
type Exporter struct {
	cfg       *config
	transport Transport

	decisionsQueued   int64
	decisionsExported int64
	decisionsDropped  int64
	batchesSent       int64
	batchesFailed     int64
}

// New constructs an Exporter sending over transport, with the
// documented retry defaults (initial 100ms, doubling, capped at 30s,
// max 5 attempts; both bounds apply simultaneously, whichever is hit
// first), as overridden by opts.
func New(transport Transport, opts ...Option) *Exporter {
	c := defaults()
	for _, o := range opts {
		o(c)
	}
	return &Exporter{cfg: c, transport: transport}
}

// Export sends one already-serialized batch, retrying any failed Send
// per the configured policy. It blocks its caller until the batch is
// sent or dropped, or ctx is done. On exhaustion, the batch is dropped and counted,
// and rerrors.ExporterDroppedBatch is returned (non-fatal to tracing).
func (e *Exporter) Export(ctx context.Context, batch []byte, nSpans int) error {
	atomic.AddInt64(&e.decisionsQueued, int64(nSpans))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.initialDelay
	bo.Multiplier = 2
	bo.MaxInterval = e.cfg.maxDelay
	bo.MaxElapsedTime = 0 // bounded by attempt count below, not elapsed wall time
	bo.Reset()            // restart from InitialInterval rather than the library default

	var lastErr error
	for attempt := 0; attempt < e.cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			if delay == backoff.Stop || delay > e.cfg.maxDelay {
				break
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := e.transport.Send(ctx, batch)
		if err == nil {
			atomic.AddInt64(&e.decisionsExported, int64(nSpans))
			atomic.AddInt64(&e.batchesSent, 1)
			return nil
		}
		lastErr = err
		log.Warn("telemetry: export attempt %d/%d failed: %v", attempt+1, e.cfg.maxAttempts, err)
	}

	atomic.AddInt64(&e.decisionsDropped, int64(nSpans))
	atomic.AddInt64(&e.batchesFailed, 1)
	dropped := &rerrors.ExporterDroppedBatch{N: nSpans}
	if lastErr != nil {
		return errors.Join(dropped, lastErr)
	}
	return dropped
}

// Stats returns an atomic snapshot of the exporter's counters.
func (e *Exporter) Stats() Stats {
	return Stats{
		DecisionsQueued:   atomic.LoadInt64(&e.decisionsQueued),
		DecisionsExported: atomic.LoadInt64(&e.decisionsExported),
		DecisionsDropped:  atomic.LoadInt64(&e.decisionsDropped),
		BatchesSent:       atomic.LoadInt64(&e.batchesSent),
		BatchesFailed:     atomic.LoadInt64(&e.batchesFailed),
	}
}
