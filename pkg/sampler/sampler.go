// Package sampler implements the adaptive, per-operation-kind
// threshold-based drop policy: a span is kept when its duration meets
// the threshold for its kind, or when the trace-all override is set.
// New takes zero or more Option values mutating a private config struct
// seeded with the documented defaults.
package sampler

import "sync/atomic"

// Kind is an operation kind with its own sampling threshold.
type Kind int

const (
	KindSyscall Kind = iota
	KindGpuKernel
	KindComputeBlock
	KindMemoryTransfer
)

type config struct {
	thresholdNs [4]int64
	traceAll    bool
}

// Option configures a Sampler at construction.
type Option func(*config)

// WithThreshold overrides the default threshold (in nanoseconds) for k.
func WithThreshold(k Kind, ns int64) Option {
	return func(c *config) { c.thresholdNs[k] = ns }
}

// WithTraceAll sets the global override that keeps every span regardless
// of duration.
func WithTraceAll(v bool) Option {
	return func(c *config) { c.traceAll = v }
}

func defaults() *config {
	return &config{
		thresholdNs: [4]int64{
			KindSyscall:        10_000,      // 10 µs
			KindGpuKernel:      100_000,     // 100 µs
			KindComputeBlock:   50_000,      // 50 µs
			KindMemoryTransfer: 1_000_000,   // 1 ms
		},
	}
}

// Sampler is the adaptive sampler. Safe for concurrent use; its
// counters are plain atomics.
type Sampler struct {
	cfg *config

	kept    atomic.Int64
	dropped atomic.Int64
}

// New constructs a Sampler with the documented defaults, as overridden
// by opts. There is no environment override for sampler thresholds, so
// New takes only explicit Options.
func New(opts ...Option) *Sampler {
	c := defaults()
	for _, o := range opts {
		o(c)
	}
	return &Sampler{cfg: c}
}

// Keep reports whether a span of the given kind and duration (ns) should
// be retained, and updates the kept/dropped counters
// used by the overhead estimator.
func (s *Sampler) Keep(k Kind, durationNs int64) bool {
	keep := s.cfg.traceAll || durationNs >= s.cfg.thresholdNs[k]
	if keep {
		s.kept.Add(1)
	} else {
		s.dropped.Add(1)
	}
	return keep
}

// Threshold returns the configured threshold for k.
func (s *Sampler) Threshold(k Kind) int64 {
	return s.cfg.thresholdNs[k]
}

// OverheadFraction returns the fraction of evaluated spans that were
// kept, for backpressure decisions upstream. Returns 0 if no
// spans have been evaluated yet.
func (s *Sampler) OverheadFraction() float64 {
	kept := s.kept.Load()
	dropped := s.dropped.Load()
	total := kept + dropped
	if total == 0 {
		return 0
	}
	return float64(kept) / float64(total)
}

// Snapshot is an atomic point-in-time read of the sampler's counters,
// readable without stopping the tracer.
type Snapshot struct {
	Kept    int64
	Dropped int64
}

func (s *Sampler) Stats() Snapshot {
	return Snapshot{Kept: s.kept.Load(), Dropped: s.dropped.Load()}
}
