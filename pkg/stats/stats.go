// Package stats implements the statistics engine: per syscall-name
// counters, a capped sorted reservoir for quantile estimation, and a
// fixed-size ring buffer for streaming z-score baselines. Quantiles,
// mean, and standard deviation are computed with
// github.com/montanaflynn/stats rather than hand-rolled.
//
// Updates from a single tracer thread are serialized per-name: callers
// get one *Aggregate per name from an Engine and must not share one
// Aggregate across concurrent writers, matching the single-writer
// partitioning model.
package stats

import (
	"sort"
	"sync"

	mstats "github.com/montanaflynn/stats"
)

// DefaultReservoirCap is the default cap on the sorted-durations
// reservoir used for quantile estimation.
const DefaultReservoirCap = 100_000

// DefaultWindowSize is the default ring-buffer size for the streaming
// z-score baseline.
const DefaultWindowSize = 100

// Aggregate is the per-syscall-name statistics bucket. Not safe
// for concurrent writers; reads (Snapshot) take a lock so a reporter
// goroutine can safely observe it while the owning tracer thread writes.
type Aggregate struct {
	mu sync.Mutex

	count      int64
	errorCount int64
	sumNs      int64
	minNs      int64
	maxNs      int64

	reservoir    []float64 // sorted, capped at reservoirCap
	reservoirCap int
	seen         int64 // total inserts, for uniform reservoir sampling once full

	window     []float64 // ring buffer, most-recent windowSize durations
	windowSize int
	windowPos  int
	windowLen  int
}

// NewAggregate constructs an empty Aggregate with the given reservoir
// and window capacities.
func NewAggregate(reservoirCap, windowSize int) *Aggregate {
	if reservoirCap <= 0 {
		reservoirCap = DefaultReservoirCap
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Aggregate{
		reservoirCap: reservoirCap,
		windowSize:   windowSize,
		window:       make([]float64, windowSize),
		minNs:        -1,
	}
}

// Add records one completed call's duration (ns) and whether it
// returned an error (ret<0).
func (a *Aggregate) Add(durationNs int64, isError bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	if isError {
		a.errorCount++
	}
	a.sumNs += durationNs
	if a.minNs < 0 || durationNs < a.minNs {
		a.minNs = durationNs
	}
	if durationNs > a.maxNs {
		a.maxNs = durationNs
	}

	a.insertReservoir(float64(durationNs))

	a.window[a.windowPos] = float64(durationNs)
	a.windowPos = (a.windowPos + 1) % a.windowSize
	if a.windowLen < a.windowSize {
		a.windowLen++
	}
}

// insertReservoir performs binary-insertion while under capacity, and
// uniform reservoir sampling once at capacity.
func (a *Aggregate) insertReservoir(v float64) {
	a.seen++
	if len(a.reservoir) < a.reservoirCap {
		idx := sort.SearchFloat64s(a.reservoir, v)
		a.reservoir = append(a.reservoir, 0)
		copy(a.reservoir[idx+1:], a.reservoir[idx:len(a.reservoir)-1])
		a.reservoir[idx] = v
		return
	}
	// Reservoir sampling: replace a uniformly random existing element
	// with probability reservoirCap/seen, keeping the slice sorted.
	j := pseudoRandIndex(a.seen)
	if j < int64(a.reservoirCap) {
		old := a.reservoir[j]
		if v != old {
			a.reservoir = append(a.reservoir[:j], a.reservoir[j+1:]...)
			idx := sort.SearchFloat64s(a.reservoir, v)
			a.reservoir = append(a.reservoir, 0)
			copy(a.reservoir[idx+1:], a.reservoir[idx:len(a.reservoir)-1])
			a.reservoir[idx] = v
		}
	}
}

// pseudoRandIndex derives a deterministic pseudo-random index in
// [0, seen) from seen itself via a splitmix64-style mix. The statistics
// engine must not depend on global RNG state shared with other
// components (sampler, span pool), so it carries its own tiny generator.
func pseudoRandIndex(seen int64) int64 {
	x := uint64(seen) * 0x9E3779B97F4A7C15
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	if seen == 0 {
		return 0
	}
	return int64(x % uint64(seen))
}

// Snapshot is a consistent point-in-time copy of an Aggregate, safe to
// hand to a reporter (readers obtain a consistent snapshot via a
// bounded copy").
type Snapshot struct {
	Count      int64
	ErrorCount int64
	SumNs      int64
	MinNs      int64
	MaxNs      int64
	Mean       float64
	P50        float64
	P90        float64
	P95        float64
	P99        float64
	P999       float64
}

// Snapshot computes the current counters and quantiles. Quantile
// computation is nearest-rank with linear interpolation, delegated to
// montanaflynn/stats.Percentile.
func (a *Aggregate) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Count:      a.count,
		ErrorCount: a.errorCount,
		SumNs:      a.sumNs,
		MinNs:      a.minNs,
		MaxNs:      a.maxNs,
	}
	if a.count == 0 {
		return s
	}
	s.Mean = float64(a.sumNs) / float64(a.count)
	data := mstats.Float64Data(a.reservoir)
	s.P50, _ = data.Percentile(50)
	s.P90, _ = data.Percentile(90)
	s.P95, _ = data.Percentile(95)
	s.P99, _ = data.Percentile(99)
	s.P999, _ = data.Percentile(99.9)
	return s
}

// WindowBaseline returns the mean and stddev of the current streaming
// window, and the number of samples currently in it. Used by the
// anomaly detector; returns ok=false if fewer than 2 samples (stddev
// undefined).
func (a *Aggregate) WindowBaseline() (mean, stddev float64, n int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n = a.windowLen
	if n < 2 {
		return 0, 0, n, false
	}
	data := mstats.Float64Data(a.window[:n])
	mean, _ = data.Mean()
	stddev, _ = data.StandardDeviation()
	return mean, stddev, n, true
}

// ReservoirSnapshot returns a copy of the full sorted reservoir, used by
// the post-hoc IQR-rule anomaly pass.
func (a *Aggregate) ReservoirSnapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.reservoir))
	copy(out, a.reservoir)
	return out
}

// Engine owns one Aggregate per syscall name (partitioned by
// name, single-writer per partition).
type Engine struct {
	mu           sync.Mutex
	byName       map[string]*Aggregate
	reservoirCap int
	windowSize   int
}

// NewEngine constructs an Engine whose per-name Aggregates use the given
// reservoir/window capacities (pass 0 for either to use the documented
// defaults).
func NewEngine(reservoirCap, windowSize int) *Engine {
	return &Engine{
		byName:       make(map[string]*Aggregate),
		reservoirCap: reservoirCap,
		windowSize:   windowSize,
	}
}

// For returns (creating if necessary) the Aggregate for name.
func (e *Engine) For(name string) *Aggregate {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byName[name]
	if !ok {
		a = NewAggregate(e.reservoirCap, e.windowSize)
		e.byName[name] = a
	}
	return a
}

// Names returns every syscall name an Aggregate has been created for via
// For, whether or not it has recorded a sample, in no particular order.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.byName))
	for n := range e.byName {
		out = append(out, n)
	}
	return out
}
