package tracer

import (
	"time"

	"github.com/paiml/renacer/pkg/anomaly"
	"github.com/paiml/renacer/pkg/debuginfo"
	"github.com/paiml/renacer/pkg/filter"
	"github.com/paiml/renacer/pkg/lamport"
	"github.com/paiml/renacer/pkg/sampler"
	"github.com/paiml/renacer/pkg/sourcemap"
	"github.com/paiml/renacer/pkg/spanpool"
	"github.com/paiml/renacer/pkg/stats"
	"github.com/paiml/renacer/pkg/syscalltable"
	"github.com/paiml/renacer/pkg/trace"
)

// DefaultShutdownGrace is the bounded grace period allowed the
// exporter to drain on a tracer-wide shutdown signal.
const DefaultShutdownGrace = 5 * time.Second

type config struct {
	filter           *filter.Filter
	forkFollow       bool
	correlator       *debuginfo.Catalog
	sampler          *sampler.Sampler
	statsEngine      *stats.Engine
	anomaly          *anomaly.Detector
	anomalyRT        bool
	clock            *lamport.Clock
	table            *syscalltable.Table
	srcMap           *sourcemap.Map
	pool             *spanpool.Pool
	batcher          *spanpool.Batcher
	shutdownGrace    time.Duration
	inheritedTraceID uint64

	onSpan    func(pid int, s trace.SyscallSpan)
	onAnomaly func(ev anomaly.Event)
	onFork    func(parent, child int)
}

// Option configures a Tracer at construction.
type Option func(*config)

// WithFilter installs the compiled trace= predicate. Nil (the
// default) behaves as the "everything" filter.
func WithFilter(f *filter.Filter) Option { return func(c *config) { c.filter = f } }

// WithForkFollow enables -f: a fork/clone/vfork reported as a
// PTRACE_EVENT stop spawns a fully traced child ProcessSpan.
func WithForkFollow(v bool) Option { return func(c *config) { c.forkFollow = v } }

// WithCorrelator enables --source: every syscall-exit span is
// decorated with the innermost known source location for the entry
// instruction pointer, or left nil on lookup failure.
func WithCorrelator(cat *debuginfo.Catalog) Option { return func(c *config) { c.correlator = cat } }

// WithSourceMap installs a transpiler line mapping (--transpiler-map).
// When set, every source
// location the correlator resolves is mapped back from the generated
// file/line to the original one, and a mapping that carries a recorded
// transpiler decision additionally appends a TranspilerDecisionSpan to
// the owning ProcessSpan.
func WithSourceMap(m *sourcemap.Map) Option { return func(c *config) { c.srcMap = m } }

// WithSampler installs the adaptive sampler. Nil (the default)
// means every syscall span is kept regardless of duration.
func WithSampler(s *sampler.Sampler) Option { return func(c *config) { c.sampler = s } }

// WithStatsEngine installs the statistics engine every completed,
// filter-accepted call is recorded into.
func WithStatsEngine(e *stats.Engine) Option { return func(c *config) { c.statsEngine = e } }

// WithAnomalyDetector enables --anomaly-realtime streaming detection.
func WithAnomalyDetector(d *anomaly.Detector) Option {
	return func(c *config) { c.anomaly = d; c.anomalyRT = d != nil }
}

// WithClock installs the process-wide Lamport clock. A
// fresh one is used if not supplied.
func WithClock(clk *lamport.Clock) Option { return func(c *config) { c.clock = clk } }

// WithSyscallTable overrides the default syscall descriptor table.
// Mainly useful for tests supplying a narrower table.
func WithSyscallTable(t *syscalltable.Table) Option { return func(c *config) { c.table = t } }

// WithExportPipeline wires a pre-constructed span pool and batcher
// as the sink for every span the sampler keeps, in addition to
// the in-memory unified trace. Optional: the tracing loop always builds
// the unified trace regardless of whether a pipeline is wired. The
// batcher's flush callback is expected to serialize each batch (see
// pkg/telemetry) and release slots back to pool once done.
func WithExportPipeline(p *spanpool.Pool, b *spanpool.Batcher) Option {
	return func(c *config) { c.pool = p; c.batcher = b }
}

// WithShutdownGrace stores an exporter-drain grace period (default 5s)
// in the Tracer's configuration. Nothing in the Tracer reads it: the
// tracing loop detaches at once on shutdown, and cmd/renacer bounds its
// exporter shutdown with DefaultShutdownGrace directly.
func WithShutdownGrace(d time.Duration) Option { return func(c *config) { c.shutdownGrace = d } }

// WithInheritedTraceID seeds the resulting UnifiedTrace's TraceID from an
// upstream W3C traceparent (--trace-parent, or the TRACEPARENT
// environment fallback) instead of minting a fresh random one.
func WithInheritedTraceID(id uint64) Option { return func(c *config) { c.inheritedTraceID = id } }

// WithOnSyscallSpan registers a callback invoked synchronously for every
// span the sampler keeps, in emission order, right after it is appended
// to the unified trace — the integration point for a live text/JSON/CSV
// sink that wants to render as calls complete rather than only
// after the trace is sealed.
func WithOnSyscallSpan(fn func(pid int, s trace.SyscallSpan)) Option {
	return func(c *config) { c.onSpan = fn }
}

// WithOnAnomaly registers a callback invoked whenever the real-time
// anomaly detector fires.
func WithOnAnomaly(fn func(ev anomaly.Event)) Option {
	return func(c *config) { c.onAnomaly = fn }
}

// WithOnFork registers a callback invoked whenever a traced process
// forks, regardless of whether fork-following is enabled.
func WithOnFork(fn func(parent, child int)) Option {
	return func(c *config) { c.onFork = fn }
}

func defaults() *config {
	return &config{
		clock:         &lamport.Clock{},
		table:         syscalltable.New(),
		shutdownGrace: DefaultShutdownGrace,
	}
}
