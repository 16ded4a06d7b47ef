//go:build linux

// Command renacer is the CLI entrypoint wiring together the tracing
// loop, filter, sampler, statistics, anomaly, debug-info, telemetry,
// and sink packages. This file stays thin: parse flags, construct
// library values, call into pkg/*.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/paiml/renacer/internal/env"
	"github.com/paiml/renacer/internal/log"
	"github.com/paiml/renacer/internal/rerrors"
	"github.com/paiml/renacer/internal/w3ctrace"
	"github.com/paiml/renacer/pkg/anomaly"
	"github.com/paiml/renacer/pkg/debuginfo"
	"github.com/paiml/renacer/pkg/filter"
	"github.com/paiml/renacer/pkg/model"
	"github.com/paiml/renacer/pkg/regression"
	"github.com/paiml/renacer/pkg/sampler"
	"github.com/paiml/renacer/pkg/sinks"
	"github.com/paiml/renacer/pkg/sourcemap"
	"github.com/paiml/renacer/pkg/spanpool"
	"github.com/paiml/renacer/pkg/stats"
	"github.com/paiml/renacer/pkg/telemetry"
	"github.com/paiml/renacer/pkg/trace"
	"github.com/paiml/renacer/pkg/tracer"
)

// defaultAnomalyWindowSize mirrors pkg/anomaly.New's own default (10);
// kept here as a named flag default rather than importing a constant
// pkg/anomaly does not export.
const defaultAnomalyWindowSize = 10

type cliFlags struct {
	output      string
	format      string
	timing      bool
	summary     bool
	source      bool
	forkFollow  bool
	traceExpr   string
	pid         int
	otlpEnd     string
	otlpProto   string
	otlpHeaders string
	traceParent string
	anomalyRT   bool
	anomalyWin  int
	transMap    string
	saveModel   string
	loadModel   string
	baseline    string
}

func parseFlags(args []string) (*cliFlags, []string, error) {
	fs := flag.NewFlagSet("renacer", flag.ContinueOnError)
	f := &cliFlags{}
	fs.StringVar(&f.output, "output", "", "write formatted output to path instead of stdout")
	fs.StringVar(&f.output, "o", "", "shorthand for --output")
	fs.StringVar(&f.format, "format", "text", "renderer: text|json|csv")
	fs.BoolVar(&f.timing, "T", false, "annotate every syscall with duration")
	fs.BoolVar(&f.timing, "timing", false, "annotate every syscall with duration")
	fs.BoolVar(&f.summary, "c", false, "statistics-summary mode")
	fs.BoolVar(&f.source, "source", false, "enable debug-info correlation")
	fs.BoolVar(&f.forkFollow, "f", false, "fork-follow")
	fs.StringVar(&f.traceExpr, "e", "", "trace=<filter-expression>")
	fs.IntVar(&f.pid, "p", 0, "attach to running process instead of spawn")
	fs.StringVar(&f.otlpEnd, "otlp-endpoint", "", "OTLP collector endpoint")
	fs.StringVar(&f.otlpProto, "otlp-protocol", "grpc", "OTLP transport: grpc|http")
	fs.StringVar(&f.otlpHeaders, "otlp-headers", "", `comma-separated "k=v" pairs`)
	fs.StringVar(&f.traceParent, "trace-parent", "", "W3C traceparent to inherit")
	fs.BoolVar(&f.anomalyRT, "anomaly-realtime", false, "enable streaming anomaly detection")
	fs.IntVar(&f.anomalyWin, "anomaly-window-size", defaultAnomalyWindowSize, "anomaly detector window size")
	fs.StringVar(&f.transMap, "transpiler-map", "", "load a line-mapping for transpiled code")
	fs.StringVar(&f.saveModel, "save-model", "", "write the per-syscall duration model after the run")
	fs.StringVar(&f.loadModel, "load-model", "", "load a prior duration model and compare against this run")
	fs.StringVar(&f.baseline, "baseline", "", "baseline duration model for regression detection")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, rest, err := parseFlags(args)
	if err != nil {
		return 2
	}

	traceExpr := f.traceExpr
	if idx := strings.Index(traceExpr, "trace="); idx >= 0 {
		traceExpr = traceExpr[idx+len("trace="):]
	}
	var traceFilter *filter.Filter
	if traceExpr != "" {
		traceFilter, err = filter.Compile(traceExpr)
		if err != nil {
			log.Error("renacer: %v", &rerrors.FilterCompile{Detail: err.Error()})
			return 1
		}
	}

	opts := []tracer.Option{
		tracer.WithForkFollow(f.forkFollow),
		tracer.WithFilter(traceFilter),
		tracer.WithSampler(sampler.New()),
	}

	traceParent := f.traceParent
	if traceParent == "" {
		traceParent = os.Getenv("TRACEPARENT")
	}
	if traceParent != "" {
		if wc, err := w3ctrace.Parse(traceParent, os.Getenv("TRACESTATE")); err == nil {
			opts = append(opts, tracer.WithInheritedTraceID(wc.TraceID64()))
		} else {
			log.Warn("renacer: %v", err)
		}
	}

	statsEngine := stats.NewEngine(0, 0)
	opts = append(opts, tracer.WithStatsEngine(statsEngine))

	if f.anomalyRT {
		det := anomaly.New(anomaly.WithWindowSize(f.anomalyWin))
		opts = append(opts, tracer.WithAnomalyDetector(det))
		opts = append(opts, tracer.WithOnAnomaly(func(ev anomaly.Event) {
			log.Warn("anomaly: %s duration=%dns severity=%s", ev.Name, ev.Duration, ev.Severity)
		}))
	}

	if f.transMap != "" {
		sm, err := sourcemap.Load(f.transMap)
		if err != nil {
			// Invalid map: refuse to apply, continue without.
			log.Warn("renacer: %v", err)
		} else {
			opts = append(opts, tracer.WithSourceMap(sm))
		}
	}

	if f.source && len(rest) > 0 {
		catalog, err := debuginfo.Load(rest[0], debuginfo.DefaultCacheSize)
		if err != nil {
			log.Warn("renacer: %v", &rerrors.DebugInfoMissing{Path: rest[0]})
			catalog = debuginfo.NewEmpty(debuginfo.DefaultCacheSize)
		}
		opts = append(opts, tracer.WithCorrelator(catalog))
	}

	sink, err := sinks.New(sinks.Format(f.format))
	if err != nil {
		log.Error("renacer: %v", err)
		return 2
	}
	sinkFlags := sinks.Flags{Timing: f.timing, Source: f.source}

	out := os.Stdout
	if f.output != "" {
		fh, err := os.Create(f.output)
		if err != nil {
			log.Error("renacer: cannot create %s: %v", f.output, err)
			return 1
		}
		defer fh.Close()
		out = fh
	}

	if f.otlpEnd != "" {
		cleanup, pipelineOpt, err := setupOTLPPipeline(f)
		if err != nil {
			log.Error("renacer: otlp setup: %v", err)
			return 1
		}
		defer cleanup()
		opts = append(opts, pipelineOpt)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr := tracer.New(opts...)

	var ut *trace.UnifiedTrace
	if f.pid != 0 {
		ut, err = tr.Attach(ctx, f.pid)
	} else {
		if len(rest) == 0 {
			fmt.Fprintln(os.Stderr, "renacer: no command given")
			return 2
		}
		ut, err = tr.Spawn(ctx, rest)
	}
	if err != nil {
		log.Error("renacer: %v", err)
		return 1
	}

	log.Flush()

	if f.saveModel != "" {
		if err := model.Save(f.saveModel, statsEngine); err != nil {
			log.Error("renacer: %v", err)
		}
	}

	if f.summary {
		if err := sinks.WriteSummary(out, statsEngine); err != nil {
			log.Error("renacer: writing summary: %v", err)
			return 1
		}
		return reportRegression(f, out, statsEngine)
	}

	if err := sink.WriteTrace(out, ut, sinkFlags); err != nil {
		log.Error("renacer: writing trace: %v", err)
		return 1
	}
	return reportRegression(f, out, statsEngine)
}

// reportRegression runs the regression detector against the model named by
// --baseline (or, failing that, --load-model) and renders the verdict
// after the trace output. A missing or unreadable baseline degrades to
// a warning; only a failure to render is an error.
func reportRegression(f *cliFlags, out *os.File, statsEngine *stats.Engine) int {
	path := f.baseline
	if path == "" {
		path = f.loadModel
	}
	if path == "" {
		return 0
	}
	baseline, err := model.Load(path)
	if err != nil {
		log.Warn("renacer: %v", err)
		return 0
	}
	verdict := regression.New().Compare(baseline, model.FromEngine(statsEngine))
	if err := sinks.WriteRegression(out, verdict); err != nil {
		log.Error("renacer: writing regression report: %v", err)
		return 1
	}
	return 0
}

func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// setupOTLPPipeline constructs the span-pool/batcher export pipeline
// and the OTel provider backing --otlp-endpoint, returning a cleanup
// func to defer and the tracer.Option wiring the pipeline in.
func setupOTLPPipeline(f *cliFlags) (func(), tracer.Option, error) {
	pool := spanpool.New(env.Int(env.SpanPoolSize, spanpool.DefaultCapacity))

	protocol := telemetry.ProtocolGRPC
	if f.otlpProto == "http" {
		protocol = telemetry.ProtocolHTTP
	}

	ctx := context.Background()
	spanExp, err := telemetry.NewOTLPSpanExporter(ctx, protocol, f.otlpEnd, parseHeaders(f.otlpHeaders))
	if err != nil {
		return nil, nil, err
	}
	provider := telemetry.NewOTelProvider(spanExp, telemetry.NewResource("renacer", os.Getpid(), hostname()))

	batcher := spanpool.NewBatcher(func(slots []*spanpool.Slot) {
		for _, s := range slots {
			pool.Release(s)
		}
	},
		spanpool.WithBatchSize(env.Int(env.OTLPBatchSize, spanpool.DefaultBatchSize)),
		spanpool.WithIdleTimeout(env.Duration(env.OTLPBatchTimeout, spanpool.DefaultIdleTimeout)),
	)
	batcher.Start()

	cleanup := func() {
		batcher.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracer.DefaultShutdownGrace)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}
	return cleanup, tracer.WithExportPipeline(pool, batcher), nil
}
