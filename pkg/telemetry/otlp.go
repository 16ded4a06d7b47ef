package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewResource builds the standard OTLP resource carrying the attributes
// (service.name, process.pid, host.name).
func NewResource(serviceName string, pid int, hostName string) *resource.Resource {
	return resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
		attribute.Int("process.pid", pid),
		attribute.String("host.name", hostName),
	)
}

// NewOTLPSpanExporter constructs the real OTLP span exporter selected
// by protocol (--otlp-protocol {grpc|http}). This is a second,
// standards-based export path alongside GRPCTransport/HTTPTransport's
// hand-framed envelope: it hands spans to an actual OpenTelemetry
// Collector when --otlp-endpoint points at a real collector.
func NewOTLPSpanExporter(ctx context.Context, protocol Protocol, endpoint string, headers map[string]string) (*otlptrace.Exporter, error) {
	switch protocol {
	case ProtocolGRPC:
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithHeaders(headers),
		)
	case ProtocolHTTP:
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithHeaders(headers),
		)
	default:
		return nil, fmt.Errorf("telemetry: unknown OTLP protocol %d", protocol)
	}
}

// OTelProvider wraps a TracerProvider configured to batch-export spans
// through an OTLP exporter, and exposes a single RecordSyscallSpan helper that
// builds one span with explicit start/end timestamps from a completed
// SyscallSpan-shaped record — renacer's tracing loop already knows a
// call's full duration by the time it reports it, so there is no
// "span in progress" state to manage here.
type OTelProvider struct {
	tp     *sdktrace.TracerProvider
	tracer oteltrace.Tracer
}

// NewOTelProvider constructs an OTelProvider exporting through exp with
// res as its resource.
func NewOTelProvider(exp sdktrace.SpanExporter, res *resource.Resource) *OTelProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(DefaultBatchSizeOTel)),
		sdktrace.WithResource(res),
	)
	return &OTelProvider{tp: tp, tracer: tp.Tracer("renacer")}
}

// DefaultBatchSizeOTel mirrors spanpool.DefaultBatchSize; kept as a
// separate constant since the OTel SDK's batcher and renacer's own
// spanpool.Batcher are independent components that may be configured
// differently.
const DefaultBatchSizeOTel = 512

// RecordSyscallSpan emits one completed syscall as an OTel span with the
// standard per-span attributes.
func (p *OTelProvider) RecordSyscallSpan(ctx context.Context, name string, start time.Time, duration time.Duration, ret int64, argsRepr []string, file string, line int, fn string, lamportClock uint64) {
	_, span := p.tracer.Start(ctx, name, oteltrace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("syscall.name", name),
		attribute.StringSlice("syscall.args", argsRepr),
		attribute.Int64("syscall.result", ret),
		attribute.Int64("syscall.duration_us", duration.Microseconds()),
		attribute.Int64("lamport.clock", int64(lamportClock)),
	)
	if file != "" {
		span.SetAttributes(
			attribute.String("source.file", file),
			attribute.Int("source.line", line),
			attribute.String("source.function", fn),
		)
	}
	span.End(oteltrace.WithTimestamp(start.Add(duration)))
}

// Shutdown flushes and closes the underlying TracerProvider, bounded by
// the grace period on ctx.
func (p *OTelProvider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}
