// Package rerrors holds the sentinel/typed error values for renacer's error
// taxonomy, so callers can errors.Is/errors.As instead of matching on
// formatted strings.
package rerrors

import "fmt"

// AttachDenied means the tracer could not attach to (or spawn-and-attach)
// the tracee. Fatal to the run.
type AttachDenied struct {
	Reason string
}

func (e *AttachDenied) Error() string { return fmt.Sprintf("attach denied: %s", e.Reason) }

// FilterCompile means the -e trace= expression failed to compile. Fatal,
// reported before any tracing starts.
type FilterCompile struct {
	Detail string
}

func (e *FilterCompile) Error() string { return fmt.Sprintf("filter compile error: %s", e.Detail) }

// SourceMapInvalid means a transpiler source map failed validation; the
// caller should continue without it rather than abort.
type SourceMapInvalid struct {
	Detail string
}

func (e *SourceMapInvalid) Error() string { return fmt.Sprintf("invalid source map: %s", e.Detail) }

// Timeout is returned by the validator and regression detector when their
// configured deadline elapses before a result is produced.
type Timeout struct {
	Component string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout in %s", e.Component) }

// ExporterDroppedBatch is recorded (not returned as a hard error) when the
// telemetry exporter exhausts its retry budget for one batch.
type ExporterDroppedBatch struct {
	N int
}

func (e *ExporterDroppedBatch) Error() string {
	return fmt.Sprintf("exporter dropped batch of %d spans after exhausting retries", e.N)
}

// TraceeReadFailed means a tracee-memory read failed while decoding an
// argument. It is never returned up through the tracing loop as
// a hard error — it is absorbed locally into span metadata as the
// literal "<unreadable>" — but the type exists so internal plumbing
// (memreader, decode) can carry the failure detail to the one log call
// site.
type TraceeReadFailed struct {
	Addr  uint64
	Len   int
	Cause error
}

func (e *TraceeReadFailed) Error() string {
	return fmt.Sprintf("tracee memory read failed at 0x%x (len %d): %v", e.Addr, e.Len, e.Cause)
}

func (e *TraceeReadFailed) Unwrap() error { return e.Cause }

// DebugInfoMissing means the tracee binary carries no usable debug
// sections. This is a warning, not an error returned to callers;
// the correlator degrades to returning no source location.
type DebugInfoMissing struct {
	Path string
}

func (e *DebugInfoMissing) Error() string {
	return fmt.Sprintf("no debug info in %s", e.Path)
}
