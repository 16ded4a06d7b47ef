// Package trace implements the unified trace model: the span kind sum
// type, the append-only ProcessSpan builder, and the sealed
// UnifiedTrace. A span is a plain mutex-guarded struct with an explicit
// sealed flag that rejects further mutation once set.
package trace

import (
	"sync"

	"github.com/google/uuid"
	"github.com/paiml/renacer/pkg/lamport"
)

// Direction is the transfer direction of a MemoryTransferSpan.
type Direction int

const (
	CpuToGpu Direction = iota
	GpuToCpu
)

// SourceLoc is an interned source-code location, referenced by
// spans via pointer rather than owning copy; the debug-info catalog owns
// the backing arena.
type SourceLoc struct {
	File     string
	Line     int
	Function string
}

// SyscallSpan is one completed syscall.
type SyscallSpan struct {
	Name     string
	TS       int64 // monotonic ns at entry
	Duration int64 // ns, entry -> exit
	Ret      int64
	ArgsRepr []string
	Src      *SourceLoc
	Lamport  uint64
	Unfinished bool
}

// GpuKernelSpan is one GPU kernel launch, as reported by an external
// opaque producer; renacer records what the profiler reports and does
// not interpret it further.
type GpuKernelSpan struct {
	Name      string
	TS        int64
	Duration  int64
	Backend   string
	Workgroup *int
	Elements  *int64
	IsSlow    bool
	Lamport   uint64
}

// ComputeBlockSpan is one compute-bound operation.
type ComputeBlockSpan struct {
	Op       string
	TS       int64
	Duration int64
	Elements int64
	IsSlow   bool
	Lamport  uint64
}

// MemoryTransferSpan is one host<->device transfer.
type MemoryTransferSpan struct {
	Label          string
	Direction      Direction
	Bytes          int64
	Duration       int64
	BandwidthMiBps float64
	IsSlow         bool
	Lamport        uint64
}

// TranspilerDecisionSpan records one decision made by a transpiler
// (e.g. "use unchecked arithmetic here") for later archival.
type TranspilerDecisionSpan struct {
	Category   string
	Name       string
	Input      string
	Result     string
	Src        *SourceLoc
	DecisionID uint64
	Lamport    uint64
}

// ProcessSpan is one traced process (or thread group). Construction is
// append-only; End/ExitCode are set exactly once via Seal.
type ProcessSpan struct {
	mu sync.Mutex

	Pid      int
	Cmd      string
	Children []*ProcessSpan

	Syscalls  []SyscallSpan
	GPU       []GpuKernelSpan
	Compute   []ComputeBlockSpan
	Transfers []MemoryTransferSpan
	Decisions []TranspilerDecisionSpan

	// OpaqueChildren records pid/exit-code pairs for children whose
	// syscalls were not traced because fork-follow was disabled.
	OpaqueChildren []OpaqueChild

	Start int64

	sealed   bool
	end      int64
	exitCode *int

	createdAt uint64 // Lamport clock value at construction
}

// OpaqueChild is an opaque-subtree record: we know the child existed and
// how it exited, but nothing about what it did.
type OpaqueChild struct {
	Pid      int
	ExitCode int
}

// NewProcessSpan constructs a ProcessSpan for pid, ticking clk so every
// later span in this process has a strictly greater Lamport value than
// the process-span's own creation event.
func NewProcessSpan(clk *lamport.Clock, pid int, cmd string, start int64) *ProcessSpan {
	return &ProcessSpan{
		Pid:       pid,
		Cmd:       cmd,
		Start:     start,
		createdAt: clk.Tick(),
	}
}

// AddSyscall appends s if the span is not yet sealed. Returns false
// (no-op) if sealed.
func (p *ProcessSpan) AddSyscall(s SyscallSpan) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.Syscalls = append(p.Syscalls, s)
	return true
}

func (p *ProcessSpan) AddGPUKernel(s GpuKernelSpan) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.GPU = append(p.GPU, s)
	return true
}

func (p *ProcessSpan) AddComputeBlock(s ComputeBlockSpan) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.Compute = append(p.Compute, s)
	return true
}

func (p *ProcessSpan) AddMemoryTransfer(s MemoryTransferSpan) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.Transfers = append(p.Transfers, s)
	return true
}

func (p *ProcessSpan) AddDecision(s TranspilerDecisionSpan) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.Decisions = append(p.Decisions, s)
	return true
}

// AddChild appends a fully-traced child ProcessSpan (fork-follow
// enabled).
func (p *ProcessSpan) AddChild(child *ProcessSpan) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.Children = append(p.Children, child)
	return true
}

// RecordOpaqueChildExit records pid's exit without its syscalls, for
// children spawned while fork-follow is disabled.
func (p *ProcessSpan) RecordOpaqueChildExit(pid, exitCode int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return false
	}
	p.OpaqueChildren = append(p.OpaqueChildren, OpaqueChild{Pid: pid, ExitCode: exitCode})
	return true
}

// Seal sets end and exitCode exactly once; later calls are no-ops. A
// sealed ProcessSpan rejects further Add* mutation.
func (p *ProcessSpan) Seal(end int64, exitCode int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return
	}
	p.sealed = true
	p.end = end
	p.exitCode = &exitCode
}

func (p *ProcessSpan) Sealed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sealed
}

func (p *ProcessSpan) End() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.end
}

func (p *ProcessSpan) ExitCode() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// CreatedAt returns the Lamport clock value recorded at construction.
func (p *ProcessSpan) CreatedAt() uint64 {
	return p.createdAt
}

// UnifiedTrace is the full, sealed tree of process spans for one run.
// It becomes immutable once Root is sealed.
type UnifiedTrace struct {
	TraceID uint64
	Root    *ProcessSpan
}

// NewUnifiedTrace mints a trace ID. If inherited is non-zero (the run
// inherited a W3C traceparent), it is used verbatim so
// the unified trace correlates with the upstream distributed trace;
// otherwise a fresh random ID is derived from a UUID.
func NewUnifiedTrace(root *ProcessSpan, inherited uint64) *UnifiedTrace {
	traceID := inherited
	if traceID == 0 {
		u := uuid.New()
		for _, b := range u[:8] {
			traceID = traceID<<8 | uint64(b)
		}
		if traceID == 0 {
			traceID = 1
		}
	}
	return &UnifiedTrace{TraceID: traceID, Root: root}
}

// TotalDuration sums every syscall/GPU/compute/transfer span duration in
// the tree, used by the validator's performance comparison.
func (t *UnifiedTrace) TotalDuration() int64 {
	return totalDuration(t.Root)
}

func totalDuration(p *ProcessSpan) int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	var sum int64
	for _, s := range p.Syscalls {
		sum += s.Duration
	}
	for _, s := range p.GPU {
		sum += s.Duration
	}
	for _, s := range p.Compute {
		sum += s.Duration
	}
	for _, s := range p.Transfers {
		sum += s.Duration
	}
	children := append([]*ProcessSpan(nil), p.Children...)
	p.mu.Unlock()
	for _, c := range children {
		sum += totalDuration(c)
	}
	return sum
}
