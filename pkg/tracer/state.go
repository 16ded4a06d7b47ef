// Package tracer implements the tracing loop, the heart of the system:
// attach/spawn, the per-thread syscall-stop state machine,
// fork-following, argument/return decoding, and timing. It consults the
// filter engine (pkg/filter) and debug-info correlator (pkg/debuginfo) on
// the hot path, and feeds completed calls into the statistics engine
// (pkg/stats), anomaly detector (pkg/anomaly), and adaptive sampler
// (pkg/sampler) before appending a SyscallSpan to the owning ProcessSpan
// (pkg/trace).
//
// Built on golang.org/x/sys/unix's ptrace primitives (PtraceAttach,
// PtraceSetOptions, PtraceSyscall, PtraceGetRegs, Wait4). One goroutine
// drives a hot wait/continue loop per traced thread; ptrace stops are
// per-tracer-thread, so each loop locks its OS thread before attaching.
package tracer

import "fmt"

// State is one position in the per-tracee-thread syscall-stop state
// machine.
type State int

const (
	// StateAttached is the initial state after attach or fork: tracee
	// stopped, no syscall-entry request outstanding yet.
	StateAttached State = iota
	// StateRunningToSyscallEntry: kicked with PTRACE_SYSCALL, waiting
	// for the next syscall-entry stop.
	StateRunningToSyscallEntry
	// StateAtSyscallEntry: entry stop observed, register snapshot and
	// entry timestamp captured; argument decoding is deferred to exit
	// because some arguments are OUT parameters.
	StateAtSyscallEntry
	// StateRunningToSyscallExit: kicked again, waiting for the matching
	// exit stop.
	StateRunningToSyscallExit
	// StateAtSyscallExit: exit stop observed, return value read,
	// duration computed, event assembled.
	StateAtSyscallExit
	// StateExited is terminal: exit code recorded on the owning
	// ProcessSpan, thread removed from the active set.
	StateExited
)

func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StateRunningToSyscallEntry:
		return "RunningToSyscallEntry"
	case StateAtSyscallEntry:
		return "AtSyscallEntry"
	case StateRunningToSyscallExit:
		return "RunningToSyscallExit"
	case StateAtSyscallExit:
		return "AtSyscallExit"
	case StateExited:
		return "Exited"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// regSnapshot is the subset of the amd64 register file the tracing loop
// needs: the syscall number and its six argument registers at entry, the
// return value register at exit, and the instruction/base pointer pair
// used by the debug-info correlator's stack unwinder.
type regSnapshot struct {
	Nr   int64
	Args [6]uint64
	Ret  int64
	Rip  uint64
	Rbp  uint64
}

// pendingCall is the in-flight state captured at syscall-entry, carried
// forward to the matching exit stop.
type pendingCall struct {
	nr       int64
	args     [6]uint64
	entryTS  int64
	entryRip uint64
	entryRbp uint64
	seq      uint64
}

// threadState is the per-tracee-thread bookkeeping the loop maintains
// between stops.
type threadState struct {
	tid     int
	pid     int // owning process (thread group leader)
	state   State
	pending *pendingCall
	nextSeq uint64
}
