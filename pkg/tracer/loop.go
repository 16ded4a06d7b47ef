//go:build linux

package tracer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/paiml/renacer/internal/log"
	"github.com/paiml/renacer/internal/rerrors"
	"github.com/paiml/renacer/pkg/sampler"
	"github.com/paiml/renacer/pkg/trace"
)

// Tracer drives one or more tracee processes through the syscall-stop
// state machine, assembling a UnifiedTrace. A Tracer is
// single-use: call Spawn or Attach once to run one trace to completion.
type Tracer struct {
	cfg *config

	mu        sync.Mutex
	processes map[int]*trace.ProcessSpan

	decisionSeq uint64

	wg sync.WaitGroup
}

// New constructs a Tracer with the documented defaults, overridden by
// opts.
func New(opts ...Option) *Tracer {
	c := defaults()
	for _, o := range opts {
		o(c)
	}
	return &Tracer{cfg: c, processes: make(map[int]*trace.ProcessSpan)}
}

func nowMonotonic() time.Time { return time.Now() }

// Spawn starts argv[0] under ptrace (PTRACE_TRACEME via SysProcAttr)
// and traces it to completion, following
// forks if WithForkFollow(true) was set. It blocks until the root
// tracee and (if followed) every descendant has exited, or ctx is
// cancelled by the tracer-wide shutdown signal.
func (t *Tracer) Spawn(ctx context.Context, argv []string) (*trace.UnifiedTrace, error) {
	if len(argv) == 0 {
		return nil, &rerrors.AttachDenied{Reason: "empty command"}
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, &rerrors.AttachDenied{Reason: err.Error()}
	}
	pid := cmd.Process.Pid

	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		return nil, &rerrors.AttachDenied{Reason: fmt.Sprintf("initial stop: %v", err)}
	}
	if err := unix.PtraceSetOptions(pid, ptraceOptions); err != nil {
		return nil, &rerrors.AttachDenied{Reason: fmt.Sprintf("set options: %v", err)}
	}

	root := trace.NewProcessSpan(t.cfg.clock, pid, strings.Join(argv, " "), nowMonotonic().UnixNano())
	t.mu.Lock()
	t.processes[pid] = root
	t.mu.Unlock()

	t.trace(ctx, pid, root)
	t.wg.Wait()

	return trace.NewUnifiedTrace(root, t.cfg.inheritedTraceID), nil
}

// Attach traces an already-running process (the -p flag) via
// PTRACE_ATTACH instead of spawning a fresh child.
func (t *Tracer) Attach(ctx context.Context, pid int) (*trace.UnifiedTrace, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.PtraceAttach(pid); err != nil {
		return nil, &rerrors.AttachDenied{Reason: err.Error()}
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		return nil, &rerrors.AttachDenied{Reason: fmt.Sprintf("initial stop: %v", err)}
	}
	if err := unix.PtraceSetOptions(pid, ptraceOptions); err != nil {
		return nil, &rerrors.AttachDenied{Reason: fmt.Sprintf("set options: %v", err)}
	}

	cmdline, _ := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	name := strings.ReplaceAll(strings.TrimRight(string(cmdline), "\x00"), "\x00", " ")
	if name == "" {
		name = fmt.Sprintf("pid-%d", pid)
	}

	root := trace.NewProcessSpan(t.cfg.clock, pid, name, nowMonotonic().UnixNano())
	t.mu.Lock()
	t.processes[pid] = root
	t.mu.Unlock()

	t.trace(ctx, pid, root)
	t.wg.Wait()

	return trace.NewUnifiedTrace(root, t.cfg.inheritedTraceID), nil
}

// trace drives pid through RunningToSyscallEntry/AtSyscallEntry/
// RunningToSyscallExit/AtSyscallExit until it exits or ctx is
// cancelled. It must run on the OS thread that attached to pid (ptrace
// is per-tracer-thread); callers spawning this on a goroutine must have
// called runtime.LockOSThread first.
func (t *Tracer) trace(ctx context.Context, pid int, span *trace.ProcessSpan) {
	mem, err := newProcMemReader(pid)
	if err != nil {
		log.Warn("tracer: pid %d: %v", pid, err)
	}
	defer func() {
		if mem != nil {
			mem.Close()
		}
	}()

	var pending *pendingCall
	var seq uint64

	resume := func(sig int) bool {
		if err := unix.PtraceSyscall(pid, sig); err != nil {
			log.Warn("tracer: ptrace(SYSCALL, %d): %v", pid, err)
			return false
		}
		return true
	}

	if !resume(0) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			// Shutdown: detach without waiting for further stops. Any
			// call already at AtSyscallEntry is reported unfinished
			// first.
			if pending != nil {
				t.emitUnfinished(span, pending, nowMonotonic())
			}
			_ = unix.PtraceDetach(pid)
			return
		default:
		}

		var status unix.WaitStatus
		if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
			log.Warn("tracer: wait4(%d): %v", pid, err)
			return
		}

		switch {
		case status.Exited():
			if pending != nil {
				t.emitUnfinished(span, pending, nowMonotonic())
			}
			span.Seal(nowMonotonic().UnixNano(), status.ExitStatus())
			return

		case status.Signaled():
			if pending != nil {
				t.emitUnfinished(span, pending, nowMonotonic())
			}
			span.Seal(nowMonotonic().UnixNano(), 128+int(status.Signal()))
			return

		case status.Stopped():
			sig := status.StopSignal()
			switch {
			case sig == syscallStopSignal:
				var regs unix.PtraceRegs
				if err := unix.PtraceGetRegs(pid, &regs); err != nil {
					log.Warn("tracer: getregs(%d): %v", pid, err)
					if !resume(0) {
						return
					}
					continue
				}
				rs := snapshotRegs(&regs)
				if pending == nil {
					pending = &pendingCall{
						nr: rs.Nr, args: rs.Args,
						entryTS:  nowMonotonic().UnixNano(),
						entryRip: rs.Rip, entryRbp: rs.Rbp,
						seq: seq,
					}
					seq++
				} else {
					t.completeCall(span, pid, mem, pending, rs.Ret)
					pending = nil
				}
				if !resume(0) {
					return
				}

			case sig == unix.SIGTRAP && status.TrapCause() != 0:
				t.handlePtraceEvent(ctx, pid, span, status.TrapCause())
				if !resume(0) {
					return
				}

			default:
				// Not a syscall-stop: forward the signal untouched and
				// continue without emitting an event.
				if !resume(int(sig)) {
					return
				}
			}
		}
	}
}

// completeCall assembles and dispatches the completed call captured in
// pending, applying the filter, stats engine, realtime anomaly
// detector, and adaptive sampler in that order. A filtered-out call
// never touches stats or the sampler at all.
func (t *Tracer) completeCall(span *trace.ProcessSpan, pid int, mem *procMemReader, pending *pendingCall, ret int64) {
	c := t.cfg
	desc := c.table.Lookup(int(pending.nr))

	if c.filter != nil && !c.filter.Allows(desc.Name) {
		return
	}

	exitTS := nowMonotonic().UnixNano()
	duration := exitTS - pending.entryTS
	if duration < 0 {
		duration = 0
	}

	clk := c.clock.Tick()

	argsRepr := decodeArgs(desc, pending.args, mem)

	isErr := ret < 0
	if c.statsEngine != nil {
		c.statsEngine.For(desc.Name).Add(duration, isErr)
	}
	if c.anomalyRT && c.anomaly != nil {
		if ev, fired := c.anomaly.Observe(desc.Name, duration); fired && c.onAnomaly != nil {
			c.onAnomaly(ev)
		}
	}

	keep := true
	if c.sampler != nil {
		keep = c.sampler.Keep(sampler.KindSyscall, duration)
	}
	if !keep {
		return
	}

	var src *trace.SourceLoc
	if c.correlator != nil {
		src = c.correlator.Lookup(uintptr(pending.entryRip))
		if src == nil && mem != nil {
			// Innermost known frame via best-effort unwinding.
			if locs := c.correlator.Unwind(uintptr(pending.entryRbp), mem); len(locs) > 0 {
				src = locs[0]
			}
		}
	}
	if src != nil && c.srcMap != nil {
		if mapping, ok := c.srcMap.Resolve(src.File, src.Line); ok {
			orig := &trace.SourceLoc{
				File:     mapping.OriginalFile,
				Line:     mapping.OriginalLine,
				Function: mapping.OriginalFunction,
			}
			if orig.Function == "" {
				orig.Function = src.Function
			}
			if mapping.TranspilerDecision != "" {
				span.AddDecision(trace.TranspilerDecisionSpan{
					Category:   "transpiler",
					Name:       mapping.TranspilerDecision,
					Input:      fmt.Sprintf("%s:%d", src.File, src.Line),
					Result:     fmt.Sprintf("%s:%d", orig.File, orig.Line),
					Src:        orig,
					DecisionID: atomic.AddUint64(&t.decisionSeq, 1),
					Lamport:    c.clock.Tick(),
				})
			}
			src = orig
		}
	}

	s := trace.SyscallSpan{
		Name:     desc.Name,
		TS:       pending.entryTS,
		Duration: duration,
		Ret:      ret,
		ArgsRepr: argsRepr,
		Src:      src,
		Lamport:  clk,
	}
	span.AddSyscall(s)

	if c.onSpan != nil {
		c.onSpan(pid, s)
	}
	if c.pool != nil && c.batcher != nil {
		slot := c.pool.Acquire()
		slot.Kind = "syscall"
		slot.Payload = s
		c.batcher.Enqueue(slot)
	}
}

// emitUnfinished handles the unfinished-call edge case: the tracee was
// killed or detached between entry and exit. Ret is left at the -1
// sentinel and Unfinished is set.
func (t *Tracer) emitUnfinished(span *trace.ProcessSpan, pending *pendingCall, at time.Time) {
	c := t.cfg
	desc := c.table.Lookup(int(pending.nr))
	if c.filter != nil && !c.filter.Allows(desc.Name) {
		return
	}
	duration := at.UnixNano() - pending.entryTS
	if duration < 0 {
		duration = 0
	}
	clk := c.clock.Tick()
	s := trace.SyscallSpan{
		Name:       desc.Name,
		TS:         pending.entryTS,
		Duration:   duration,
		Ret:        -1,
		Unfinished: true,
		Lamport:    clk,
	}
	span.AddSyscall(s)
	if c.onSpan != nil {
		c.onSpan(span.Pid, s)
	}
}

// handlePtraceEvent reacts to a PTRACE_EVENT_{FORK,VFORK,CLONE,EXIT}
// stop. On FORK/VFORK/CLONE it reads the new
// child's pid via PTRACE_GETEVENTMSG; if fork-following is enabled the
// child gets its own fully-traced ProcessSpan and tracing goroutine,
// otherwise it is recorded only as an opaque child once it exits.
func (t *Tracer) handlePtraceEvent(ctx context.Context, pid int, span *trace.ProcessSpan, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		msg, err := unix.PtraceGetEventMsg(pid)
		if err != nil {
			log.Warn("tracer: geteventmsg(%d): %v", pid, err)
			return
		}
		childPid := int(msg)
		if t.cfg.onFork != nil {
			t.cfg.onFork(pid, childPid)
		}
		if t.cfg.forkFollow {
			t.followChild(ctx, span, childPid)
		} else {
			t.shadowChild(span, childPid)
		}
	default:
		// EXIT and other events carry no extra bookkeeping here; the
		// subsequent Exited()/Signaled() wait status handles sealing.
	}
}

func (t *Tracer) followChild(ctx context.Context, parent *trace.ProcessSpan, childPid int) {
	childSpan := trace.NewProcessSpan(t.cfg.clock, childPid, parent.Cmd+" (child)", nowMonotonic().UnixNano())
	parent.AddChild(childSpan)

	t.mu.Lock()
	t.processes[childPid] = childSpan
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var status unix.WaitStatus
		if _, err := unix.Wait4(childPid, &status, 0, nil); err != nil {
			log.Warn("tracer: child initial wait4(%d): %v", childPid, err)
			return
		}
		if err := unix.PtraceSetOptions(childPid, ptraceOptions); err != nil {
			log.Warn("tracer: child set options(%d): %v", childPid, err)
		}
		t.trace(ctx, childPid, childSpan)
	}()
}

// shadowChild lets the child run to completion un-decoded, recording
// only its eventual exit on the parent (opaque-subtree decision).
func (t *Tracer) shadowChild(parent *trace.ProcessSpan, childPid int) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var status unix.WaitStatus
		if _, err := unix.Wait4(childPid, &status, 0, nil); err != nil {
			return
		}
		_ = unix.PtraceSetOptions(childPid, ptraceOptions)
		if err := unix.PtraceCont(childPid, 0); err != nil {
			return
		}
		for {
			var s2 unix.WaitStatus
			if _, err := unix.Wait4(childPid, &s2, 0, nil); err != nil {
				return
			}
			switch {
			case s2.Exited():
				parent.RecordOpaqueChildExit(childPid, s2.ExitStatus())
				return
			case s2.Signaled():
				parent.RecordOpaqueChildExit(childPid, 128+int(s2.Signal()))
				return
			default:
				if err := unix.PtraceCont(childPid, 0); err != nil {
					return
				}
			}
		}
	}()
}
