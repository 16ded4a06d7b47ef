//go:build linux && amd64

package tracer

import "golang.org/x/sys/unix"

// snapshotRegs converts the raw amd64 ptrace register file into the
// subset regSnapshot needs: syscall number and its six argument
// registers live in Orig_rax/Rdi/Rsi/Rdx/R10/R8/R9 at entry, the return
// value overwrites Rax by exit (System V AMD64 ABI, syscall convention).
func snapshotRegs(regs *unix.PtraceRegs) regSnapshot {
	return regSnapshot{
		Nr:  int64(regs.Orig_rax),
		Args: [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9},
		Ret: int64(regs.Rax),
		Rip: regs.Rip,
		Rbp: regs.Rbp,
	}
}

// syscallStopSignal is the signal value a wait4 stop reports for a
// genuine syscall-entry/exit stop once PTRACE_O_TRACESYSGOOD is set
// (SIGTRAP | 0x80, per ptrace(2)): this distinguishes "stopped because
// of a syscall boundary" from "stopped because of a forwarded signal"
// so the latter can be forwarded untouched.
const syscallStopSignal = unix.SIGTRAP | 0x80

// ptraceOptions are set once per attached thread: TRACESYSGOOD
// disambiguates syscall-stops from signal-stops; TRACEFORK/VFORK/CLONE
// let the loop observe PTRACE_EVENT_* stops for fork-following;
// TRACEEXIT surfaces one last stop before
// a thread's final exit so the exit code can always be recorded.
const ptraceOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXIT
