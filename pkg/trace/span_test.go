package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiml/renacer/pkg/lamport"
)

func TestProcessSpanCreatedAtPrecedesChildSpans(t *testing.T) {
	var clk lamport.Clock
	p := NewProcessSpan(&clk, 100, "/bin/true", 0)
	ok := p.AddSyscall(SyscallSpan{Name: "open", Lamport: clk.Tick()})
	require.True(t, ok)
	assert.Less(t, p.CreatedAt(), p.Syscalls[0].Lamport)
}

func TestSealRejectsFurtherMutation(t *testing.T) {
	var clk lamport.Clock
	p := NewProcessSpan(&clk, 1, "cmd", 0)
	p.Seal(100, 0)
	assert.False(t, p.AddSyscall(SyscallSpan{Name: "close"}))
	assert.True(t, p.Sealed())
	assert.Equal(t, int64(100), p.End())
	require.NotNil(t, p.ExitCode())
	assert.Equal(t, 0, *p.ExitCode())
}

func TestSealIsIdempotent(t *testing.T) {
	var clk lamport.Clock
	p := NewProcessSpan(&clk, 1, "cmd", 0)
	p.Seal(50, 1)
	p.Seal(999, 2)
	assert.Equal(t, int64(50), p.End())
	assert.Equal(t, 1, *p.ExitCode())
}

func TestOpaqueChildRecording(t *testing.T) {
	var clk lamport.Clock
	p := NewProcessSpan(&clk, 1, "cmd", 0)
	ok := p.RecordOpaqueChildExit(42, 0)
	require.True(t, ok)
	require.Len(t, p.OpaqueChildren, 1)
	assert.Equal(t, 42, p.OpaqueChildren[0].Pid)
}

func TestTotalDurationSumsTree(t *testing.T) {
	var clk lamport.Clock
	root := NewProcessSpan(&clk, 1, "root", 0)
	root.AddSyscall(SyscallSpan{Name: "read", Duration: 100})
	child := NewProcessSpan(&clk, 2, "child", 0)
	child.AddSyscall(SyscallSpan{Name: "write", Duration: 50})
	root.AddChild(child)

	ut := NewUnifiedTrace(root, 0)
	assert.Equal(t, int64(150), ut.TotalDuration())
}

func TestNewUnifiedTraceInheritsNonZeroID(t *testing.T) {
	var clk lamport.Clock
	root := NewProcessSpan(&clk, 1, "root", 0)
	ut := NewUnifiedTrace(root, 0xdeadbeef)
	assert.Equal(t, uint64(0xdeadbeef), ut.TraceID)
}

func TestNewUnifiedTraceMintsWhenZero(t *testing.T) {
	var clk lamport.Clock
	root := NewProcessSpan(&clk, 1, "root", 0)
	ut := NewUnifiedTrace(root, 0)
	assert.NotZero(t, ut.TraceID)
}

func TestConcurrentAddSyscallSafe(t *testing.T) {
	var clk lamport.Clock
	p := NewProcessSpan(&clk, 1, "root", 0)
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			p.AddSyscall(SyscallSpan{Name: "write", Lamport: clk.Tick()})
		}()
	}
	wg.Wait()
	assert.Len(t, p.Syscalls, n)
}
