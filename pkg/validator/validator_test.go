package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiml/renacer/internal/rerrors"
	"github.com/paiml/renacer/pkg/lamport"
	"github.com/paiml/renacer/pkg/trace"
)

// traceOf builds a sealed single-process UnifiedTrace whose syscalls
// carry the given names, one per monotonic timestamp.
func traceOf(names ...string) *trace.UnifiedTrace {
	clk := &lamport.Clock{}
	root := trace.NewProcessSpan(clk, 1, "prog", 0)
	for i, n := range names {
		root.AddSyscall(trace.SyscallSpan{
			Name: n, TS: int64(i + 1), Duration: 1000, Ret: 0, Lamport: clk.Tick(),
		})
	}
	root.Seal(int64(len(names) + 1), 0)
	return trace.NewUnifiedTrace(root, 0)
}

func TestMissingReadWithinTolerancePasses(t *testing.T) {
	orig := traceOf("open", "read", "read", "write", "close")
	cand := traceOf("open", "read", "write", "close")

	v := New(WithTolerance(0.25))
	res, err := v.ValidateDefault(orig, cand)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	// bag-of-names: intersection 4, union 5
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestMissingReadBeyondToleranceFails(t *testing.T) {
	orig := traceOf("open", "read", "read", "write", "close")
	cand := traceOf("open", "read", "write", "close")

	v := New(WithTolerance(0.10))
	res, err := v.ValidateDefault(orig, cand)
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.NotNil(t, res.Divergence)
	assert.Equal(t, 2, res.Divergence.Index)
	assert.Equal(t, "missing: read", res.Divergence.Category)
	assert.Equal(t, "read", res.Divergence.Expected)
}

func TestExtraCallReported(t *testing.T) {
	orig := traceOf("open", "write", "close")
	cand := traceOf("open", "read", "write", "close")

	res, err := New(WithTolerance(0.0)).ValidateDefault(orig, cand)
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.NotNil(t, res.Divergence)
	assert.Equal(t, "extra: read", res.Divergence.Category)
}

func TestReorderedCallReported(t *testing.T) {
	orig := traceOf("open", "read", "write", "close")
	cand := traceOf("open", "write", "read", "close")

	res, err := New(WithTolerance(0.0)).ValidateDefault(orig, cand)
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.NotNil(t, res.Divergence)
	assert.Contains(t, res.Divergence.Category, "reordered")
}

func TestIdenticalTracesPassWithFullConfidence(t *testing.T) {
	a := traceOf("open", "read", "write", "close")
	b := traceOf("open", "read", "write", "close")

	res, err := New().ValidateDefault(a, b)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestProjectionDropsUnobservableNames(t *testing.T) {
	// mmap/futex/clock_gettime are allocator/threading/timing
	// primitives, outside the observable set.
	a := traceOf("open", "mmap", "read", "futex", "close", "clock_gettime")
	b := traceOf("open", "read", "close")

	res, err := New().ValidateDefault(a, b)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestProjectionMergesChildrenByTimestamp(t *testing.T) {
	clk := &lamport.Clock{}
	root := trace.NewProcessSpan(clk, 1, "parent", 0)
	child := trace.NewProcessSpan(clk, 2, "child", 0)
	root.AddSyscall(trace.SyscallSpan{Name: "open", TS: 1, Ret: 3, Lamport: clk.Tick()})
	child.AddSyscall(trace.SyscallSpan{Name: "read", TS: 2, Ret: 7, Lamport: clk.Tick()})
	root.AddSyscall(trace.SyscallSpan{Name: "close", TS: 3, Ret: 0, Lamport: clk.Tick()})
	root.AddChild(child)
	child.Seal(4, 0)
	root.Seal(5, 0)
	ut := trace.NewUnifiedTrace(root, 0)

	seq := project(ut, New().cfg.observable)
	assert.Equal(t, []string{"open", "read", "close"}, seq)
}

func TestSymmetricConfidence(t *testing.T) {
	a := traceOf("open", "read", "read", "write", "close")
	b := traceOf("open", "read", "write", "close")

	v := New(WithTolerance(0.25))
	ra, err := v.ValidateDefault(a, b)
	require.NoError(t, err)
	rb, err := v.ValidateDefault(b, a)
	require.NoError(t, err)
	require.True(t, ra.Matched)
	require.True(t, rb.Matched)
	assert.InDelta(t, ra.Confidence, rb.Confidence, 1e-9)
}

func TestEmptyTracesPass(t *testing.T) {
	res, err := New().ValidateDefault(traceOf(), traceOf())
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestPerfComparisonSpeedup(t *testing.T) {
	clk := &lamport.Clock{}
	orig := trace.NewProcessSpan(clk, 1, "orig", 0)
	orig.AddSyscall(trace.SyscallSpan{Name: "read", TS: 1, Duration: 2000, Ret: 0, Lamport: clk.Tick()})
	orig.Seal(3000, 0)
	cand := trace.NewProcessSpan(clk, 2, "cand", 0)
	cand.AddSyscall(trace.SyscallSpan{Name: "read", TS: 1, Duration: 1000, Ret: 0, Lamport: clk.Tick()})
	cand.Seal(2000, 0)

	res, err := New().ValidateDefault(trace.NewUnifiedTrace(orig, 0), trace.NewUnifiedTrace(cand, 0))
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.InDelta(t, 2.0, res.Perf.Speedup, 1e-9)
}

func TestValidateHonorsContextDeadline(t *testing.T) {
	// Two long dissimilar sequences keep the LCS busy long enough for
	// the already-expired context to win the select.
	var an, bn []string
	for i := 0; i < 1500; i++ {
		if i%2 == 0 {
			an = append(an, "read")
			bn = append(bn, "write")
		} else {
			an = append(an, "open")
			bn = append(bn, "close")
		}
	}
	a := traceOf(an...)
	b := traceOf(bn...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Validate(ctx, a, b)
	require.Error(t, err)
	var to *rerrors.Timeout
	assert.ErrorAs(t, err, &to)
}
