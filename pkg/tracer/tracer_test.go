//go:build linux

package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiml/renacer/pkg/filter"
	"github.com/paiml/renacer/pkg/lamport"
	"github.com/paiml/renacer/pkg/sampler"
	"github.com/paiml/renacer/pkg/syscalltable"
	"github.com/paiml/renacer/pkg/trace"
)

func mustCompile(t *testing.T, expr string) *filter.Filter {
	t.Helper()
	f, err := filter.Compile(expr)
	require.NoError(t, err)
	return f
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateAttached:              "Attached",
		StateRunningToSyscallEntry: "RunningToSyscallEntry",
		StateAtSyscallEntry:        "AtSyscallEntry",
		StateRunningToSyscallExit:  "RunningToSyscallExit",
		StateAtSyscallExit:         "AtSyscallExit",
		StateExited:                "Exited",
		State(99):                  "State(99)",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestDefaultsProvideClockAndTable(t *testing.T) {
	c := defaults()
	assert.NotNil(t, c.clock)
	assert.NotNil(t, c.table)
	assert.Equal(t, DefaultShutdownGrace, c.shutdownGrace)
	assert.Nil(t, c.filter)
	assert.False(t, c.forkFollow)
}

func TestOptionsMutateConfig(t *testing.T) {
	clk := &lamport.Clock{}
	tbl := syscalltable.New()
	smp := sampler.New()

	c := defaults()
	for _, o := range []Option{
		WithForkFollow(true),
		WithClock(clk),
		WithSyscallTable(tbl),
		WithSampler(smp),
		WithShutdownGrace(2 * time.Second),
		WithInheritedTraceID(0xdeadbeef),
	} {
		o(c)
	}

	assert.True(t, c.forkFollow)
	assert.Same(t, clk, c.clock)
	assert.Same(t, tbl, c.table)
	assert.Same(t, smp, c.sampler)
	assert.Equal(t, 2*time.Second, c.shutdownGrace)
	assert.Equal(t, uint64(0xdeadbeef), c.inheritedTraceID)
}

func TestDecodeArgsWithoutMemReader(t *testing.T) {
	// A string argument with no memory reader available must render as
	// <unreadable> rather than dereferencing a typed-nil reader.
	tbl := syscalltable.New()
	desc := tbl.Lookup(2) // open(path, flags, mode)
	repr := decodeArgs(desc, [6]uint64{0x1000, 0, 0}, nil)
	assert.NotEmpty(t, repr)
	assert.Equal(t, syscalltable.Unreadable, repr[0])
}

func TestEmitUnfinishedSetsFlagAndClock(t *testing.T) {
	clk := &lamport.Clock{}
	tr := New(WithClock(clk))
	span := trace.NewProcessSpan(clk, 42, "prog", 0)

	pending := &pendingCall{nr: 0, entryTS: 100}
	tr.emitUnfinished(span, pending, time.Unix(0, 500))

	assert.Len(t, span.Syscalls, 1)
	s := span.Syscalls[0]
	assert.True(t, s.Unfinished)
	assert.Equal(t, int64(400), s.Duration)
	assert.Greater(t, s.Lamport, span.CreatedAt())
}

func TestEmitUnfinishedRespectsFilter(t *testing.T) {
	clk := &lamport.Clock{}
	tr := New(WithClock(clk), WithFilter(mustCompile(t, "open")))
	span := trace.NewProcessSpan(clk, 42, "prog", 0)

	// nr 0 is read on amd64; the open-only filter must drop it.
	tr.emitUnfinished(span, &pendingCall{nr: 0, entryTS: 100}, time.Unix(0, 500))
	assert.Empty(t, span.Syscalls)
}
