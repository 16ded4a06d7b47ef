package w3ctrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	ctx, err := Parse("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "vendor=val")
	require.NoError(t, err)
	assert.Equal(t, byte(0), ctx.Version)
	assert.True(t, ctx.Sampled)
	assert.Equal(t, "vendor=val", ctx.TraceState)
	assert.NotZero(t, ctx.TraceID64())
}

func TestParseUnsampled(t *testing.T) {
	ctx, err := Parse("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00", "")
	require.NoError(t, err)
	assert.False(t, ctx.Sampled)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"00-short-00f067aa0ba902b7-01",
		"00-00000000000000000000000000000000-00f067aa0ba902b7-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-ZZ",
		"zz-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	for _, c := range cases {
		_, err := Parse(c, "")
		assert.Error(t, err, "input=%q", c)
	}
}
