// Package w3ctrace parses the W3C Trace Context traceparent/tracestate
// headers (--trace-parent, and the TRACEPARENT/TRACESTATE environment
// fallback) so a renacer run can inherit a distributed trace ID and
// sampling decision instead of always minting a fresh root.
package w3ctrace

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Context is the decoded form of a traceparent header.
type Context struct {
	Version    byte
	TraceID    [16]byte
	ParentID   [8]byte
	Sampled    bool
	TraceState string
}

// Parse decodes a traceparent value of the form
// "00-<32 hex>-<16 hex>-<2 hex flags>" and an optional tracestate, which is
// preserved verbatim.
func Parse(traceparent, tracestate string) (Context, error) {
	var ctx Context
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ctx, fmt.Errorf("w3ctrace: malformed traceparent %q", traceparent)
	}
	verBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(verBytes) != 1 {
		return ctx, fmt.Errorf("w3ctrace: malformed version %q", parts[0])
	}
	ctx.Version = verBytes[0]

	tidBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(tidBytes) != 16 {
		return ctx, fmt.Errorf("w3ctrace: malformed trace-id %q", parts[1])
	}
	copy(ctx.TraceID[:], tidBytes)
	if isAllZero(ctx.TraceID[:]) {
		return ctx, fmt.Errorf("w3ctrace: all-zero trace-id is invalid")
	}

	pidBytes, err := hex.DecodeString(parts[2])
	if err != nil || len(pidBytes) != 8 {
		return ctx, fmt.Errorf("w3ctrace: malformed parent-id %q", parts[2])
	}
	copy(ctx.ParentID[:], pidBytes)
	if isAllZero(ctx.ParentID[:]) {
		return ctx, fmt.Errorf("w3ctrace: all-zero parent-id is invalid")
	}

	flagBytes, err := hex.DecodeString(parts[3])
	if err != nil || len(flagBytes) != 1 {
		return ctx, fmt.Errorf("w3ctrace: malformed flags %q", parts[3])
	}
	ctx.Sampled = flagBytes[0]&0x01 == 1
	ctx.TraceState = tracestate
	return ctx, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// TraceID64 folds the low 8 bytes of the 128-bit W3C trace ID into the
// uint64 trace ID space the unified trace model uses.
func (c Context) TraceID64() uint64 {
	var v uint64
	for _, b := range c.TraceID[8:] {
		v = v<<8 | uint64(b)
	}
	return v
}
