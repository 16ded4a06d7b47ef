// Package env reads the RENACER_* numeric tuning overrides. It is the
// only place in the module that touches os.Getenv directly; library code
// takes values as constructor Options instead.
package env

import (
	"os"
	"strconv"
	"time"
)

// Int reads key as a base-10 integer, returning def if unset or malformed.
func Int(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Duration reads key as a duration (accepting either a Go duration string
// like "5s" or a bare integer number of milliseconds), returning def if
// unset or malformed.
func Duration(key string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// String reads key as-is, returning def if unset.
func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

const (
	SpanPoolSize     = "RENACER_SPAN_POOL_SIZE"
	OTLPBatchSize    = "RENACER_OTLP_BATCH_SIZE"
	OTLPBatchTimeout = "RENACER_OTLP_BATCH_TIMEOUT"
)
