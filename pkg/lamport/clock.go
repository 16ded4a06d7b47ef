// Package lamport implements the process-wide logical clock used to order
// spans causally: a single atomically-updated monotonic counter with a
// CAS-based sync operation for folding in peer clock values.
package lamport

import "sync/atomic"

// Clock is a Lamport logical clock. The zero value is ready to use and
// starts at 0; the first Tick returns 1.
type Clock struct {
	v atomic.Uint64
}

// Tick advances the clock by one and returns the new value. Called on
// every span creation attempt, including ones the adaptive sampler later
// drops: the clock orders causal events, not retained output.
func (c *Clock) Tick() uint64 {
	return c.v.Add(1)
}

// Sync folds in a peer's observed clock value: the local clock becomes
// max(local, remote)+1, guaranteeing the new local value is strictly
// greater than both the prior local value and the remote one.
func (c *Clock) Sync(remote uint64) uint64 {
	for {
		cur := c.v.Load()
		next := remote
		if cur > next {
			next = cur
		}
		next++
		if c.v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() uint64 {
	return c.v.Load()
}
