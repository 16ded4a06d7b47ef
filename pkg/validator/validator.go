// Package validator implements the semantic-equivalence validator: it
// projects two sealed UnifiedTraces onto their observable syscall
// sequences, fuzzy-compares them under a configurable tolerance, and
// reports either a Pass (with a similarity confidence and a
// performance comparison) or a Fail naming the first divergence. The
// projection and diff are pure functions over in-memory data; they
// touch no I/O and allocate only the two name-token slices and the
// alignment table.
package validator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paiml/renacer/internal/rerrors"
	"github.com/paiml/renacer/pkg/trace"
)

// DefaultTolerance is τ, the default fuzzy-match tolerance.
const DefaultTolerance = 0.05

// DefaultTimeout is the validator's default deadline.
const DefaultTimeout = 300 * time.Second

// defaultObservableNames is the default projection set: file I/O,
// network, process control, and essential IPC syscalls.
// Allocator (mmap/munmap/mprotect/brk), timing (nanosleep/clock_gettime)
// and threading (futex/clone used purely for threads) primitives are
// excluded, matching the glossary's definition of "observable syscall".
var defaultObservableNames = []string{
	"open", "openat", "close", "read", "write", "stat", "fstat", "lstat",
	"unlink", "rename", "mkdir", "rmdir", "chmod", "chown",
	"socket", "connect", "accept", "accept4", "bind", "listen",
	"send", "recv", "sendto", "recvfrom", "sendmsg", "recvmsg",
	"execve", "exit", "exit_group", "fork", "vfork", "wait4", "kill",
	"shmget", "shmat", "shmdt", "msgget", "msgsnd", "msgrcv", "semget", "semop",
}

type config struct {
	observable map[string]struct{}
	tolerance  float64
	timeout    time.Duration
}

// Option configures a Validator at construction.
type Option func(*config)

// WithObservableSet overrides the default projection set.
func WithObservableSet(names []string) Option {
	return func(c *config) {
		c.observable = make(map[string]struct{}, len(names))
		for _, n := range names {
			c.observable[n] = struct{}{}
		}
	}
}

// WithTolerance overrides τ (default 0.05).
func WithTolerance(tau float64) Option { return func(c *config) { c.tolerance = tau } }

// WithTimeout overrides the default 300s deadline.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

func defaults() *config {
	c := &config{tolerance: DefaultTolerance, timeout: DefaultTimeout}
	WithObservableSet(defaultObservableNames)(c)
	return c
}

// Validator compares pairs of UnifiedTraces for semantic equivalence.
type Validator struct {
	cfg *config
}

// New constructs a Validator with the documented defaults, overridden
// by opts.
func New(opts ...Option) *Validator {
	c := defaults()
	for _, o := range opts {
		o(c)
	}
	return &Validator{cfg: c}
}

// Divergence locates the first point two observable sequences diverge.
type Divergence struct {
	Index       int
	Expected    string
	Actual      string
	Category    string // "extra: <name>", "missing: <name>", or "reordered: <name>"
	Explanation string
}

// PerfComparison reports the performance delta between original and
// candidate.
type PerfComparison struct {
	Speedup              float64
	OriginalDurationNs   int64
	CandidateDurationNs  int64
	OriginalBytesMoved   int64
	CandidateBytesMoved  int64
}

// Result is the outcome of one Validate call. Exactly one of the Pass
// or Fail shapes is populated, selected by Matched.
type Result struct {
	Matched     bool
	Confidence  float64        // populated iff Matched
	Perf        PerfComparison // populated iff Matched
	Divergence  *Divergence    // populated iff !Matched
}

// ValidateDefault runs Validate with a context bounded by the
// configured timeout (default 300s).
func (v *Validator) ValidateDefault(original, candidate *trace.UnifiedTrace) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.timeout)
	defer cancel()
	return v.Validate(ctx, original, candidate)
}

// Validate projects original and candidate to their observable syscall
// sequences and fuzzy-compares them under the configured tolerance.
// It respects ctx's deadline; on expiry it returns rerrors.Timeout.
func (v *Validator) Validate(ctx context.Context, original, candidate *trace.UnifiedTrace) (Result, error) {
	type out struct {
		res Result
		err error
	}
	ch := make(chan out, 1)
	go func() {
		origSeq := project(original, v.cfg.observable)
		candSeq := project(candidate, v.cfg.observable)
		ch <- out{res: v.compare(origSeq, candSeq, original, candidate)}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, &rerrors.Timeout{Component: "validator"}
	}
}

func (v *Validator) compare(orig, cand []string, origTrace, candTrace *trace.UnifiedTrace) Result {
	ops := align(orig, cand)

	maxLen := len(orig)
	if len(cand) > maxLen {
		maxLen = len(cand)
	}
	if maxLen == 0 {
		return Result{Matched: true, Confidence: 1, Perf: perf(origTrace, candTrace)}
	}

	// Pair each unmatched original occurrence with an unmatched
	// candidate occurrence of the same name: the call happened on both
	// sides, just not in lockstep. Such a pair is one out-of-order
	// insertion, not an independent missing+extra pair.
	delCount := map[string]int{}
	insCount := map[string]int{}
	for _, o := range ops {
		switch o.kind {
		case opDelete:
			delCount[o.name]++
		case opInsert:
			insCount[o.name]++
		}
	}
	reorderCount := 0
	budgetDel := map[string]int{}
	budgetIns := map[string]int{}
	for n, d := range delCount {
		p := d
		if i := insCount[n]; i < p {
			p = i
		}
		if p > 0 {
			reorderCount += p
			budgetDel[n] = p
			budgetIns[n] = p
		}
	}

	diffCount := 0
	var firstDiverge *Divergence
	origIdx, candIdx := 0, 0
	for _, o := range ops {
		switch o.kind {
		case opMatch:
			origIdx++
			candIdx++
		case opDelete:
			if budgetDel[o.name] > 0 {
				budgetDel[o.name]--
				if firstDiverge == nil {
					firstDiverge = &Divergence{
						Index:       origIdx,
						Expected:    o.name,
						Actual:      peek(cand, candIdx),
						Category:    "reordered: " + o.name,
						Explanation: fmt.Sprintf("call %q appears in both sequences but out of relative order", o.name),
					}
				}
			} else {
				diffCount++
				if firstDiverge == nil {
					firstDiverge = &Divergence{
						Index:       origIdx,
						Expected:    o.name,
						Actual:      peek(cand, candIdx),
						Category:    "missing: " + o.name,
						Explanation: fmt.Sprintf("original call %q at position %d has no counterpart in the candidate", o.name, origIdx),
					}
				}
			}
			origIdx++
		case opInsert:
			if budgetIns[o.name] > 0 {
				budgetIns[o.name]--
				if firstDiverge == nil {
					firstDiverge = &Divergence{
						Index:       origIdx,
						Expected:    peek(orig, origIdx),
						Actual:      o.name,
						Category:    "reordered: " + o.name,
						Explanation: fmt.Sprintf("call %q appears in both sequences but out of relative order", o.name),
					}
				}
			} else {
				diffCount++
				if firstDiverge == nil {
					firstDiverge = &Divergence{
						Index:       origIdx,
						Expected:    peek(orig, origIdx),
						Actual:      o.name,
						Category:    "extra: " + o.name,
						Explanation: fmt.Sprintf("candidate call %q at position %d has no counterpart in the original", o.name, candIdx),
					}
				}
			}
			candIdx++
		}
	}

	fraction := float64(diffCount) / float64(maxLen)
	allowedReorder := int(ceil(v.cfg.tolerance * float64(maxLen)))
	matched := fraction <= v.cfg.tolerance && reorderCount <= allowedReorder

	if !matched {
		return Result{Matched: false, Divergence: firstDiverge}
	}
	return Result{
		Matched:    true,
		Confidence: jaccard(orig, cand),
		Perf:       perf(origTrace, candTrace),
	}
}

func ceil(f float64) float64 {
	i := int64(f)
	if f > float64(i) {
		return float64(i + 1)
	}
	return float64(i)
}

func peek(seq []string, i int) string {
	if i < 0 || i >= len(seq) {
		return ""
	}
	return seq[i]
}

func perf(orig, cand *trace.UnifiedTrace) PerfComparison {
	od := orig.TotalDuration()
	cd := cand.TotalDuration()
	p := PerfComparison{OriginalDurationNs: od, CandidateDurationNs: cd}
	if cd > 0 {
		p.Speedup = float64(od) / float64(cd)
	}
	p.OriginalBytesMoved = totalBytesMoved(orig.Root)
	p.CandidateBytesMoved = totalBytesMoved(cand.Root)
	return p
}

func totalBytesMoved(p *trace.ProcessSpan) int64 {
	if p == nil {
		return 0
	}
	var sum int64
	for _, t := range p.Transfers {
		sum += t.Bytes
	}
	for _, c := range p.Children {
		sum += totalBytesMoved(c)
	}
	return sum
}

// jaccard computes the Jaccard-style similarity of the two sequences'
// bag-of-names, used as the Pass confidence.
func jaccard(a, b []string) float64 {
	ca := counts(a)
	cb := counts(b)
	names := make(map[string]struct{}, len(ca)+len(cb))
	for n := range ca {
		names[n] = struct{}{}
	}
	for n := range cb {
		names[n] = struct{}{}
	}
	var inter, union int
	for n := range names {
		x, y := ca[n], cb[n]
		if x < y {
			inter += x
			union += y
		} else {
			inter += y
			union += x
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func counts(seq []string) map[string]int {
	m := make(map[string]int)
	for _, n := range seq {
		m[n]++
	}
	return m
}

// project walks a sealed UnifiedTrace's process forest, merges every
// syscall span (including those of fully-traced children) in
// monotonic-timestamp order, and keeps only names in the observable
// set.
func project(t *trace.UnifiedTrace, observable map[string]struct{}) []string {
	if t == nil || t.Root == nil {
		return nil
	}
	type stamped struct {
		ts   int64
		name string
	}
	var all []stamped
	var walk func(p *trace.ProcessSpan)
	walk = func(p *trace.ProcessSpan) {
		if p == nil {
			return
		}
		for _, s := range p.Syscalls {
			all = append(all, stamped{ts: s.TS, name: s.Name})
		}
		for _, c := range p.Children {
			walk(c)
		}
	}
	walk(t.Root)
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	out := make([]string, 0, len(all))
	for _, s := range all {
		if _, ok := observable[s.name]; ok {
			out = append(out, s.name)
		}
	}
	return out
}
