// Package regression implements the regression detector: given two
// named collections of per-syscall duration samples (baseline,
// current), it filters out noisy names (high coefficient-of-variation
// baselines), then runs a Welch's two-sample t-test per remaining name
// and classifies each as regressed or stable. The mean/variance
// primitives and the Student's-t CDF used to turn a t-statistic into a
// p-value come from gonum.org/v1/gonum/stat and
// gonum.org/v1/gonum/stat/distuv rather than being hand-rolled.
package regression

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/paiml/renacer/internal/rerrors"
)

// DefaultAlpha, DefaultMinSamples, and DefaultNoiseThreshold are the
// documented configuration defaults.
const (
	DefaultAlpha          = 0.05
	DefaultMinSamples     = 5
	DefaultNoiseThreshold = 0.5
)

type config struct {
	alpha          float64
	minSamples     int
	noiseThreshold float64
}

// Option configures a Detector at construction.
type Option func(*config)

func WithAlpha(a float64) Option           { return func(c *config) { c.alpha = a } }
func WithMinSamples(n int) Option          { return func(c *config) { c.minSamples = n } }
func WithNoiseThreshold(cv float64) Option { return func(c *config) { c.noiseThreshold = cv } }

func defaults() *config {
	return &config{
		alpha:          DefaultAlpha,
		minSamples:     DefaultMinSamples,
		noiseThreshold: DefaultNoiseThreshold,
	}
}

// Detector runs the Welch's-t-test-based regression comparison.
type Detector struct {
	cfg *config
}

// New constructs a Detector with the documented defaults, overridden by
// opts.
func New(opts ...Option) *Detector {
	c := defaults()
	for _, o := range opts {
		o(c)
	}
	return &Detector{cfg: c}
}

// NameStats is the per-name statistics attached to a Verdict.
type NameStats struct {
	Name         string
	BaselineMean float64
	CurrentMean  float64
	BaselineCV   float64
	PValue       float64
	Filtered     bool // excluded for noisy baseline
	Insufficient bool // excluded for too few samples on either side
	Regressed    bool
}

// VerdictKind discriminates the three Verdict shapes.
type VerdictKind int

const (
	VerdictNoRegression VerdictKind = iota
	VerdictRegression
	VerdictInsufficientData
)

// Verdict is the outcome of one Compare call.
type Verdict struct {
	Kind               VerdictKind
	RegressedNames     []string
	InsufficientReason string
	PerName            map[string]NameStats
}

// Compare runs the detector over baseline and current, both maps from
// syscall name to a sequence of observed durations in milliseconds.
func (d *Detector) Compare(baseline, current map[string][]float64) Verdict {
	perName := make(map[string]NameStats)

	names := make(map[string]struct{}, len(baseline)+len(current))
	for n := range baseline {
		names[n] = struct{}{}
	}
	for n := range current {
		names[n] = struct{}{}
	}

	if len(names) == 0 {
		return Verdict{Kind: VerdictInsufficientData, InsufficientReason: "no syscall names present in either series", PerName: perName}
	}

	var regressed []string
	anyTested := false

	for n := range names {
		b := baseline[n]
		cu := current[n]

		ns := NameStats{Name: n}

		if len(b) == 0 || len(cu) == 0 {
			ns.Insufficient = true
			perName[n] = ns
			continue
		}

		bMean, bStd := stat.MeanStdDev(b, nil)
		ns.BaselineMean = bMean
		if bMean != 0 {
			ns.BaselineCV = bStd / math.Abs(bMean)
		}

		if ns.BaselineCV > d.cfg.noiseThreshold {
			ns.Filtered = true
			perName[n] = ns
			continue
		}

		if len(b) < d.cfg.minSamples || len(cu) < d.cfg.minSamples {
			ns.Insufficient = true
			perName[n] = ns
			continue
		}

		anyTested = true
		cMean, cStd := stat.MeanStdDev(cu, nil)
		ns.CurrentMean = cMean

		p := welchPValue(bMean, bStd, len(b), cMean, cStd, len(cu))
		ns.PValue = p
		ns.Regressed = p < d.cfg.alpha && cMean > bMean
		if ns.Regressed {
			regressed = append(regressed, n)
		}
		perName[n] = ns
	}

	if !anyTested {
		return Verdict{Kind: VerdictInsufficientData, InsufficientReason: "no syscall name had enough non-noisy samples on both sides", PerName: perName}
	}
	if len(regressed) > 0 {
		return Verdict{Kind: VerdictRegression, RegressedNames: regressed, PerName: perName}
	}
	return Verdict{Kind: VerdictNoRegression, PerName: perName}
}

// welchPValue computes the two-sided p-value for Welch's t-test given
// each side's mean, sample standard deviation, and sample count. The
// Welch-Satterthwaite degrees-of-freedom approximation is plain
// arithmetic combining the two variances (not a hypothesis test in
// itself); the p-value itself comes from gonum's Student's-t CDF.
func welchPValue(mean1, std1 float64, n1 int, mean2, std2 float64, n2 int) float64 {
	v1 := std1 * std1 / float64(n1)
	v2 := std2 * std2 / float64(n2)
	se := math.Sqrt(v1 + v2)
	if se == 0 {
		if mean1 == mean2 {
			return 1
		}
		return 0
	}

	t := (mean2 - mean1) / se

	df := math.Pow(v1+v2, 2) / (math.Pow(v1, 2)/float64(n1-1) + math.Pow(v2, 2)/float64(n2-1))
	if df < 1 {
		df = 1
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * (1 - dist.CDF(math.Abs(t)))
}

// CompareTimeout is a convenience wrapper mirroring the validator's
// explicit-timeout contract: since Compare is pure CPU-bound
// arithmetic over already-collected samples it normally returns well
// within any reasonable deadline, but very large sample sets are
// bounded the same way.
func (d *Detector) CompareTimeout(baseline, current map[string][]float64, deadlineExceeded <-chan struct{}) (Verdict, error) {
	resultCh := make(chan Verdict, 1)
	go func() { resultCh <- d.Compare(baseline, current) }()
	select {
	case v := <-resultCh:
		return v, nil
	case <-deadlineExceeded:
		return Verdict{}, &rerrors.Timeout{Component: "regression"}
	}
}
