// Package anomaly implements the real-time streaming and post-hoc
// outlier detectors: a per-name ring-buffer z-score
// baseline plus an IQR-rule pass over a full sorted reservoir. The
// streaming detector owns its own ring buffer (rather than reusing
// stats.Aggregate's window directly) so its window size can be
// configured independently of the statistics engine's, matching the
// `--anomaly-window-size N` flag.
package anomaly

import (
	"math"
	"sync"

	mstats "github.com/montanaflynn/stats"
)

// Severity classifies an anomaly's z-score magnitude.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow           // 3-4σ
	SeverityMedium        // 4-5σ
	SeverityHigh          // >5σ
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	default:
		return "None"
	}
}

// Event is one emitted anomaly.
type Event struct {
	Name          string
	Duration      int64
	Z             float64
	BaselineMean  float64
	BaselineStdev float64
	Severity      Severity
}

// classify applies the severity bands to an absolute
// z-score.
func classify(absZ float64) Severity {
	switch {
	case absZ > 5:
		return SeverityHigh
	case absZ > 4:
		return SeverityMedium
	case absZ > 3:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// minEmitSamples is the fewest baseline samples a name needs before the
// streaming detector emits anything.
const minEmitSamples = 10

type perName struct {
	mu     sync.Mutex
	window []int64
	pos    int
	len    int
}

// Detector is the streaming real-time anomaly detector.
type Detector struct {
	windowSize int
	threshold  float64

	mu   sync.Mutex
	byName map[string]*perName
}

// Option configures a Detector at construction.
type Option func(*Detector)

// WithWindowSize overrides the default window size (must be ≥10 for any
// emission to occur).
func WithWindowSize(n int) Option {
	return func(d *Detector) { d.windowSize = n }
}

// WithThreshold overrides the default z-score threshold (default 3.0).
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// New constructs a Detector with window size 10 and threshold 3.0,
// overridden by opts.
func New(opts ...Option) *Detector {
	d := &Detector{windowSize: 10, threshold: 3.0, byName: make(map[string]*perName)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Observe feeds one completed call's duration (ns) for name and returns
// an Event if the streaming detector fires. The baseline is computed
// from the window as it stood *before* this sample (so a spike is
// judged against prior behavior, not including itself), then the sample
// is folded into the window.
func (d *Detector) Observe(name string, durationNs int64) (Event, bool) {
	d.mu.Lock()
	pn, ok := d.byName[name]
	if !ok {
		pn = &perName{window: make([]int64, d.windowSize)}
		d.byName[name] = pn
	}
	d.mu.Unlock()

	pn.mu.Lock()
	defer pn.mu.Unlock()

	var ev Event
	fired := false
	if pn.len >= d.windowSize && pn.len >= minEmitSamples {
		baseline := make([]float64, pn.len)
		for i := 0; i < pn.len; i++ {
			baseline[i] = float64(pn.window[i])
		}
		data := mstats.Float64Data(baseline)
		mean, _ := data.Mean()
		stddev, _ := data.StandardDeviation()

		var z float64
		switch {
		case stddev > 0:
			z = (float64(durationNs) - mean) / stddev
		case float64(durationNs) != mean:
			// A zero-variance baseline with a differing sample is an
			// unbounded deviation; treat it as maximally anomalous
			// rather than silently skipping (division by zero would
			// otherwise mask exactly the spike the detector exists to
			// catch, as in a perfectly flat baseline followed by a
			// spike).
			z = math.Copysign(math.MaxFloat64, float64(durationNs)-mean)
		default:
			z = 0
		}

		if sev := classify(math.Abs(z)); sev != SeverityNone {
			ev = Event{
				Name:          name,
				Duration:      durationNs,
				Z:             z,
				BaselineMean:  mean,
				BaselineStdev: stddev,
				Severity:      sev,
			}
			fired = true
		}
	}

	pn.window[pn.pos] = durationNs
	pn.pos = (pn.pos + 1) % d.windowSize
	if pn.len < d.windowSize {
		pn.len++
	}
	return ev, fired
}

// PostHocZScore runs the global-mean/stddev z-score pass over the full
// sorted reservoir (post-hoc z-score variant).
func PostHocZScore(reservoir []float64, threshold float64) []int {
	if len(reservoir) == 0 {
		return nil
	}
	data := mstats.Float64Data(reservoir)
	mean, _ := data.Mean()
	stddev, _ := data.StandardDeviation()
	if stddev == 0 {
		return nil
	}
	var out []int
	for i, v := range reservoir {
		z := (v - mean) / stddev
		if math.Abs(z) > threshold {
			out = append(out, i)
		}
	}
	return out
}

// PostHocIQR applies the IQR rule (value < Q1-1.5*IQR or > Q3+1.5*IQR)
// over the full sorted reservoir.
func PostHocIQR(reservoir []float64) []int {
	if len(reservoir) < 4 {
		return nil
	}
	data := mstats.Float64Data(reservoir)
	q1, _ := data.Percentile(25)
	q3, _ := data.Percentile(75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr
	var out []int
	for i, v := range reservoir {
		if v < lower || v > upper {
			out = append(out, i)
		}
	}
	return out
}
