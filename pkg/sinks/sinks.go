// Package sinks implements the output renderers: they consume a sealed
// UnifiedTrace plus a flag bitset (timing, source) and render human or
// machine text via encoding/json, encoding/csv, and fmt.
package sinks

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/paiml/renacer/pkg/regression"
	"github.com/paiml/renacer/pkg/stats"
	"github.com/paiml/renacer/pkg/trace"
)

// Flags selects which optional per-line annotations a Sink renders
// (-T and --source).
type Flags struct {
	Timing bool
	Source bool
}

// Format names a renderer (--format {text|json|csv}).
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Sink renders a sealed trace to w.
type Sink interface {
	WriteTrace(w io.Writer, t *trace.UnifiedTrace, flags Flags) error
}

// New returns the Sink for the named format, or an error if the name is
// not one of text/json/csv.
func New(format Format) (Sink, error) {
	switch format {
	case FormatText, "":
		return TextSink{}, nil
	case FormatJSON:
		return JSONSink{}, nil
	case FormatCSV:
		return CSVSink{}, nil
	default:
		return nil, fmt.Errorf("sinks: unknown format %q", format)
	}
}

// TextSink renders strace-compatible lines:
// `<name>(<arg>, ...) = <ret>[ <duration>µs][  [<file>:<line> in <fn>]]`
// The timing suffix is written with literal angle brackets around the
// whole microsecond count, e.g. ` <2µs>`.
type TextSink struct{}

func (TextSink) WriteTrace(w io.Writer, t *trace.UnifiedTrace, flags Flags) error {
	if t == nil || t.Root == nil {
		return nil
	}
	return walkText(w, t.Root, flags)
}

func walkText(w io.Writer, p *trace.ProcessSpan, flags Flags) error {
	for _, s := range p.Syscalls {
		if _, err := fmt.Fprintln(w, formatTextLine(s, flags)); err != nil {
			return err
		}
	}
	for _, c := range p.Children {
		if err := walkText(w, c, flags); err != nil {
			return err
		}
	}
	return nil
}

// formatTextLine renders one syscall span as an strace-style line.
func formatTextLine(s trace.SyscallSpan, flags Flags) string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	b.WriteString(strings.Join(s.ArgsRepr, ", "))
	b.WriteByte(')')
	b.WriteString(" = ")
	if s.Unfinished {
		b.WriteString("?")
	} else {
		b.WriteString(strconv.FormatInt(s.Ret, 10))
	}
	if flags.Timing {
		fmt.Fprintf(&b, " <%dµs>", s.Duration/1000)
	}
	if flags.Source && s.Src != nil {
		fmt.Fprintf(&b, "  [%s:%d in %s]", s.Src.File, s.Src.Line, s.Src.Function)
	}
	return b.String()
}

// JSONSink renders the trace as one JSON object per line, one line per
// syscall span, in traversal order: a streaming-friendly shape rather
// than a single buffered array.
type JSONSink struct{}

type jsonLine struct {
	Pid        int      `json:"pid"`
	Name       string   `json:"name"`
	Args       []string `json:"args"`
	Ret        int64    `json:"ret"`
	Unfinished bool     `json:"unfinished,omitempty"`
	DurationNs int64    `json:"duration_ns,omitempty"`
	DurationUs int64    `json:"duration_us,omitempty"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Function   string   `json:"function,omitempty"`
	Lamport    uint64   `json:"lamport"`
}

func (JSONSink) WriteTrace(w io.Writer, t *trace.UnifiedTrace, flags Flags) error {
	if t == nil || t.Root == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	return walkJSON(enc, t.Root, flags)
}

func walkJSON(enc *json.Encoder, p *trace.ProcessSpan, flags Flags) error {
	for _, s := range p.Syscalls {
		line := jsonLine{
			Pid:        p.Pid,
			Name:       s.Name,
			Args:       s.ArgsRepr,
			Ret:        s.Ret,
			Unfinished: s.Unfinished,
			Lamport:    s.Lamport,
		}
		if flags.Timing {
			line.DurationNs = s.Duration
			line.DurationUs = s.Duration / 1000
		}
		if flags.Source && s.Src != nil {
			line.File = s.Src.File
			line.Line = s.Src.Line
			line.Function = s.Src.Function
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	for _, c := range p.Children {
		if err := walkJSON(enc, c, flags); err != nil {
			return err
		}
	}
	return nil
}

// CSVSink renders one row per syscall span via encoding/csv.
type CSVSink struct{}

func (CSVSink) WriteTrace(w io.Writer, t *trace.UnifiedTrace, flags Flags) error {
	cw := csv.NewWriter(w)
	header := []string{"pid", "name", "args", "ret", "unfinished", "lamport"}
	if flags.Timing {
		header = append(header, "duration_ns")
	}
	if flags.Source {
		header = append(header, "file", "line", "function")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	if t != nil && t.Root != nil {
		if err := walkCSV(cw, t.Root, flags); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func walkCSV(cw *csv.Writer, p *trace.ProcessSpan, flags Flags) error {
	for _, s := range p.Syscalls {
		row := []string{
			strconv.Itoa(p.Pid),
			s.Name,
			strings.Join(s.ArgsRepr, "|"),
			strconv.FormatInt(s.Ret, 10),
			strconv.FormatBool(s.Unfinished),
			strconv.FormatUint(s.Lamport, 10),
		}
		if flags.Timing {
			row = append(row, strconv.FormatInt(s.Duration, 10))
		}
		if flags.Source {
			if s.Src != nil {
				row = append(row, s.Src.File, strconv.Itoa(s.Src.Line), s.Src.Function)
			} else {
				row = append(row, "", "", "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, c := range p.Children {
		if err := walkCSV(cw, c, flags); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary renders the -c statistics-summary table:
// one row per syscall name with its Snapshot counters, sorted by total
// time descending (strace's own -c convention).
func WriteSummary(w io.Writer, engine *stats.Engine) error {
	names := engine.Names()
	rows := make([]summaryRow, 0, len(names))
	for _, n := range names {
		rows = append(rows, summaryRow{name: n, snap: engine.For(n).Snapshot()})
	}
	sortRowsByTotalTimeDesc(rows)

	tw := newFixedWidthWriter(w)
	tw.row("% time", "seconds", "usecs/call", "calls", "errors", "syscall")
	var grandTotal int64
	for _, r := range rows {
		grandTotal += r.snap.SumNs
	}
	for _, r := range rows {
		pct := 0.0
		if grandTotal > 0 {
			pct = 100 * float64(r.snap.SumNs) / float64(grandTotal)
		}
		usecsPerCall := int64(0)
		if r.snap.Count > 0 {
			usecsPerCall = r.snap.SumNs / r.snap.Count / 1000
		}
		tw.row(
			fmt.Sprintf("%.2f", pct),
			fmt.Sprintf("%.6f", float64(r.snap.SumNs)/1e9),
			strconv.FormatInt(usecsPerCall, 10),
			strconv.FormatInt(r.snap.Count, 10),
			strconv.FormatInt(r.snap.ErrorCount, 10),
			r.name,
		)
	}
	return tw.err
}

// WriteRegression renders a regression-detector verdict for the
// --baseline / --load-model comparison paths: a one-line verdict plus a
// per-name detail table for every name that was actually tested or
// excluded.
func WriteRegression(w io.Writer, v regression.Verdict) error {
	switch v.Kind {
	case regression.VerdictRegression:
		names := append([]string(nil), v.RegressedNames...)
		sort.Strings(names)
		if _, err := fmt.Fprintf(w, "regression detected: %s\n", strings.Join(names, ", ")); err != nil {
			return err
		}
	case regression.VerdictNoRegression:
		if _, err := fmt.Fprintln(w, "no regression detected"); err != nil {
			return err
		}
	case regression.VerdictInsufficientData:
		if _, err := fmt.Fprintf(w, "insufficient data: %s\n", v.InsufficientReason); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(v.PerName))
	for n := range v.PerName {
		names = append(names, n)
	}
	sort.Strings(names)

	tw := newFixedWidthWriter(w)
	tw.row("syscall", "baseline ms", "current ms", "p-value", "status")
	for _, n := range names {
		ns := v.PerName[n]
		status := "stable"
		switch {
		case ns.Filtered:
			status = "filtered (noisy baseline)"
		case ns.Insufficient:
			status = "insufficient samples"
		case ns.Regressed:
			status = "REGRESSED"
		}
		tw.row(
			n,
			fmt.Sprintf("%.3f", ns.BaselineMean),
			fmt.Sprintf("%.3f", ns.CurrentMean),
			fmt.Sprintf("%.4g", ns.PValue),
			status,
		)
	}
	return tw.err
}

type summaryRow struct {
	name string
	snap stats.Snapshot
}

func sortRowsByTotalTimeDesc(rows []summaryRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].snap.SumNs > rows[j-1].snap.SumNs; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

type fixedWidthWriter struct {
	w   io.Writer
	err error
}

func newFixedWidthWriter(w io.Writer) *fixedWidthWriter { return &fixedWidthWriter{w: w} }

func (f *fixedWidthWriter) row(cols ...string) {
	if f.err != nil {
		return
	}
	_, f.err = fmt.Fprintln(f.w, strings.Join(cols, "\t"))
}
