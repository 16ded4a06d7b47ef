// wire.go implements the length-prefixed binary frame envelope used by
// the decision-trace archive and the framed transports: each frame is
// a big-endian uint32 length followed by that many bytes of payload.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/paiml/renacer/pkg/trace"
)

// Attr is one per-span wire attribute (syscall.name, syscall.args,
// source.file, lamport.clock, …).
type Attr struct {
	Key   string
	Value string
}

// Envelope is one outbound span record in the telemetry wire format.
// Resource attributes (service.name, process.pid, host.name) are
// carried once per batch by Batch, not repeated per-Envelope.
type Envelope struct {
	Kind       string
	Attrs      []Attr
}

// Batch is one outbound telemetry batch: a shared resource plus the
// per-span envelopes.
type Batch struct {
	ServiceName string
	ProcessPID  int
	HostName    string
	Spans       []Envelope
}

// EncodeBatch serializes b into the length-prefixed frame format: one
// frame for the resource header, then one frame per span.
func EncodeBatch(b Batch) []byte {
	var out []byte
	out = appendFrame(out, encodeResource(b))
	for _, e := range b.Spans {
		out = appendFrame(out, encodeEnvelope(e))
	}
	return out
}

func appendFrame(out, payload []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	return append(out, payload...)
}

func encodeResource(b Batch) []byte {
	return encodeAttrs([]Attr{
		{Key: "service.name", Value: b.ServiceName},
		{Key: "process.pid", Value: fmt.Sprintf("%d", b.ProcessPID)},
		{Key: "host.name", Value: b.HostName},
	})
}

func encodeEnvelope(e Envelope) []byte {
	attrs := append([]Attr{{Key: "kind", Value: e.Kind}}, e.Attrs...)
	return encodeAttrs(attrs)
}

func encodeAttrs(attrs []Attr) []byte {
	var out []byte
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(attrs)))
	out = append(out, countBuf[:]...)
	for _, a := range attrs {
		out = appendString(out, a.Key)
		out = appendString(out, a.Value)
	}
	return out
}

func appendString(out []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	out = append(out, lenBuf[:]...)
	return append(out, s...)
}

// DecisionEnvelope maps one TranspilerDecisionSpan to its wire envelope
// (one decision-trace archive record).
func DecisionEnvelope(d trace.TranspilerDecisionSpan) Envelope {
	attrs := []Attr{
		{Key: "decision.category", Value: d.Category},
		{Key: "decision.name", Value: d.Name},
		{Key: "decision.input", Value: d.Input},
		{Key: "decision.result", Value: d.Result},
		{Key: "decision.id", Value: strconv.FormatUint(d.DecisionID, 10)},
		{Key: "lamport.clock", Value: strconv.FormatUint(d.Lamport, 10)},
	}
	if d.Src != nil {
		attrs = append(attrs,
			Attr{Key: "source.file", Value: d.Src.File},
			Attr{Key: "source.line", Value: strconv.Itoa(d.Src.Line)},
			Attr{Key: "source.function", Value: d.Src.Function},
		)
	}
	return Envelope{Kind: "transpiler_decision", Attrs: attrs}
}

// WriteDecisionArchive writes every transpiler decision in the process
// forest rooted at root to w as one length-prefixed binary frame per
// record, the decision-trace archive output format.
func WriteDecisionArchive(w io.Writer, root *trace.ProcessSpan) error {
	if root == nil {
		return nil
	}
	for _, d := range root.Decisions {
		frame := appendFrame(nil, encodeEnvelope(DecisionEnvelope(d)))
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	for _, c := range root.Children {
		if err := WriteDecisionArchive(w, c); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFrames splits raw (as produced by EncodeBatch or read off a
// framed transport) back into its constituent frame payloads.
func DecodeFrames(raw []byte) ([][]byte, error) {
	var frames [][]byte
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, fmt.Errorf("telemetry: truncated frame length prefix")
		}
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, fmt.Errorf("telemetry: truncated frame payload")
		}
		frames = append(frames, raw[:n])
		raw = raw[n:]
	}
	return frames, nil
}

// DecodeAttrs parses one frame payload produced by encodeAttrs back into
// its Attr list.
func DecodeAttrs(payload []byte) ([]Attr, error) {
	if len(payload) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	count := binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]
	attrs := make([]Attr, 0, count)
	for i := uint32(0); i < count; i++ {
		key, rest, err := readString(payload)
		if err != nil {
			return nil, err
		}
		val, rest2, err := readString(rest)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attr{Key: key, Value: val})
		payload = rest2
	}
	return attrs, nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(b[:n]), b[n:], nil
}
