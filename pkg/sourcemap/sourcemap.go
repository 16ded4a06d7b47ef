// Package sourcemap loads the transpiler line-mapping document behind
// --transpiler-map and resolves a generated (file, line) pair back to
// the original source location plus any recorded transpiler decision.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paiml/renacer/internal/rerrors"
)

// SupportedVersion is the only source-map document version this loader
// accepts.
const SupportedVersion = 1

// Mapping is one `generated -> original` line correspondence.
type Mapping struct {
	GeneratedFile      string `json:"generated_file"`
	GeneratedLine      int    `json:"generated_line"`
	OriginalFile       string `json:"original_file"`
	OriginalLine       int    `json:"original_line"`
	OriginalFunction   string `json:"original_function,omitempty"`
	TranspilerDecision string `json:"transpiler_decision,omitempty"`
}

// document is the on-disk shape.
type document struct {
	Version        int       `json:"version"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Mappings       []Mapping `json:"mappings"`
}

// key identifies one generated-side line, used as the Map index.
type key struct {
	file string
	line int
}

// Map is the parsed, lookup-ready form of a source-map document.
type Map struct {
	SourceLanguage string
	TargetLanguage string
	byGenerated    map[key]Mapping
}

// Load reads and validates the source-map document at path. A version
// other than 1 is a hard error (SourceMapInvalid); the caller is
// expected to refuse to apply the map and continue without it.
func Load(path string) (*Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &rerrors.SourceMapInvalid{Detail: fmt.Sprintf("read %s: %v", path, err)}
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &rerrors.SourceMapInvalid{Detail: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if doc.Version != SupportedVersion {
		return nil, &rerrors.SourceMapInvalid{Detail: fmt.Sprintf("unsupported version %d (want %d)", doc.Version, SupportedVersion)}
	}

	m := &Map{
		SourceLanguage: doc.SourceLanguage,
		TargetLanguage: doc.TargetLanguage,
		byGenerated:    make(map[key]Mapping, len(doc.Mappings)),
	}
	for _, mp := range doc.Mappings {
		m.byGenerated[key{mp.GeneratedFile, mp.GeneratedLine}] = mp
	}
	return m, nil
}

// Resolve looks up the original location for one generated (file, line)
// pair. ok is false if the map has no entry for that pair, matching the
// "None"-on-miss degradation the debug-info correlator also uses.
func (m *Map) Resolve(generatedFile string, generatedLine int) (Mapping, bool) {
	if m == nil {
		return Mapping{}, false
	}
	mp, ok := m.byGenerated[key{generatedFile, generatedLine}]
	return mp, ok
}

// Len reports how many mappings were loaded, for diagnostics and tests.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byGenerated)
}
