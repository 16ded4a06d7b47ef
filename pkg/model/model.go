// Package model persists a per-syscall-name duration model to disk and
// loads it back, backing the --save-model / --load-model / --baseline
// CLI paths. The on-disk shape is a versioned JSON document, the same
// one-shot-document shape pkg/sourcemap uses for the transpiler map.
package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paiml/renacer/pkg/stats"
)

// Version is the only model-document version this loader accepts.
const Version = 1

// document is the on-disk shape: per-name duration samples in
// milliseconds, the unit pkg/regression compares in.
type document struct {
	Version int                  `json:"version"`
	Samples map[string][]float64 `json:"samples_ms"`
}

// FromEngine extracts the per-name duration samples (ms) currently held
// in engine's reservoirs, in the map shape pkg/regression consumes.
func FromEngine(engine *stats.Engine) map[string][]float64 {
	out := make(map[string][]float64)
	for _, name := range engine.Names() {
		ns := engine.For(name).ReservoirSnapshot()
		if len(ns) == 0 {
			continue
		}
		ms := make([]float64, len(ns))
		for i, v := range ns {
			ms[i] = v / 1e6
		}
		out[name] = ms
	}
	return out
}

// Save writes the per-name samples held in engine to path.
func Save(path string, engine *stats.Engine) error {
	doc := document{Version: Version, Samples: FromEngine(engine)}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("model: encode: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("model: write %s: %w", path, err)
	}
	return nil
}

// Load reads a model document previously written by Save.
func Load(path string) (map[string][]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("model: parse %s: %w", path, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("model: unsupported version %d (want %d)", doc.Version, Version)
	}
	if doc.Samples == nil {
		doc.Samples = map[string][]float64{}
	}
	return doc.Samples, nil
}
