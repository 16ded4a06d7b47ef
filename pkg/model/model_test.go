package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiml/renacer/pkg/stats"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	engine := stats.NewEngine(0, 0)
	for _, ns := range []int64{2e6, 3e6, 2e6, 3e6, 2e6} {
		engine.For("futex").Add(ns, false)
	}
	engine.For("mmap").Add(5e6, false)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, Save(path, engine))

	samples, err := Load(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{2, 3, 2, 3, 2}, samples["futex"])
	assert.ElementsMatch(t, []float64{5}, samples["mmap"])
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"samples_ms":{}}`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported version 2")
}

func TestLoadRejectsMalformedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFromEngineSkipsEmptyNames(t *testing.T) {
	engine := stats.NewEngine(0, 0)
	engine.For("idle") // created, but no sample recorded
	assert.Empty(t, FromEngine(engine))
}
