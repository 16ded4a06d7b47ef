package sourcemap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiml/renacer/internal/rerrors"
)

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndResolve(t *testing.T) {
	path := writeDoc(t, `{
		"version": 1,
		"source_language": "python",
		"target_language": "rust",
		"mappings": [
			{"generated_file": "main.rs", "generated_line": 42,
			 "original_file": "main.py", "original_line": 7,
			 "original_function": "fetch",
			 "transpiler_decision": "inline_iterator"},
			{"generated_file": "main.rs", "generated_line": 50,
			 "original_file": "main.py", "original_line": 12}
		]
	}`)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "python", m.SourceLanguage)
	assert.Equal(t, "rust", m.TargetLanguage)
	assert.Equal(t, 2, m.Len())

	mp, ok := m.Resolve("main.rs", 42)
	require.True(t, ok)
	assert.Equal(t, "main.py", mp.OriginalFile)
	assert.Equal(t, 7, mp.OriginalLine)
	assert.Equal(t, "fetch", mp.OriginalFunction)
	assert.Equal(t, "inline_iterator", mp.TranspilerDecision)

	_, ok = m.Resolve("main.rs", 99)
	assert.False(t, ok)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := writeDoc(t, `{"version": 2, "mappings": []}`)

	_, err := Load(path)
	require.Error(t, err)
	var smErr *rerrors.SourceMapInvalid
	require.ErrorAs(t, err, &smErr)
	assert.Contains(t, smErr.Detail, "unsupported version 2")
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeDoc(t, `{"version": 1,`)

	_, err := Load(path)
	var smErr *rerrors.SourceMapInvalid
	assert.ErrorAs(t, err, &smErr)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	var smErr *rerrors.SourceMapInvalid
	assert.ErrorAs(t, err, &smErr)
}

func TestNilMapResolvesNothing(t *testing.T) {
	var m *Map
	_, ok := m.Resolve("a.rs", 1)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}
