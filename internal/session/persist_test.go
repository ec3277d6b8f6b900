package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad_Roundtrip(t *testing.T) {
	s := validSession()
	s.Backend = "local-parallel"
	s.BackendArgs = map[string]any{"n_workers": 4}
	s.ReadoutTimes = []float64{0.05, 0.05, 0.05, 0.05}

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, s.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Subject, got.Subject)
	assert.Equal(t, s.FuncRuns, got.FuncRuns)
	assert.Equal(t, s.PEDim, got.PEDim)
	assert.Equal(t, s.Backend, got.Backend)
	assert.Equal(t, s.ReadoutTimes, got.ReadoutTimes)
	// JSON numbers come back as float64.
	assert.Equal(t, float64(4), got.BackendArgs["n_workers"])
}

func TestSave_RecordFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, validSession().Save(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, key := range []string{
		"subject", "data", "epis", "sbref",
		"distort_PE", "distort_revPE", "PE_dim",
		"out", "working_dir", "plugin",
	} {
		assert.Contains(t, raw, key)
	}
}

func TestSave_OverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, validSession().Save(path))

	s2 := validSession()
	s2.Subject = "sub-02"
	require.NoError(t, s2.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sub-02", got.Subject)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
