package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Values []float32
	Tags   []int
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.gob")
	in := sample{Values: []float32{0.5, -1.25, 3}, Tags: []int{7, 8, 9}}

	require.NoError(t, Save(path, "sample", in))

	var out sample
	require.NoError(t, Load(path, "sample", &out))
	assert.Equal(t, in, out)
}

func TestLoadMissing(t *testing.T) {
	var out sample
	err := Load(filepath.Join(t.TempDir(), "absent.gob"), "sample", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.gob")
	require.NoError(t, os.WriteFile(path, []byte("definitely not gob"), 0o600))

	var out sample
	err := Load(path, "sample", &out)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLoadWrongKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.gob")
	require.NoError(t, Save(path, "other", sample{Tags: []int{1}}))

	var out sample
	err := Load(path, "sample", &out)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.gob")
	require.NoError(t, Save(path, "sample", sample{Values: make([]float32, 256), Tags: make([]int, 256)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))

	var out sample
	assert.ErrorIs(t, Load(path, "sample", &out), ErrCorrupt)
}

func TestWriteFileReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	require.NoError(t, WriteFile(path, []byte("first")))
	require.NoError(t, WriteFile(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be renamed or removed")
	assert.True(t, Exists(path))
	assert.False(t, Exists(filepath.Join(dir, "missing")))
}
