package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundtrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte(`{"documents":{}}`)
	require.NoError(t, s.Write("orders.json", data))

	got, err := s.Read("orders.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteReplacesAtomically(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write("col.json", []byte("v1")))
	require.NoError(t, s.Write("col.json", []byte("v2-longer-content")))

	got, err := s.Read("col.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2-longer-content"), got)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write("col.json", []byte("data")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestReadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read("missing.json")
	assert.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write("col.json", []byte("data")))
	require.NoError(t, s.Remove("col.json"))
	assert.False(t, s.Exists("col.json"))

	// Removing a missing file is not an error.
	assert.NoError(t, s.Remove("col.json"))
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
