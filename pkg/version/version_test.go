package version

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "versions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(docID string, ver int64, value map[string]any) *types.VersionRecord {
	prev := ver - 1
	if prev < 0 {
		prev = 0
	}
	return &types.VersionRecord{
		DocID:       docID,
		Version:     ver,
		PrevVersion: prev,
		Value:       value,
		Timestamp:   time.Now().UTC(),
	}
}

func TestRecordAndHistoryNewestFirst(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(rec("doc-1", 1, map[string]any{"state": "draft"})))
	require.NoError(t, s.Record(rec("doc-1", 2, map[string]any{"state": "review"})))
	require.NoError(t, s.Record(rec("doc-1", 3, map[string]any{"state": "final"})))

	history, err := s.History("doc-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), history[0].Version)
	assert.Equal(t, int64(2), history[1].Version)
	assert.Equal(t, int64(1), history[2].Version)
	assert.Equal(t, "final", history[0].Value["state"])
}

func TestRecordsAreImmutable(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(rec("doc-1", 1, map[string]any{"a": float64(1)})))
	err := s.Record(rec("doc-1", 1, map[string]any{"a": float64(2)}))
	assert.Error(t, err, "overwriting an existing version must fail")
}

func TestAt(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(rec("doc-1", 1, map[string]any{"v": float64(1)})))
	require.NoError(t, s.Record(rec("doc-1", 2, map[string]any{"v": float64(2)})))

	got, err := s.At("doc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Value["v"])

	_, err = s.At("doc-1", 99)
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	_, err = s.At("missing", 1)
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)
}

func TestAtOrBefore(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(rec("doc-1", 2, map[string]any{"v": float64(2)})))
	require.NoError(t, s.Record(rec("doc-1", 5, map[string]any{"v": float64(5)})))

	got, err := s.AtOrBefore("doc-1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	got, err = s.AtOrBefore("doc-1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)

	_, err = s.AtOrBefore("doc-1", 1)
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)
}

func TestDrop(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(rec("doc-1", 1, map[string]any{"a": float64(1)})))
	require.NoError(t, s.Drop("doc-1"))

	_, err := s.History("doc-1")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	// Dropping an unknown document is not an error.
	assert.NoError(t, s.Drop("never-existed"))
}

func TestHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(rec("doc-1", 1, map[string]any{"a": float64(1)})))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	history, err := s2.History("doc-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
