package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.log")
	l, err := Open(path, config.SyncImmediate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestAppendAssignsIncreasingSequences(t *testing.T) {
	l, _ := openTestLog(t)

	s1, err := l.Append("tx-1", types.OpInsert, "doc-1", payload(t, map[string]any{"a": 1}))
	require.NoError(t, err)
	s2, err := l.Append("tx-1", types.OpInsert, "doc-2", payload(t, map[string]any{"b": 2}))
	require.NoError(t, err)

	assert.Less(t, s1, s2)
}

func TestReplayReturnsOnlyCommitted(t *testing.T) {
	l, path := openTestLog(t)

	_, err := l.Append("tx-committed", types.OpInsert, "doc-1", payload(t, map[string]any{"a": 1}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-committed"))

	_, err = l.Append("tx-uncommitted", types.OpInsert, "doc-2", payload(t, map[string]any{"b": 2}))
	require.NoError(t, err)

	_, err = l.Append("tx-aborted", types.OpInsert, "doc-3", payload(t, map[string]any{"c": 3}))
	require.NoError(t, err)
	require.NoError(t, l.MarkAborted("tx-aborted"))

	require.NoError(t, l.Close())

	res, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "doc-1", res.Entries[0].DocID)
	assert.Equal(t, 2, res.Discarded)
}

func TestReplaySkipsEntriesBeforeCheckpoint(t *testing.T) {
	l, path := openTestLog(t)

	seq, err := l.Append("tx-1", types.OpInsert, "doc-1", payload(t, map[string]any{"a": 1}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-1"))
	require.NoError(t, l.Checkpoint(seq))

	_, err = l.Append("tx-2", types.OpInsert, "doc-2", payload(t, map[string]any{"b": 2}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-2"))

	require.NoError(t, l.Close())

	res, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "doc-2", res.Entries[0].DocID)
}

func TestReplaySkipsCorruptLines(t *testing.T) {
	l, path := openTestLog(t)

	_, err := l.Append("tx-1", types.OpInsert, "doc-1", payload(t, map[string]any{"a": 1}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-1"))
	require.NoError(t, l.Close())

	// Append garbage simulating a torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0640)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":99,"type":"data","tx_id":"tx-torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "doc-1", res.Entries[0].DocID)
	assert.GreaterOrEqual(t, res.Discarded, 1)
}

func TestReplayRejectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	// A structurally valid record with a wrong checksum.
	entry := Entry{Sequence: 1, Type: RecordData, TxID: "tx-1", Op: types.OpInsert, DocID: "doc-1", Checksum: 12345}
	data, err := json.Marshal(&entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, '\n'), 0640))

	res, err := Replay(path)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 1, res.Discarded)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	l, err := Open(path, config.SyncImmediate)
	require.NoError(t, err)
	_, err = l.Append("tx-1", types.OpInsert, "doc-1", payload(t, map[string]any{"a": 1}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-1"))
	before := l.Sequence()
	require.NoError(t, l.Close())

	l2, err := Open(path, config.SyncImmediate)
	require.NoError(t, err)
	defer l2.Close()

	seq, err := l2.Append("tx-2", types.OpInsert, "doc-2", payload(t, map[string]any{"b": 2}))
	require.NoError(t, err)
	assert.Greater(t, seq, before)
}

func TestTruncateAfter(t *testing.T) {
	l, path := openTestLog(t)

	s1, err := l.Append("tx-1", types.OpInsert, "doc-1", payload(t, map[string]any{"a": 1}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-1"))

	cut := l.Sequence()

	_, err = l.Append("tx-2", types.OpInsert, "doc-2", payload(t, map[string]any{"b": 2}))
	require.NoError(t, err)
	require.NoError(t, l.MarkCommitted("tx-2"))
	require.NoError(t, l.Close())

	require.NoError(t, TruncateAfter(path, cut))

	res, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, s1, res.Entries[0].Sequence)
	assert.Equal(t, "doc-1", res.Entries[0].DocID)
}

func TestReplayMissingFile(t *testing.T) {
	res, err := Replay(filepath.Join(t.TempDir(), "missing.log"))
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Zero(t, res.LastSequence)
}
