package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// ReplayResult is the outcome of reading a WAL for recovery.
type ReplayResult struct {
	// Entries holds committed data entries in sequence order, limited
	// to those after the last checkpoint boundary.
	Entries []Entry
	// LastSequence is the highest sequence observed in the log.
	LastSequence uint64
	// Checkpoint is the highest applied sequence recorded by a
	// checkpoint marker, or zero.
	Checkpoint uint64
	// Discarded counts entries dropped as uncommitted, aborted, or
	// corrupt.
	Discarded int
}

// Replay reads the log at path and returns the committed data entries
// that recovery must re-apply. Entries belonging to transactions
// without a commit marker are discarded (equivalent to abort); corrupt
// records are skipped, counted, and logged for operator attention, and
// recovery continues.
func Replay(path string) (*ReplayResult, error) {
	records, corrupt, err := readAll(path)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("wal")
	res := &ReplayResult{Discarded: corrupt}
	if corrupt > 0 {
		metrics.WALEntriesDiscarded.WithLabelValues("corrupt").Add(float64(corrupt))
		logger.Warn().Int("count", corrupt).Str("path", path).
			Msg("discarded corrupt WAL entries during replay")
	}

	committed := make(map[string]bool)
	aborted := make(map[string]bool)
	for _, rec := range records {
		if rec.Sequence > res.LastSequence {
			res.LastSequence = rec.Sequence
		}
		switch rec.Type {
		case RecordCommit:
			committed[rec.TxID] = true
		case RecordAbort:
			aborted[rec.TxID] = true
		case RecordCheckpoint:
			if rec.Applied > res.Checkpoint {
				res.Checkpoint = rec.Applied
			}
		}
	}

	for _, rec := range records {
		if rec.Type != RecordData {
			continue
		}
		switch {
		case aborted[rec.TxID]:
			res.Discarded++
			metrics.WALEntriesDiscarded.WithLabelValues("aborted").Inc()
		case !committed[rec.TxID]:
			res.Discarded++
			metrics.WALEntriesDiscarded.WithLabelValues("uncommitted").Inc()
		case rec.Sequence <= res.Checkpoint:
			// Already reflected in the collection snapshot.
		default:
			res.Entries = append(res.Entries, rec)
		}
	}

	sort.Slice(res.Entries, func(i, j int) bool {
		return res.Entries[i].Sequence < res.Entries[j].Sequence
	})

	return res, nil
}

// TruncateAfter rewrites the log keeping only records with sequence at
// or below seq. This is the administrative half of point-in-time
// rollback; commit markers past the cut make their transactions
// uncommitted, so a subsequent replay discards them.
func TruncateAfter(path string, seq uint64) error {
	records, _, err := readAll(path)
	if err != nil {
		return err
	}

	tmpPath := path + ".truncate"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to create truncated WAL: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if rec.Sequence > seq {
			continue
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to marshal WAL entry: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write truncated WAL: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush truncated WAL: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync truncated WAL: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close truncated WAL: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace WAL: %w", err)
	}
	return nil
}

// readAll decodes every record in the log, returning the count of
// lines that failed to decode or failed their checksum.
func readAll(path string) ([]Entry, int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open WAL: %w", err)
	}
	defer file.Close()

	var (
		records []Entry
		corrupt int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Entry
		if err := json.Unmarshal(line, &rec); err != nil {
			corrupt++
			continue
		}
		if rec.Checksum != rec.checksum() {
			corrupt++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAL: %w", err)
	}
	return records, corrupt, nil
}
