package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
)

// RecordType distinguishes data entries from transaction markers.
type RecordType string

const (
	RecordData       RecordType = "data"
	RecordCommit     RecordType = "commit"
	RecordAbort      RecordType = "abort"
	RecordCheckpoint RecordType = "checkpoint"
)

// Entry is a single WAL record. Data entries carry the serialized
// mutation; commit and abort markers reference a transaction id;
// checkpoint markers carry the sequence already reflected in the
// collection snapshot.
type Entry struct {
	Sequence  uint64          `json:"seq"`
	Type      RecordType      `json:"type"`
	TxID      string          `json:"tx_id,omitempty"`
	Op        types.OpKind    `json:"op,omitempty"`
	DocID     string          `json:"doc_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Applied   uint64          `json:"applied,omitempty"` // checkpoint boundary
	Timestamp time.Time       `json:"ts"`
	Checksum  uint32          `json:"crc"`
}

// checksum covers the fields that matter for replay integrity.
func (e *Entry) checksum() uint32 {
	h := crc32.NewIEEE()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%d|", e.Sequence, e.Type, e.TxID, e.Op, e.DocID, e.Applied)
	h.Write(e.Payload)
	return h.Sum32()
}

// Log is an append-only write-ahead log for one collection. Appends
// are serialized; the fsync policy follows the configured sync mode.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *bufio.Writer
	seq    uint64
	mode   config.SyncMode
	closed bool
}

// Open opens or creates the WAL at path, scanning any existing records
// to restore the sequence counter.
func Open(path string, mode config.SyncMode) (*Log, error) {
	if mode == "" {
		mode = config.SyncImmediate
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	l := &Log{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		mode:   mode,
	}

	last, err := lastSequence(path)
	if err != nil {
		file.Close()
		return nil, err
	}
	l.seq = last

	return l, nil
}

// lastSequence scans the log for the highest sequence number, ignoring
// undecodable trailing records.
func lastSequence(path string) (uint64, error) {
	records, _, err := readAll(path)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, rec := range records {
		if rec.Sequence > last {
			last = rec.Sequence
		}
	}
	return last, nil
}

// Append writes a data entry, assigning its sequence number. The entry
// is durable per the sync mode before Append returns.
func (l *Log) Append(txID string, op types.OpKind, docID string, payload json.RawMessage) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, fmt.Errorf("WAL is closed")
	}

	l.seq++
	entry := Entry{
		Sequence:  l.seq,
		Type:      RecordData,
		TxID:      txID,
		Op:        op,
		DocID:     docID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	entry.Checksum = entry.checksum()

	if err := l.writeLocked(&entry); err != nil {
		return 0, err
	}
	if l.mode == config.SyncImmediate {
		if err := l.syncLocked(); err != nil {
			return 0, err
		}
	}
	return entry.Sequence, nil
}

// MarkCommitted appends a commit marker for txID. The marker is always
// flushed and, unless the sync mode is none, fsynced: a transaction is
// not durable until its marker is.
func (l *Log) MarkCommitted(txID string) error {
	return l.appendMarker(RecordCommit, txID, 0)
}

// MarkAborted appends an abort marker for txID so recovery can discard
// the transaction's entries without re-inspection.
func (l *Log) MarkAborted(txID string) error {
	return l.appendMarker(RecordAbort, txID, 0)
}

// Checkpoint records that every entry up to and including applied is
// reflected in the collection snapshot; replay may skip them.
func (l *Log) Checkpoint(applied uint64) error {
	return l.appendMarker(RecordCheckpoint, "", applied)
}

func (l *Log) appendMarker(rt RecordType, txID string, applied uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("WAL is closed")
	}

	l.seq++
	entry := Entry{
		Sequence:  l.seq,
		Type:      rt,
		TxID:      txID,
		Applied:   applied,
		Timestamp: time.Now().UTC(),
	}
	entry.Checksum = entry.checksum()

	if err := l.writeLocked(&entry); err != nil {
		return err
	}
	return l.syncLocked()
}

func (l *Log) writeLocked(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	return nil
}

func (l *Log) syncLocked() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if l.mode != config.SyncNone {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return nil
}

// Sequence returns the last assigned sequence number.
func (l *Log) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if l.mode != config.SyncNone {
		if err := l.file.Sync(); err != nil {
			l.file.Close()
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return l.file.Close()
}
