package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/wal"
)

// Rollback restores a document to the value it had at an earlier
// version. The restore is a normal versioned mutation, so history is
// never rewritten: the document moves forward to a new version that
// happens to carry the old value. A missing or soft-deleted document
// comes back live.
func (c *Collection) Rollback(ctx context.Context, docID string, ver int64) (*types.Document, error) {
	rec, err := c.versions.At(docID, ver)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, fmt.Errorf("cannot roll back %q to version %d: that version is a deletion", docID, ver)
	}
	return c.runSingle(ctx, types.Operation{
		Kind:  types.OpUpsert,
		DocID: docID,
		Value: rec.Value,
	})
}

// RollbackToSequence rewinds the whole collection to the state it had
// after WAL sequence seq: the WAL and version store are truncated, the
// document set is reconstructed from retained history, and indexes are
// rebuilt. Documents purged without version retention cannot be
// brought back. This is a destructive administrative operation and
// blocks all commits while it runs.
func (c *Collection) RollbackToSequence(seq uint64) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.wlog == nil {
		return fmt.Errorf("sequence rollback requires the WAL to be enabled")
	}

	walPath := c.files.Path(c.walFile())
	if err := c.wlog.Close(); err != nil {
		return fmt.Errorf("failed to close WAL: %w", err)
	}
	if err := wal.TruncateAfter(walPath, seq); err != nil {
		c.failed = true
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if err := c.versions.TruncateAfterSeq(seq); err != nil {
		c.failed = true
		return fmt.Errorf("failed to truncate version history: %w", err)
	}

	docs, err := c.reconstructAt(seq)
	if err != nil {
		c.failed = true
		return err
	}
	c.docs = docs

	if err := c.indexes.Rebuild(c.currentDocs()); err != nil {
		c.failed = true
		return fmt.Errorf("failed to rebuild indexes after rollback: %w", err)
	}
	if err := c.persistLocked(seq); err != nil {
		c.failed = true
		return fmt.Errorf("failed to persist rollback: %w", err)
	}

	c.wlog, err = wal.Open(walPath, c.cfg.WALSyncMode)
	if err != nil {
		c.failed = true
		return fmt.Errorf("failed to reopen WAL: %w", err)
	}

	c.logger.Info().Uint64("sequence", seq).Msg("collection rolled back")
	return nil
}

// reconstructAt rebuilds the document set from the newest retained
// version record at or below seq for every document with history.
func (c *Collection) reconstructAt(seq uint64) (map[string]*types.Document, error) {
	ids, err := c.versions.DocIDs()
	if err != nil {
		return nil, err
	}

	docs := make(map[string]*types.Document, len(ids))
	for _, id := range ids {
		history, err := c.versions.History(id)
		if err != nil {
			if errors.Is(err, types.ErrDocumentNotFound) {
				continue
			}
			return nil, err
		}

		var rec *types.VersionRecord
		for _, r := range history {
			if r.Sequence <= seq {
				rec = r
				break
			}
		}
		if rec == nil {
			continue
		}

		oldest := history[len(history)-1]
		doc := &types.Document{
			ID:        id,
			Value:     types.CloneValue(rec.Value),
			Version:   rec.Version,
			Deleted:   rec.Deleted,
			CreatedAt: oldest.Timestamp,
			UpdatedAt: rec.Timestamp,
		}
		if rec.Deleted {
			ts := rec.Timestamp
			doc.DeletedAt = &ts
		}
		docs[id] = doc
	}
	return docs, nil
}
