package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/index"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// errPurgeGuardFailed cancels a guarded purge whose document was
// undeleted (or re-deleted later) between scan and commit.
var errPurgeGuardFailed = errors.New("purge guard failed: document no longer eligible")

// Txn stages a batch of operations against one collection and applies
// them all-or-none on Commit. A Txn is not safe for concurrent use;
// concurrency comes from running many transactions, not sharing one.
type Txn struct {
	c     *Collection
	id    string
	ops   []types.Operation
	state types.TxState
}

// Begin starts a new transaction on the collection.
func (c *Collection) Begin() *Txn {
	return &Txn{
		c:     c,
		id:    uuid.New().String(),
		state: types.TxPending,
	}
}

// ID returns the transaction id.
func (t *Txn) ID() string { return t.id }

// Stage adds an operation to the transaction. Nothing is validated
// against document state until Commit; Stage only rejects operations
// that are malformed on their face.
func (t *Txn) Stage(op types.Operation) error {
	if t.state != types.TxPending {
		return types.ErrTxFinished
	}
	if op.DocID == "" {
		return fmt.Errorf("operation requires a document id")
	}
	switch op.Kind {
	case types.OpInsert, types.OpReplace, types.OpUpsert:
		if op.Value == nil {
			return fmt.Errorf("%s of %q requires a value", op.Kind, op.DocID)
		}
	case types.OpUpdate:
		if len(op.Value) == 0 {
			return fmt.Errorf("update of %q requires a non-empty patch", op.DocID)
		}
	case types.OpSoftDelete, types.OpUndelete, types.OpPurge:
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	t.ops = append(t.ops, op)
	return nil
}

// Abort discards the transaction. Staged operations were never logged,
// so there is nothing to undo.
func (t *Txn) Abort() {
	if t.state != types.TxPending {
		return
	}
	t.state = types.TxAborted
	metrics.TransactionsAborted.Inc()
}

// Commit applies every staged operation atomically. On any error the
// transaction is aborted and the collection is left exactly as it was,
// except for the narrow post-durability failure window in which the
// collection marks itself unusable rather than serve inconsistent
// state.
func (t *Txn) Commit(ctx context.Context) (*types.CommitReport, error) {
	if t.state != types.TxPending {
		return nil, types.ErrTxFinished
	}
	report, err := t.c.commit(ctx, t.id, t.ops)
	if err != nil {
		t.state = types.TxAborted
		metrics.TransactionsAborted.Inc()
		return nil, err
	}
	t.state = types.TxCommitted
	return report, nil
}

// docChange is one resolved document transition: the committed state
// the operation was validated against and the state it produces. After
// is nil for a purge.
type docChange struct {
	op     types.Operation
	before *types.Document
	after  *types.Document
}

func indexChanges(changes []docChange) []index.Change {
	out := make([]index.Change, len(changes))
	for i, ch := range changes {
		out[i] = index.Change{Before: ch.before, After: ch.after}
	}
	return out
}

// commit runs the full protocol: latch the target documents, run
// pre-write hooks, validate against committed state, dry-run unique
// constraints, log to the WAL, atomically replace the snapshot file,
// record versions, swap the in-memory state and indexes, and only then
// write the commit marker and notify post-write hooks.
func (c *Collection) commit(ctx context.Context, txID string, ops []types.Operation) (*types.CommitReport, error) {
	if len(ops) == 0 {
		return &types.CommitReport{TxID: txID}, nil
	}

	c.mu.RLock()
	err := c.usableLocked()
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	logger := c.logger.With().Str("tx_id", txID).Logger()

	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.DocID
	}
	release, err := c.latches.Acquire(ids, c.cfg.LockTimeout)
	if err != nil {
		metrics.CommitFailuresTotal.WithLabelValues("lock_timeout").Inc()
		return nil, err
	}
	defer release()

	// Hooks may normalize operations in place; a rejection aborts the
	// transaction before anything is logged.
	for i := range ops {
		if err := c.hooks.RunPre(ctx, &ops[i]); err != nil {
			metrics.CommitFailuresTotal.WithLabelValues("hook_rejected").Inc()
			return nil, err
		}
	}

	now := time.Now().UTC()
	changes, err := c.buildChanges(ops, now)
	if err != nil {
		metrics.CommitFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	// The durable section is single-writer: the snapshot file covers
	// the whole collection, and the constraint dry-run must not race
	// another commit's index swap.
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.RLock()
	err = c.usableLocked()
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if err := c.indexes.Check(indexChanges(changes)); err != nil {
		metrics.CommitFailuresTotal.WithLabelValues("constraint").Inc()
		return nil, err
	}

	seqs := make([]uint64, len(changes))
	if c.wlog != nil {
		for i, ch := range changes {
			var payload json.RawMessage
			if ch.after != nil {
				payload, err = json.Marshal(ch.after)
				if err != nil {
					metrics.CommitFailuresTotal.WithLabelValues("wal").Inc()
					return nil, fmt.Errorf("failed to encode WAL payload: %w", err)
				}
			}
			seqs[i], err = c.wlog.Append(txID, ch.op.Kind, ch.op.DocID, payload)
			if err != nil {
				c.abortWAL(txID, logger)
				metrics.CommitFailuresTotal.WithLabelValues("wal").Inc()
				return nil, err
			}
		}
	}

	// Installed document maps are never mutated, so sharing unchanged
	// pointers with the outgoing map is safe.
	c.mu.RLock()
	newDocs := make(map[string]*types.Document, len(c.docs)+len(changes))
	for id, d := range c.docs {
		newDocs[id] = d
	}
	c.mu.RUnlock()
	for _, ch := range changes {
		if ch.after == nil {
			delete(newDocs, ch.op.DocID)
		} else {
			newDocs[ch.after.ID] = ch.after
		}
	}

	if err := c.writeSnapshot(newDocs, c.lastSequence()); err != nil {
		c.abortWAL(txID, logger)
		metrics.CommitFailuresTotal.WithLabelValues("persist").Inc()
		return nil, fmt.Errorf("failed to persist collection: %w", err)
	}

	// The snapshot write is the commit point. Failures past it cannot
	// be rolled back; the collection is marked unusable instead and
	// must be reopened, which rebuilds derived state from disk.
	for i, ch := range changes {
		if ch.after == nil {
			if !c.cfg.RetainVersionsOnPurge {
				if err := c.versions.Drop(ch.op.DocID); err != nil {
					c.fail(err)
					metrics.CommitFailuresTotal.WithLabelValues("fatal").Inc()
					return nil, err
				}
			}
			metrics.DocumentsPurged.Inc()
			continue
		}
		rec := &types.VersionRecord{
			DocID:       ch.after.ID,
			Version:     ch.after.Version,
			PrevVersion: prevVersion(ch.before),
			Value:       ch.after.Value,
			Deleted:     ch.after.Deleted,
			Sequence:    seqs[i],
			Timestamp:   now,
		}
		if err := c.versions.Record(rec); err != nil {
			c.fail(err)
			metrics.CommitFailuresTotal.WithLabelValues("fatal").Inc()
			return nil, err
		}
	}

	c.mu.Lock()
	c.docs = newDocs
	err = c.indexes.Apply(indexChanges(changes))
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
		metrics.CommitFailuresTotal.WithLabelValues("fatal").Inc()
		return nil, err
	}

	if c.wlog != nil {
		if err := c.wlog.MarkCommitted(txID); err != nil {
			// The snapshot already covers these sequences, so replay
			// correctness does not depend on the marker.
			logger.Warn().Err(err).Msg("failed to write commit marker")
		}
	}

	metrics.CommitsTotal.Inc()

	report := &types.CommitReport{TxID: txID, Sequences: seqs}
	for i, ch := range changes {
		var doc *types.Document
		if ch.after != nil {
			doc = ch.after.Clone()
			report.Documents = append(report.Documents, doc)
		}
		c.hooks.RunPost(ctx, types.CommittedOperation{
			Op:       ch.op,
			TxID:     txID,
			Sequence: seqs[i],
			Doc:      doc,
		})
	}

	logger.Debug().Int("operations", len(changes)).Msg("transaction committed")
	return report, nil
}

// buildChanges validates every operation against the committed state
// and resolves the document each produces. Operations see the effect
// of earlier operations in the same transaction.
func (c *Collection) buildChanges(ops []types.Operation, now time.Time) ([]docChange, error) {
	c.mu.RLock()
	base := c.docs
	c.mu.RUnlock()

	pending := make(map[string]*types.Document)
	seen := make(map[string]bool)
	current := func(id string) (*types.Document, bool) {
		if seen[id] {
			d := pending[id]
			return d, d != nil
		}
		d, ok := base[id]
		return d, ok
	}

	changes := make([]docChange, 0, len(ops))
	for _, op := range ops {
		before, ok := current(op.DocID)
		var after *types.Document

		switch op.Kind {
		case types.OpInsert:
			if ok {
				return nil, fmt.Errorf("%w: %s", types.ErrDocumentExists, op.DocID)
			}
			doc, err := c.newDocument(op.DocID, op.Value, now)
			if err != nil {
				return nil, err
			}
			after = doc

		case types.OpUpsert:
			if !ok {
				doc, err := c.newDocument(op.DocID, op.Value, now)
				if err != nil {
					return nil, err
				}
				after = doc
			} else {
				after = &types.Document{
					ID:        op.DocID,
					Value:     types.CloneValue(op.Value),
					Version:   before.Version + 1,
					CreatedAt: before.CreatedAt,
					UpdatedAt: now,
				}
			}

		case types.OpUpdate:
			if err := requireLive(op.DocID, before, ok); err != nil {
				return nil, err
			}
			after = &types.Document{
				ID:        op.DocID,
				Value:     types.Merge(before.Value, op.Value),
				Version:   before.Version + 1,
				CreatedAt: before.CreatedAt,
				UpdatedAt: now,
			}

		case types.OpReplace:
			if err := requireLive(op.DocID, before, ok); err != nil {
				return nil, err
			}
			after = &types.Document{
				ID:        op.DocID,
				Value:     types.CloneValue(op.Value),
				Version:   before.Version + 1,
				CreatedAt: before.CreatedAt,
				UpdatedAt: now,
			}

		case types.OpSoftDelete:
			if err := requireLive(op.DocID, before, ok); err != nil {
				return nil, err
			}
			ts := now
			after = &types.Document{
				ID:        op.DocID,
				Value:     types.CloneValue(before.Value),
				Version:   before.Version + 1,
				Deleted:   true,
				DeletedAt: &ts,
				CreatedAt: before.CreatedAt,
				UpdatedAt: now,
			}

		case types.OpUndelete:
			if !ok {
				return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, op.DocID)
			}
			if !before.Deleted {
				return nil, fmt.Errorf("document %q is not deleted", op.DocID)
			}
			if c.cfg.UndeleteWindow > 0 && before.DeletedAt != nil &&
				now.Sub(*before.DeletedAt) > c.cfg.UndeleteWindow {
				metrics.UndeleteExpired.Inc()
				return nil, fmt.Errorf("%w: %s", types.ErrUndeleteWindowExpired, op.DocID)
			}
			after = &types.Document{
				ID:        op.DocID,
				Value:     types.CloneValue(before.Value),
				Version:   before.Version + 1,
				CreatedAt: before.CreatedAt,
				UpdatedAt: now,
			}

		case types.OpPurge:
			if !ok {
				return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, op.DocID)
			}
			if op.GuardDeletedBefore != nil {
				if !before.Deleted || before.DeletedAt == nil ||
					!before.DeletedAt.Before(*op.GuardDeletedBefore) {
					return nil, fmt.Errorf("%w: %s", errPurgeGuardFailed, op.DocID)
				}
			}
			after = nil

		default:
			return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
		}

		pending[op.DocID] = after
		seen[op.DocID] = true
		changes = append(changes, docChange{op: op, before: before, after: after})
	}
	return changes, nil
}

// newDocument builds the first live state of a document. Version
// numbering continues from retained history, so an id reinserted after
// a purge with RetainVersionsOnPurge never reuses a version number.
func (c *Collection) newDocument(id string, value map[string]any, now time.Time) (*types.Document, error) {
	last, err := c.versions.LastVersion(id)
	if err != nil {
		return nil, err
	}
	return &types.Document{
		ID:        id,
		Value:     types.CloneValue(value),
		Version:   last + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func requireLive(id string, doc *types.Document, ok bool) error {
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}
	if doc.Deleted {
		return fmt.Errorf("%w: %s", types.ErrDocumentDeleted, id)
	}
	return nil
}

func prevVersion(before *types.Document) int64 {
	if before == nil {
		return 0
	}
	return before.Version
}

// abortWAL writes a best-effort abort marker so recovery can discard
// the transaction's entries without re-inspection.
func (c *Collection) abortWAL(txID string, logger zerolog.Logger) {
	if c.wlog == nil {
		return
	}
	if err := c.wlog.MarkAborted(txID); err != nil {
		logger.Warn().Err(err).Msg("failed to write abort marker")
	}
}
