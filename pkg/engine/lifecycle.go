package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Sweep purges every soft-deleted document whose deletion is at least
// the configured TTL old, and returns how many were removed. Each
// purge runs as its own guarded transaction, so a concurrent undelete
// wins the race and the sweep moves on. A zero TTL disables sweeping.
func (c *Collection) Sweep(ctx context.Context, now time.Time) (int, error) {
	if c.cfg.TTL <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-c.cfg.TTL)

	c.mu.RLock()
	candidates := make([]string, 0)
	for id, doc := range c.docs {
		if doc.Deleted && doc.DeletedAt != nil && doc.DeletedAt.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	c.mu.RUnlock()

	purged := 0
	for _, id := range candidates {
		op := types.Operation{
			Kind:               types.OpPurge,
			DocID:              id,
			GuardDeletedBefore: &cutoff,
		}
		if _, err := c.runSingle(ctx, op); err != nil {
			// Raced by an undelete or purge; not a sweep failure.
			if errors.Is(err, errPurgeGuardFailed) || errors.Is(err, types.ErrDocumentNotFound) {
				continue
			}
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		c.logger.Info().Int("purged", purged).Msg("lifecycle sweep completed")
	}
	return purged, nil
}

// Sweep runs the TTL sweep across every open collection and returns
// the total number of purged documents.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, types.ErrEngineClosed
	}
	cols := make([]*Collection, 0, len(e.collections))
	for _, col := range e.collections {
		cols = append(cols, col)
	}
	e.mu.Unlock()

	now := time.Now().UTC()
	total := 0
	for _, col := range cols {
		n, err := col.Sweep(ctx, now)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
