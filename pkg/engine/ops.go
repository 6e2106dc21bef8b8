package engine

import (
	"context"

	"github.com/cuemby/burrow/pkg/types"
)

// Single-operation helpers. Each runs a one-operation transaction, so
// it gets the full commit protocol: latching, hooks, WAL, durability,
// versioning, and index maintenance.

// Insert creates a new document. An existing id, live or soft-deleted,
// fails with ErrDocumentExists.
func (c *Collection) Insert(ctx context.Context, id string, value map[string]any) (*types.Document, error) {
	return c.runSingle(ctx, types.Operation{Kind: types.OpInsert, DocID: id, Value: value})
}

// Update deep-merges a patch into the document's current value. Nested
// objects merge recursively; arrays and scalars in the patch replace
// the existing value wholesale.
func (c *Collection) Update(ctx context.Context, id string, patch map[string]any) (*types.Document, error) {
	return c.runSingle(ctx, types.Operation{Kind: types.OpUpdate, DocID: id, Value: patch})
}

// Replace swaps the document's entire value.
func (c *Collection) Replace(ctx context.Context, id string, value map[string]any) (*types.Document, error) {
	return c.runSingle(ctx, types.Operation{Kind: types.OpReplace, DocID: id, Value: value})
}

// SoftDelete hides the document from reads and queries while keeping
// it recoverable via Undelete within the configured window.
func (c *Collection) SoftDelete(ctx context.Context, id string) error {
	_, err := c.runSingle(ctx, types.Operation{Kind: types.OpSoftDelete, DocID: id})
	return err
}

// Undelete restores a soft-deleted document. Outside the undelete
// window it fails with ErrUndeleteWindowExpired.
func (c *Collection) Undelete(ctx context.Context, id string) (*types.Document, error) {
	return c.runSingle(ctx, types.Operation{Kind: types.OpUndelete, DocID: id})
}

// Purge permanently removes the document. Its version history is
// dropped unless RetainVersionsOnPurge is set.
func (c *Collection) Purge(ctx context.Context, id string) error {
	_, err := c.runSingle(ctx, types.Operation{Kind: types.OpPurge, DocID: id})
	return err
}

// BatchUpsert inserts or replaces every given document in one
// transaction: either all of them commit or none do. A soft-deleted
// target comes back live with the new value.
func (c *Collection) BatchUpsert(ctx context.Context, docs map[string]map[string]any) (*types.CommitReport, error) {
	tx := c.Begin()
	for id, value := range docs {
		if err := tx.Stage(types.Operation{Kind: types.OpUpsert, DocID: id, Value: value}); err != nil {
			tx.Abort()
			return nil, err
		}
	}
	return tx.Commit(ctx)
}

func (c *Collection) runSingle(ctx context.Context, op types.Operation) (*types.Document, error) {
	tx := c.Begin()
	if err := tx.Stage(op); err != nil {
		tx.Abort()
		return nil, err
	}
	report, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	if len(report.Documents) == 0 {
		return nil, nil
	}
	return report.Documents[0], nil
}
