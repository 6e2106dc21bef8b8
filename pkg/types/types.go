package types

import (
	"time"
)

// Document is a single JSON-like document in a collection. Exactly one
// Document per ID is current at any time; prior states live in the
// version store.
type Document struct {
	ID        string         `json:"id"`
	Value     map[string]any `json:"value"`
	Version   int64          `json:"version"`
	Deleted   bool           `json:"deleted"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the document. Mutating the copy never
// affects the original.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Value = CloneValue(d.Value)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// OpKind identifies a mutation type.
type OpKind string

const (
	OpInsert     OpKind = "insert"
	OpUpdate     OpKind = "update"
	OpReplace    OpKind = "replace"
	OpUpsert     OpKind = "upsert"
	OpSoftDelete OpKind = "soft_delete"
	OpUndelete   OpKind = "undelete"
	OpPurge      OpKind = "purge"
)

// Operation is a single proposed mutation staged in a transaction.
// For OpUpdate, Value is a merge patch; for OpInsert, OpReplace, and
// OpUpsert it is the full document value.
type Operation struct {
	Kind  OpKind         `json:"kind"`
	DocID string         `json:"doc_id"`
	Value map[string]any `json:"value,omitempty"`

	// GuardDeletedBefore restricts an OpPurge to documents that were
	// already soft-deleted before the given instant. The lifecycle
	// sweeper sets it so a concurrent undelete between scan and commit
	// cancels the purge instead of destroying a live document.
	GuardDeletedBefore *time.Time `json:"guard_deleted_before,omitempty"`
}

// CommittedOperation is handed to post-write hooks after a transaction
// commits. Doc is the document state as committed (nil after a purge).
type CommittedOperation struct {
	Op       Operation
	TxID     string
	Sequence uint64
	Doc      *Document
}

// VersionRecord is an immutable snapshot of a document state, appended
// on every committed mutation. Sequence ties the record to the WAL
// entry that produced it, which point-in-time rollback relies on.
type VersionRecord struct {
	DocID       string         `json:"doc_id"`
	Version     int64          `json:"version"`
	PrevVersion int64          `json:"prev_version"` // 0 for the first version
	Value       map[string]any `json:"value"`
	Deleted     bool           `json:"deleted"`
	Sequence    uint64         `json:"sequence,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// TxState tracks a transaction through its lifecycle.
type TxState string

const (
	TxPending   TxState = "pending"
	TxCommitted TxState = "committed"
	TxAborted   TxState = "aborted"
)

// CommitReport summarizes a committed transaction.
type CommitReport struct {
	TxID      string
	Sequences []uint64
	Documents []*Document
}

// CloneValue deep-copies a document value tree.
func CloneValue(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = cloneAny(val)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneValue(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
