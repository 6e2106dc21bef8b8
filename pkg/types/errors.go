package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes. Callers classify with
// errors.Is; the engine never panics for these.
var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDocumentExists        = errors.New("document already exists")
	ErrDocumentDeleted       = errors.New("document is soft-deleted")
	ErrUndeleteWindowExpired = errors.New("undelete window expired")
	ErrLockTimeout           = errors.New("lock acquisition timed out")
	ErrCorruptWALEntry       = errors.New("corrupt WAL entry")
	ErrEncryptionKey         = errors.New("encryption key invalid or missing")
	ErrEngineClosed          = errors.New("engine is closed")
	ErrCollectionUnusable    = errors.New("collection is unusable until reopened")
	ErrTxFinished            = errors.New("transaction already committed or aborted")
	ErrIndexNotFound         = errors.New("index not found")
	ErrIndexExists           = errors.New("index already exists")
)

// ConstraintViolationError reports a unique index violation. The
// transaction that triggered it is aborted and no index is modified.
type ConstraintViolationError struct {
	Index       string
	Fields      []string
	Conflicting string // id of the document already holding the key
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("unique constraint violation on index %q (fields %v), conflicts with document %q",
		e.Index, e.Fields, e.Conflicting)
}

// IsConstraintViolation reports whether err is a unique index violation.
func IsConstraintViolation(err error) bool {
	var cv *ConstraintViolationError
	return errors.As(err, &cv)
}
