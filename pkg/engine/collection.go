package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/codec"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/filestore"
	"github.com/cuemby/burrow/pkg/hook"
	"github.com/cuemby/burrow/pkg/index"
	"github.com/cuemby/burrow/pkg/latch"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/version"
	"github.com/cuemby/burrow/pkg/wal"
)

// snapshot is the on-disk collection file: the full current document
// set plus the WAL sequence already reflected in it. The file is
// atomically replaced on every commit, which doubles as compaction.
type snapshot struct {
	Sequence  uint64                     `json:"sequence"`
	Indexes   []indexDef                 `json:"indexes,omitempty"`
	Documents map[string]*types.Document `json:"documents"`
}

// indexDef persists an index definition so indexes survive reopen.
type indexDef struct {
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

// Collection is a named set of documents backed by one snapshot file,
// one WAL, one version store, and one index manager. Stored documents
// are treated as immutable: every mutation installs a fresh *Document
// and readers receive clones.
type Collection struct {
	name   string
	cfg    config.Config
	codec  *codec.Codec
	files  *filestore.Store
	logger zerolog.Logger

	mu   sync.RWMutex
	docs map[string]*types.Document
	defs []indexDef

	wlog     *wal.Log // nil when the WAL is disabled
	versions *version.Store
	indexes  *index.Manager
	hooks    *hook.Pipeline
	latches  *latch.Table

	// commitMu serializes the durable section of commits: the snapshot
	// file is whole-collection, so two commits cannot interleave their
	// writes even when their document sets are disjoint.
	commitMu sync.Mutex

	failed bool // set when state may be inconsistent; reopen required
	closed bool
}

func (c *Collection) snapshotFile() string { return c.name + ".json" }
func (c *Collection) walFile() string      { return c.name + ".wal" }
func (c *Collection) versionsFile() string { return c.name + ".versions.db" }

// openCollection loads the snapshot, replays the WAL, and rebuilds
// indexes from the recovered document set.
func openCollection(e *Engine, name string, hooks *hook.Pipeline) (*Collection, error) {
	c := &Collection{
		name:    name,
		cfg:     e.cfg,
		codec:   e.codec,
		files:   e.files,
		logger:  log.WithCollection(name),
		docs:    make(map[string]*types.Document),
		indexes: index.NewManager(),
		hooks:   hooks,
		latches: latch.NewTable(),
	}

	var snap snapshot
	data, err := c.files.Read(c.snapshotFile())
	switch {
	case err == nil:
		if err := c.codec.Decode(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to load collection %q: %w", name, err)
		}
		if snap.Documents != nil {
			c.docs = snap.Documents
		}
		c.defs = snap.Indexes
	case os.IsNotExist(err):
		// New collection.
	default:
		return nil, fmt.Errorf("failed to read collection %q: %w", name, err)
	}

	c.versions, err = version.Open(c.files.Path(c.versionsFile()))
	if err != nil {
		return nil, err
	}

	if e.cfg.WALEnabled {
		c.wlog, err = wal.Open(c.files.Path(c.walFile()), e.cfg.WALSyncMode)
		if err != nil {
			c.versions.Close()
			return nil, err
		}
		if err := c.recover(snap.Sequence); err != nil {
			c.close()
			return nil, err
		}
	}

	// Indexes are rebuilt from the current document set, never from
	// the WAL.
	for _, def := range c.defs {
		if _, err := c.indexes.Create(def.Fields, def.Unique, c.currentDocs()); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to rebuild index on %q: %w", name, err)
		}
	}

	return c, nil
}

// recover applies committed WAL entries newer than the snapshot
// boundary, then compacts so the snapshot reflects everything.
func (c *Collection) recover(applied uint64) error {
	start := time.Now()
	res, err := wal.Replay(c.files.Path(c.walFile()))
	if err != nil {
		return fmt.Errorf("failed to replay WAL for %q: %w", c.name, err)
	}

	replayed := 0
	for _, entry := range res.Entries {
		if entry.Sequence <= applied {
			continue
		}
		if err := c.applyEntry(entry); err != nil {
			return err
		}
		replayed++
	}
	metrics.WALReplayDuration.Observe(time.Since(start).Seconds())
	metrics.WALEntriesReplayed.Add(float64(replayed))

	if replayed > 0 {
		if err := c.persistLocked(res.LastSequence); err != nil {
			return fmt.Errorf("failed to compact after replay of %q: %w", c.name, err)
		}
		if err := c.wlog.Checkpoint(res.LastSequence); err != nil {
			return fmt.Errorf("failed to checkpoint WAL for %q: %w", c.name, err)
		}
		c.logger.Info().
			Int("entries", replayed).
			Int("discarded", res.Discarded).
			Uint64("sequence", res.LastSequence).
			Msg("recovered collection from WAL")
	}
	return nil
}

// applyEntry replays one committed WAL entry against the in-memory
// document set. Payloads carry the post-state document, so replay is
// a direct install.
func (c *Collection) applyEntry(entry wal.Entry) error {
	if entry.Op == types.OpPurge {
		delete(c.docs, entry.DocID)
		return nil
	}
	var doc types.Document
	if err := json.Unmarshal(entry.Payload, &doc); err != nil {
		return fmt.Errorf("%w: sequence %d", types.ErrCorruptWALEntry, entry.Sequence)
	}
	c.docs[doc.ID] = &doc
	return nil
}

// currentDocs returns the stored document pointers. Callers must not
// mutate them.
func (c *Collection) currentDocs() []*types.Document {
	docs := make([]*types.Document, 0, len(c.docs))
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	return docs
}

// persistLocked encodes and atomically replaces the snapshot file.
// Callers must ensure no concurrent commit is in flight.
func (c *Collection) persistLocked(sequence uint64) error {
	return c.writeSnapshot(c.docs, sequence)
}

// writeSnapshot durably writes a document set that may not yet be the
// in-memory one: commits persist the post-state before swapping it in.
func (c *Collection) writeSnapshot(docs map[string]*types.Document, sequence uint64) error {
	snap := snapshot{
		Sequence:  sequence,
		Indexes:   c.defs,
		Documents: docs,
	}
	data, err := c.codec.Encode(&snap)
	if err != nil {
		return err
	}
	return c.files.Write(c.snapshotFile(), data)
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Get returns a copy of the current document. Soft-deleted documents
// are reported as ErrDocumentDeleted so callers can distinguish them
// from documents that never existed.
func (c *Collection) Get(id string) (*types.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}
	if doc.Deleted {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentDeleted, id)
	}
	return doc.Clone(), nil
}

// Query evaluates a predicate against the named index and returns the
// matching documents in index key order. Lookups are lock-free against
// a copy-on-write index snapshot.
func (c *Collection) Query(indexName string, pred index.Predicate) ([]*types.Document, error) {
	ids, err := c.indexes.Lookup(indexName, pred)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := make([]*types.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := c.docs[id]; ok && !doc.Deleted {
			docs = append(docs, doc.Clone())
		}
	}
	return docs, nil
}

// CreateIndex builds a new index over the current document set and
// persists its definition. A unique index already violated by existing
// documents fails with ConstraintViolationError and is not created.
func (c *Collection) CreateIndex(fields []string, unique bool) (string, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return "", err
	}

	name, err := c.indexes.Create(fields, unique, c.currentDocs())
	if err != nil {
		return "", err
	}

	c.defs = append(c.defs, indexDef{Fields: fields, Unique: unique})
	if err := c.persistLocked(c.lastSequence()); err != nil {
		c.defs = c.defs[:len(c.defs)-1]
		_ = c.indexes.Drop(name)
		return "", fmt.Errorf("failed to persist index definition: %w", err)
	}
	return name, nil
}

// History returns the document's version records, newest first.
func (c *Collection) History(id string) ([]*types.VersionRecord, error) {
	return c.versions.History(id)
}

// Metrics returns the engine-wide counter snapshot. Exposed on the
// collection for embedders that only hold a collection handle.
func (c *Collection) Metrics() (map[string]float64, error) {
	return metrics.Snapshot()
}

func (c *Collection) lastSequence() uint64 {
	if c.wlog != nil {
		return c.wlog.Sequence()
	}
	return 0
}

// Usable reports whether the collection can serve operations: nil, or
// ErrEngineClosed / ErrCollectionUnusable.
func (c *Collection) Usable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usableLocked()
}

// usableLocked rejects operations on failed or closed collections.
func (c *Collection) usableLocked() error {
	if c.closed {
		return types.ErrEngineClosed
	}
	if c.failed {
		return types.ErrCollectionUnusable
	}
	return nil
}

// fail marks the collection unusable after a post-durability error.
// Indexes must be rebuilt from disk on the next open.
func (c *Collection) fail(err error) {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("collection marked unusable; reopen required")
}

func (c *Collection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	if c.wlog != nil {
		if err := c.wlog.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.versions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
