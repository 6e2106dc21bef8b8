// Package engine ties the storage layers together into the embeddable
// document store: collections of JSON documents with transactional
// writes, secondary indexes, soft-delete lifecycle, version history,
// and crash recovery.
//
// A commit follows a fixed protocol. The transaction latches its
// target documents, runs pre-write hooks, validates operations against
// committed state, and dry-runs unique constraints; all of that has
// zero side effects on failure. It then appends to the write-ahead
// log, atomically replaces the collection snapshot file (the commit
// point), records version history, swaps the in-memory document map
// and indexes, and writes the commit marker. Post-write hooks observe
// the committed result.
//
// Reads never block writes: Get and Query return clones, and index
// lookups run against copy-on-write snapshots.
package engine
