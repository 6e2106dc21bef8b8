// Package version persists the append-only revision history of every
// document in a bbolt database, supporting newest-first history walks,
// point lookups by version, and retention-driven removal on purge.
package version
