/*
Package index maintains in-memory single-field and compound indexes
over a collection's current document set.

Indexes are balanced-tree backed (google/btree) and copy-on-write:
lookups run against a cloned snapshot so readers never block writers
and observe either the pre- or post-commit state, never a partial one.
Index contents are always derivable from the persisted documents; the
index is never the source of truth, and a full rebuild from the
document set must equal the incrementally maintained state.

Compound keys compare their fields in declared order. A missing field
sorts before any present value; null sorts before typed values.
Unique-index violations abort the enclosing transaction before any
index is modified: changes are staged on clones and swapped in only
when the whole batch passes.
*/
package index
