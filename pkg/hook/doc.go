// Package hook defines the pre-write and post-write callback interfaces
// invoked synchronously around each committed mutation. Hook business
// logic (normalization rules, search-index fan-out) lives with the
// embedding application, not the engine.
package hook
