// Package types defines the shared data model for Burrow: documents,
// operations, version records, transaction state, and the error
// taxonomy used across the engine.
//
// Document values are schema-free JSON objects represented as
// map[string]any, the shape produced by encoding/json: every value is
// one of string, float64, bool, nil, []any, or map[string]any.
package types
