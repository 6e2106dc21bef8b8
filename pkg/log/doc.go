// Package log provides structured logging for Burrow using zerolog.
//
// The package maintains a global logger configured once via Init, plus
// helpers for creating child loggers scoped to a component, collection,
// or transaction. Engine components log operator-attention events
// (corrupt WAL entries, replay summaries, constraint failures) through
// component-scoped child loggers so output can be filtered downstream.
package log
