// Package metrics exposes Burrow's internal counters as Prometheus
// collectors on a dedicated registry.
//
// The engine records commit success/failure, index hit/miss, WAL replay
// duration, and lifecycle activity. It deliberately does not serve a
// /metrics endpoint; observability transport belongs to the embedding
// process, which can gather from Registry or read Snapshot directly.
package metrics
