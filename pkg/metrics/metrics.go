package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Transaction metrics
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_commits_total",
			Help: "Total number of successfully committed transactions",
		},
	)

	CommitFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_commit_failures_total",
			Help: "Total number of failed commits by reason",
		},
		[]string{"reason"},
	)

	TransactionsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_transactions_aborted_total",
			Help: "Total number of explicitly aborted transactions",
		},
	)

	// Index metrics
	IndexHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_index_hits_total",
			Help: "Total number of index lookups returning at least one document",
		},
	)

	IndexMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_index_misses_total",
			Help: "Total number of index lookups returning no documents",
		},
	)

	// WAL metrics
	WALReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_wal_replay_duration_seconds",
			Help:    "Time taken to replay the WAL at collection open",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALEntriesReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_wal_entries_replayed_total",
			Help: "Total number of committed WAL entries applied during recovery",
		},
	)

	WALEntriesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_wal_entries_discarded_total",
			Help: "Total number of WAL entries discarded during recovery by reason",
		},
		[]string{"reason"},
	)

	// Lifecycle metrics
	DocumentsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_documents_purged_total",
			Help: "Total number of documents physically purged by sweeps",
		},
	)

	UndeleteExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_undelete_expired_total",
			Help: "Total number of undelete attempts rejected as outside the window",
		},
	)
)

// Registry holds all engine metrics. The engine does not serve HTTP
// itself; an embedding process gathers from this registry.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(CommitsTotal)
	Registry.MustRegister(CommitFailuresTotal)
	Registry.MustRegister(TransactionsAborted)
	Registry.MustRegister(IndexHits)
	Registry.MustRegister(IndexMisses)
	Registry.MustRegister(WALReplayDuration)
	Registry.MustRegister(WALEntriesReplayed)
	Registry.MustRegister(WALEntriesDiscarded)
	Registry.MustRegister(DocumentsPurged)
	Registry.MustRegister(UndeleteExpired)
}

// Snapshot returns current counter values keyed by metric name,
// summed across label combinations. Histograms are omitted.
func Snapshot() (map[string]float64, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, fam := range families {
		var total float64
		for _, m := range fam.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		out[fam.GetName()] = total
	}
	return out, nil
}
