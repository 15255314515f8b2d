package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tldrpost"

	StatusResult = "result"
	StatusStale  = "stale"
)

var (
	MutationBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "mutation_batches_total",
			Help:      "Mutation batches applied to the document",
		},
		[]string{"status"},
	)

	BlocksClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "blocks_claimed_total",
			Help:      "Content blocks claimed by the discovery loop",
		},
	)

	BlocksSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "blocks_skipped_total",
			Help:      "Claimed blocks without text to summarize",
		},
	)

	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summarizer",
			Name:      "summaries_total",
			Help:      "Finished summary requests by outcome",
		},
		[]string{"model", "status"},
	)

	SummaryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "summarizer",
			Name:      "summary_duration_seconds",
			Help:      "Summary request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	ModelRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "model_refreshes_total",
			Help:      "Scheduled model list refreshes",
		},
		[]string{"status"},
	)
)
