package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tally_settlement_build_info",
			Help: "Build information of the Tally settlement service",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_settlement_operations_total",
			Help: "Total number of settlement engine operations",
		},
		[]string{"operation", "status"},
	)

	ClaimsSettledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_settlement_claims_settled_total",
			Help: "Total number of successful claim settlements",
		},
	)

	ClaimedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_settlement_claimed_amount_total",
			Help: "Total amount paid out by claim settlements",
		},
	)

	RoundsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_settlement_rounds_started_total",
			Help: "Total number of rounds started",
		},
	)

	HeldBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_settlement_held_balance",
			Help: "Funds currently held by the settlement engine",
		},
	)

	JournalAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_settlement_journal_appends_total",
			Help: "Total number of journal append attempts",
		},
		[]string{"status"},
	)

	IndexerFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_settlement_indexer_flush_total",
			Help: "Total number of indexer batch flushes",
		},
		[]string{"status"},
	)

	IndexerFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_settlement_indexer_flush_duration_seconds",
			Help:    "Duration of indexer batch flushes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	IndexerEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_settlement_indexer_events_dropped_total",
			Help: "Events dropped because the indexer buffer was full",
		},
	)
)
