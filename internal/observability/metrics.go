package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RangeLedger.
type Metrics struct {
	// --- Ingestion ---
	IngestApplied    *prometheus.CounterVec
	IngestDuplicates *prometheus.CounterVec
	ParseFailures    *prometheus.CounterVec
	PollErrors       *prometheus.CounterVec
	CheckpointCursor *prometheus.GaugeVec

	// --- Aggregation ---
	OversellWarnings     prometheus.Counter
	MissingPositionSkips prometheus.Counter

	// --- Settlement ---
	SettlementRuns          *prometheus.CounterVec
	SettlementDuration      prometheus.Histogram
	SettlementPositions     *prometheus.CounterVec
	FailedSettlementsQueued prometheus.Counter
	SettlementRetries       prometheus.Counter
	RegistrySyncFailures    prometheus.Counter

	// --- Reconciliation ---
	ReconcileRuns       *prometheus.CounterVec
	ReconcileMismatches prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingestion
		IngestApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_ingest_applied_total",
			Help: "Events applied to the ledger",
		}, []string{"kind"}),

		IngestDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_ingest_duplicates_total",
			Help: "Duplicates caught (lru/store)",
		}, []string{"kind", "tier"}),

		ParseFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_ingest_parse_failures_total",
			Help: "Malformed events skipped",
		}, []string{"kind"}),

		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_ingest_poll_errors_total",
			Help: "Indexer poll failures",
		}, []string{"kind"}),

		CheckpointCursor: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "range_ingest_checkpoint_cursor",
			Help: "Last persisted cursor per kind",
		}, []string{"kind"}),

		// Aggregation
		OversellWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "range_position_oversell_warnings_total",
			Help: "Sales exceeding the recorded share balance",
		}),

		MissingPositionSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "range_position_missing_skips_total",
			Help: "Sales/claims against positions never seen",
		}),

		// Settlement
		SettlementRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_settlement_runs_total",
			Help: "Settlement executions (ok/error)",
		}, []string{"result"}),

		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "range_settlement_duration_seconds",
			Help:    "Bulk classification duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SettlementPositions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_settlement_positions_total",
			Help: "Positions classified (won/lost)",
		}, []string{"outcome"}),

		FailedSettlementsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "range_settlement_failures_queued_total",
			Help: "Settlements pushed to the retry queue",
		}),

		SettlementRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "range_settlement_retries_total",
			Help: "Retry attempts by the worker",
		}),

		RegistrySyncFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "range_registry_sync_failures_total",
			Help: "Failed resolution broadcasts",
		}),

		// Reconciliation
		ReconcileRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_reconcile_runs_total",
			Help: "Replay reconciliations (clean/mismatch/error)",
		}, []string{"result"}),

		ReconcileMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "range_reconcile_mismatches_total",
			Help: "Position rows diverging from replay",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "range_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "range_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
