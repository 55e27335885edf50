package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for TaniLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter
	ReceiptCacheHits      *prometheus.CounterVec

	// --- Domain ---
	AssetsRegistered   *prometheus.CounterVec
	UnitsIssued        *prometheus.CounterVec
	ListingSettlements *prometheus.CounterVec
	PlatformFees       *prometheus.CounterVec
	LoanTransitions    *prometheus.CounterVec
	KeeperRuns         *prometheus.CounterVec
	KeeperSubmissions  *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec
	ProjectionLastSequence prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
	APIErrors   *prometheus.CounterVec
}

// NewMetrics creates the metric set on reg. A nil registerer yields
// unregistered collectors, which lets tests build as many cores as they like.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_core_events_applied_total",
			Help: "Commands committed by the core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_core_events_rejected_total",
			Help: "Commands rejected, by error code name",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tani_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tani_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_core_sequence",
			Help: "Last assigned global sequence number",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tani_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tani_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tani_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_publish_drops_total",
			Help: "Ledger events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tani_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		ReceiptCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_receipt_cache_lookups_total",
			Help: "Receipt cache lookups for duplicate request ids",
		}, []string{"result"}),

		AssetsRegistered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_assets_registered_total",
			Help: "Assets registered",
		}, []string{"asset_type"}),

		UnitsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_units_issued_total",
			Help: "Units sold from primary issuance",
		}, []string{"asset_type"}),

		ListingSettlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_listing_settlements_total",
			Help: "Marketplace purchases settled",
		}, []string{"outcome"}),

		PlatformFees: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_platform_fees_total",
			Help: "Platform fees collected in smallest token units",
		}, []string{"token"}),

		LoanTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_loan_transitions_total",
			Help: "Loan status transitions",
		}, []string{"status"}),

		KeeperRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_keeper_runs_total",
			Help: "Overdue-loan keeper runs",
		}, []string{"outcome"}),

		KeeperSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_keeper_submissions_total",
			Help: "markDefault commands submitted by the keeper",
		}, []string{"result"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tani_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tani_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tani_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_projection_last_sequence",
			Help: "Last sequence mirrored into projection tables",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tani_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_snapshot_size_bytes",
			Help: "Last snapshot size after compression",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "tani_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "tani_replay_duration_seconds",
			Help: "Total replay time",
		}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tani_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		APIErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tani_api_errors_total",
			Help: "API errors by typed code name",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
