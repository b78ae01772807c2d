package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_events_ingested_total",
			Help: "Total number of events accepted from the ingestion source",
		},
	)

	EventsDroppedLate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_events_dropped_late_total",
			Help: "Total number of events dropped for exceeding the lateness tolerance",
		},
	)

	OverloadSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_overload_signals_total",
			Help: "Total number of backpressure overload conditions reported upstream",
		},
	)

	// Lane metrics
	LaneQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "detector_lane_queue_depth",
			Help: "Current depth of each lane input queue",
		},
		[]string{"lane"},
	)

	// Scoring metrics
	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detector_scoring_duration_seconds",
			Help:    "Duration of model evaluation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScoringTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_scoring_timeouts_total",
			Help: "Total number of model evaluations that exceeded the latency ceiling",
		},
	)

	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_anomalies_total",
			Help: "Total number of score results flagged anomalous",
		},
	)

	// Alert metrics
	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detector_active_alerts",
			Help: "Number of alerts currently Open or Suppressed",
		},
	)

	SuppressedAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detector_suppressed_alerts",
			Help: "Number of alerts currently Suppressed by rate limiting",
		},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_alert_transitions_total",
			Help: "Total number of alert lifecycle transitions emitted",
		},
		[]string{"state"},
	)

	// Cache metrics
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detector_cache_entries",
			Help: "Current number of entities held in the state cache",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_cache_evictions_total",
			Help: "Total number of cache entries evicted by the budget policy",
		},
	)

	// Checkpoint metrics
	CheckpointsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_checkpoints_written_total",
			Help: "Total number of checkpoints successfully written",
		},
	)

	CheckpointDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detector_checkpoint_duration_seconds",
			Help:    "Duration of checkpoint snapshot and write in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
