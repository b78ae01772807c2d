// Package model defines the data types that flow through the detection
// pipeline: raw events, derived feature vectors, scoring results, and
// alert lifecycle records.
package model

import (
	"time"
)

// Event is a single observation for one entity. Events are immutable once
// ingested; the pipeline never mutates an Event after the source hands it
// over.
type Event struct {
	// EntityKey identifies the monitored subject (account, device, sensor).
	// It determines lane affinity: all events for one key are processed by
	// exactly one lane.
	EntityKey string `json:"entity_key"`

	// Timestamp is the event time assigned by the producer. Out-of-order
	// arrival within the configured lateness tolerance is accepted; older
	// events are dropped and counted.
	Timestamp time.Time `json:"timestamp"`

	// Values holds the numeric payload fields for this observation.
	Values map[string]float64 `json:"values"`

	// Labels holds optional categorical payload fields. They ride along to
	// the sink but do not participate in window statistics.
	Labels map[string]string `json:"labels,omitempty"`

	// Source names the producer (transport topic, sensor group, generator).
	Source string `json:"source,omitempty"`

	// SourceOffset is the durable cursor position of this event in the
	// ingestion transport, recorded by checkpoints for replay.
	SourceOffset uint64 `json:"source_offset"`
}

// FeatureVector is an immutable snapshot of an entity's window state taken
// at evaluation time. It is passed by value to the scoring engine and is
// never mutated afterwards.
type FeatureVector struct {
	EntityKey string             `json:"entity_key"`
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
}

// ScoreResult is the outcome of evaluating one FeatureVector. Produced once
// per evaluated event; immutable.
type ScoreResult struct {
	EntityKey string    `json:"entity_key"`
	Timestamp time.Time `json:"timestamp"`

	// Score is the calibrated anomaly score in [0, 1].
	Score float64 `json:"score"`

	// IsAnomalous is true when Score crosses the configured threshold, or
	// when the fail-closed timeout policy forces a positive decision.
	IsAnomalous bool `json:"is_anomalous"`

	// ReasonCode names what produced the decision: the model identifier for
	// a normal evaluation, or a failure code such as "scoring_timeout".
	ReasonCode string `json:"reason_code"`
}

// Severity buckets a calibrated score for downstream consumers.
func (r ScoreResult) Severity() string {
	if r.Score > 0.8 {
		return "high"
	}
	return "medium"
}
