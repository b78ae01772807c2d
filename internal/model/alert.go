package model

import "time"

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertOpen       AlertState = "open"
	AlertSuppressed AlertState = "suppressed"
	AlertResolved   AlertState = "resolved"
)

// Alert tracks the anomalous condition of one entity. At most one active
// (Open or Suppressed) alert exists per entity key; subsequent anomalous
// results mutate the existing alert rather than opening a second one.
// Alerts hold only the entity key, never a reference into live window
// state; callers resolve current state through the cache when they need it.
type Alert struct {
	ID         string     `json:"alert_id"`
	EntityKey  string     `json:"entity_key"`
	State      AlertState `json:"state"`
	Severity   string     `json:"severity"`
	OpenedAt   time.Time  `json:"opened_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`

	// ScoreHistory is a bounded, ordered record of the anomalous scores
	// observed while the alert was active. Oldest entries are dropped once
	// the configured limit is reached.
	ScoreHistory []float64 `json:"score_history"`
}

// AlertTransition is the unit emitted to the alert sink on every lifecycle
// change. Delivery is at-least-once; downstream deduplicates on
// (alert_id, state, occurred_at).
type AlertTransition struct {
	Alert      Alert     `json:"alert"`
	OccurredAt time.Time `json:"occurred_at"`
}
