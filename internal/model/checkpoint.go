package model

import "time"

// WindowSnapshot is the serialized form of one entity's window state as
// captured by a checkpoint. Field meanings mirror the live window state;
// restoring a snapshot reproduces statistics exactly.
type WindowSnapshot struct {
	Count int64         `json:"count"`
	Mean  float64       `json:"mean"`
	M2    float64       `json:"m2"`
	Min   float64       `json:"min"`
	Max   float64       `json:"max"`
	Ring  []WindowValue `json:"ring"`
}

// WindowValue is one retained observation inside a window ring.
type WindowValue struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"v"`
}

// CacheSnapshot is the serialized form of one cache entry.
type CacheSnapshot struct {
	EntityKey  string                    `json:"entity_key"`
	LastAccess time.Time                 `json:"last_access"`
	WindowEdge time.Time                 `json:"window_edge"`
	EventTimes []time.Time               `json:"event_times"`
	Fields     map[string]WindowSnapshot `json:"fields"`
}

// Checkpoint is a point-in-time capture of cache state and per-lane
// ingestion offsets. Immutable once written; superseded by the next one.
type Checkpoint struct {
	CreatedAt time.Time `json:"created_at"`

	// Offsets holds the last fully processed source offset per lane, index
	// aligned with lane index. Resuming from the minimum guarantees
	// at-least-once delivery across all lanes.
	Offsets []uint64 `json:"offsets"`

	Entries []CacheSnapshot `json:"entries"`
}

// ResumeOffset returns the source offset ingestion should resume from after
// restoring this checkpoint: the smallest per-lane offset, so no lane skips
// events it had not yet processed. Returns 0 when no lane has processed
// anything.
func (c *Checkpoint) ResumeOffset() uint64 {
	var minOffset uint64
	for i, off := range c.Offsets {
		if i == 0 || off < minOffset {
			minOffset = off
		}
	}
	return minOffset
}
