package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldComponent  = "component"
	FieldEntityKey  = "entity_key"
	FieldLane       = "lane"
	FieldScore      = "score"
	FieldAlertID    = "alert_id"
	FieldAlertState = "alert_state"
	FieldOffset     = "offset"
	FieldCheckpoint = "checkpoint"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

// Component returns a slog attribute for the pipeline component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// EntityKey returns a slog attribute for the entity key.
func EntityKey(key string) slog.Attr {
	return slog.String(FieldEntityKey, key)
}

// Lane returns a slog attribute for the lane index.
func Lane(idx int) slog.Attr {
	return slog.Int(FieldLane, idx)
}

// Score returns a slog attribute for a calibrated anomaly score.
func Score(score float64) slog.Attr {
	return slog.Float64(FieldScore, score)
}

// AlertID returns a slog attribute for an alert ID.
func AlertID(id string) slog.Attr {
	return slog.String(FieldAlertID, id)
}

// AlertState returns a slog attribute for an alert lifecycle state.
func AlertState(state string) slog.Attr {
	return slog.String(FieldAlertState, state)
}

// Offset returns a slog attribute for a source offset.
func Offset(offset uint64) slog.Attr {
	return slog.Uint64(FieldOffset, offset)
}

// Checkpoint returns a slog attribute for a checkpoint file name.
func Checkpoint(name string) slog.Attr {
	return slog.String(FieldCheckpoint, name)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
