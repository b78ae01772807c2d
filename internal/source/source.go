// Package source is the ingestion boundary: it delivers events from the
// streaming transport in arrival order with a durable offset that the
// checkpoint coordinator records and replays from.
package source

import (
	"context"

	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// Source delivers an ordered, at-least-once event stream. Consume resumes
// delivery after fromOffset (the last fully processed offset); a zero
// offset delivers from the beginning. The returned channel closes when the
// context is cancelled or the transport ends the stream.
type Source interface {
	Consume(ctx context.Context, fromOffset uint64) (<-chan model.Event, error)
	Close() error
}
