package window

import (
	"errors"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// ErrLateEvent marks an event dropped for arriving beyond the lateness
// tolerance. It is counted, not fatal; callers skip the event and move on.
var ErrLateEvent = errors.New("event older than lateness tolerance")

// Store is the per-entity state lookup the engine works against. The state
// cache implements it. Update must run fn against the same State for the
// same key until that key is evicted, and must exclude concurrent snapshot
// or eviction of that State while fn runs.
type Store interface {
	Update(key string, fn func(*State))
}

// Engine applies events to per-entity window state and derives feature
// vectors. One Engine is shared by all lanes; it holds no mutable state of
// its own. Lane-exclusive ownership of each entity keeps lanes from racing
// each other, and the store's Update guard keeps them from racing the
// checkpoint snapshot.
type Engine struct {
	store       Store
	length      time.Duration
	maxValues   int
	maxLateness time.Duration
}

// NewEngine creates a window engine over the given store.
func NewEngine(store Store, length time.Duration, maxValues int, maxLateness time.Duration) *Engine {
	return &Engine{
		store:       store,
		length:      length,
		maxValues:   maxValues,
		maxLateness: maxLateness,
	}
}

// Process incorporates one event and returns the feature snapshot for it.
// Events older than the entity's window edge minus the lateness tolerance
// are dropped with ErrLateEvent.
//
// Two events for the same key with identical timestamps are processed in
// arrival order; the caller delivers events strictly in enqueue order per
// lane, and Process never reorders.
func (e *Engine) Process(evt model.Event) (model.FeatureVector, error) {
	var (
		fv   model.FeatureVector
		late bool
	)
	e.store.Update(evt.EntityKey, func(state *State) {
		if edge := state.WindowEdge(); !edge.IsZero() && evt.Timestamp.Before(edge.Add(-e.maxLateness)) {
			late = true
			return
		}
		state.Observe(evt, e.length, e.maxValues)
		fv = state.Features(evt, e.length)
	})
	if late {
		metrics.EventsDroppedLate.Inc()
		return model.FeatureVector{}, ErrLateEvent
	}
	return fv, nil
}
