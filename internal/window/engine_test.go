package window_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkalu-stack/anomaly-detection-system/internal/window"
)

type mapStore struct {
	states  map[string]*window.State
	updates []string
}

func newMapStore() *mapStore {
	return &mapStore{states: make(map[string]*window.State)}
}

func (s *mapStore) Update(key string, fn func(*window.State)) {
	st, ok := s.states[key]
	if !ok {
		st = window.NewState()
		s.states[key] = st
	}
	s.updates = append(s.updates, key)
	fn(st)
}

func TestEngine_ProcessProducesFeatures(t *testing.T) {
	store := newMapStore()
	engine := window.NewEngine(store, time.Minute, 1000, 5*time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		fv, err := engine.Process(event("host-1", base.Add(time.Duration(i)*time.Second), 10+float64(i)))
		require.NoError(t, err)
		assert.Equal(t, "host-1", fv.EntityKey)
		assert.Contains(t, fv.Features, "value_z")
	}
	assert.Len(t, store.updates, 5)
}

func TestEngine_DropsLateEvents(t *testing.T) {
	store := newMapStore()
	engine := window.NewEngine(store, time.Minute, 1000, 5*time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := engine.Process(event("host-1", base, 10))
	require.NoError(t, err)

	// 6 seconds behind the window edge with a 5 second tolerance.
	_, err = engine.Process(event("host-1", base.Add(-6*time.Second), 11))
	assert.ErrorIs(t, err, window.ErrLateEvent)

	// Exactly at the tolerance boundary is still accepted.
	fv, err := engine.Process(event("host-1", base.Add(-5*time.Second), 12))
	require.NoError(t, err)
	assert.Equal(t, 12.0, fv.Features["value"])

	// A dropped event contributes nothing to the aggregates.
	assert.Equal(t, int64(2), store.states["host-1"].Field("value").Count())
}

func TestEngine_LatenessIsPerEntity(t *testing.T) {
	store := newMapStore()
	engine := window.NewEngine(store, time.Minute, 1000, time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := engine.Process(event("host-1", base, 10))
	require.NoError(t, err)

	// Old relative to host-1's edge, but host-2 has no edge yet.
	_, err = engine.Process(event("host-2", base.Add(-time.Hour), 10))
	assert.NoError(t, err)
}

func TestEngine_EqualTimestampsProcessedInArrivalOrder(t *testing.T) {
	store := newMapStore()
	engine := window.NewEngine(store, time.Minute, 1000, 5*time.Second)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := engine.Process(event("host-1", ts, 10))
	require.NoError(t, err)
	second, err := engine.Process(event("host-1", ts, 20))
	require.NoError(t, err)

	// Neither equal-timestamp event is treated as late, and the second
	// observes the first's contribution.
	assert.Equal(t, 10.0, first.Features["value_mean"])
	assert.Equal(t, 15.0, second.Features["value_mean"])
}
