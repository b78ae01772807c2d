package window_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/internal/window"
)

const tolerance = 1e-9

func event(key string, ts time.Time, value float64) model.Event {
	return model.Event{
		EntityKey: key,
		Timestamp: ts,
		Values:    map[string]float64{"value": value},
	}
}

// batchStats recomputes mean and population variance from scratch.
func batchStats(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, variance
}

func TestState_IncrementalMatchesBatch(t *testing.T) {
	state := window.NewState()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	values := []float64{10.5, 9.8, 10.1, 11.2, 8.9, 10.0, 9.5, 10.7, 10.3, 9.9}
	for i, v := range values {
		state.Observe(event("acct-1", base.Add(time.Duration(i)*time.Second), v), time.Hour, 1000)
	}

	f := state.Field("value")
	require.NotNil(t, f)

	wantMean, wantVar := batchStats(values)
	assert.InEpsilon(t, wantMean, f.Mean(), tolerance)
	assert.InEpsilon(t, wantVar, f.Variance(), tolerance)
	assert.Equal(t, int64(len(values)), f.Count())
	assert.Equal(t, 8.9, f.Min())
	assert.Equal(t, 11.2, f.Max())
}

func TestState_SlidingExpiryMatchesBatchOverWindow(t *testing.T) {
	state := window.NewState()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	length := 10 * time.Second

	// 20 values one second apart: the first 10 fall out of the window by
	// the time the last arrives.
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i) * 1.5
		state.Observe(event("acct-1", base.Add(time.Duration(i)*time.Second), values[i]), length, 1000)
	}

	// Window edge is t=19s, cutoff t=9s; values at t in [9s, 19s] remain.
	windowed := values[9:]
	f := state.Field("value")
	require.NotNil(t, f)

	wantMean, wantVar := batchStats(windowed)
	assert.Equal(t, int64(len(windowed)), f.Count())
	assert.InEpsilon(t, wantMean, f.Mean(), tolerance)
	assert.InEpsilon(t, wantVar, f.Variance(), tolerance)
	assert.InDelta(t, windowed[0], f.Min(), tolerance)
	assert.InDelta(t, windowed[len(windowed)-1], f.Max(), tolerance)
}

func TestState_CountBoundEnforced(t *testing.T) {
	state := window.NewState()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		state.Observe(event("acct-1", base.Add(time.Duration(i)*time.Second), float64(i)), time.Hour, 10)
	}

	f := state.Field("value")
	require.NotNil(t, f)
	assert.Equal(t, int64(10), f.Count())

	// Only the last ten values contribute.
	wantMean, wantVar := batchStats([]float64{40, 41, 42, 43, 44, 45, 46, 47, 48, 49})
	assert.InEpsilon(t, wantMean, f.Mean(), tolerance)
	assert.InEpsilon(t, wantVar, f.Variance(), tolerance)
}

func TestState_VarianceNeverNegative(t *testing.T) {
	state := window.NewState()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Identical values drive M2 toward zero through repeated add/remove
	// cycles; floating-point drift must clamp, not go negative.
	for i := 0; i < 500; i++ {
		state.Observe(event("acct-1", base.Add(time.Duration(i)*time.Second), 42.000001), 10*time.Second, 5)
	}

	f := state.Field("value")
	require.NotNil(t, f)
	assert.GreaterOrEqual(t, f.Variance(), 0.0)
	assert.False(t, math.IsNaN(f.StdDev()))
}

func TestState_ReplayAddsSingleEventWeight(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	values := []float64{10, 11, 9, 10.5, 9.5}

	once := window.NewState()
	replayed := window.NewState()
	for i, v := range values {
		evt := event("acct-1", base.Add(time.Duration(i)*time.Second), v)
		once.Observe(evt, time.Hour, 1000)
		replayed.Observe(evt, time.Hour, 1000)
	}

	// Redeliver the final event once, as an at-least-once source would.
	replayed.Observe(event("acct-1", base.Add(4*time.Second), 9.5), time.Hour, 1000)

	fOnce := once.Field("value")
	fReplayed := replayed.Field("value")
	assert.Equal(t, fOnce.Count()+1, fReplayed.Count())

	// The replayed aggregate equals a batch over values plus one duplicate:
	// exactly one event's additional weight, no more.
	wantMean, wantVar := batchStats(append(append([]float64{}, values...), 9.5))
	assert.InEpsilon(t, wantMean, fReplayed.Mean(), tolerance)
	assert.InEpsilon(t, wantVar, fReplayed.Variance(), tolerance)
}

func TestState_FeaturesSnapshot(t *testing.T) {
	state := window.NewState()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	length := time.Minute

	for i := 0; i < 60; i++ {
		state.Observe(event("sensor-7", base.Add(time.Duration(i)*time.Second), 10), length, 1000)
	}
	evt := event("sensor-7", base.Add(60*time.Second), 25)
	state.Observe(evt, length, 1000)

	fv := state.Features(evt, length)
	assert.Equal(t, "sensor-7", fv.EntityKey)
	assert.Equal(t, evt.Timestamp, fv.Timestamp)
	assert.Equal(t, 25.0, fv.Features["value"])
	assert.Greater(t, fv.Features["value_z"], 3.0, "a large spike should have a large z-score")
	assert.Equal(t, 25.0, fv.Features["value_max"])
	assert.Equal(t, 10.0, fv.Features["value_min"])
	assert.Greater(t, fv.Features["event_rate"], 0.0)
	assert.Equal(t, float64(state.EventCount()), fv.Features["event_count"])
}

func TestState_SnapshotRestoreRoundTrip(t *testing.T) {
	state := window.NewState()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	length := time.Minute

	var lastEvt model.Event
	for i := 0; i < 30; i++ {
		lastEvt = model.Event{
			EntityKey: "acct-9",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Values: map[string]float64{
				"amount":  float64(i) * 3.3,
				"latency": 100 - float64(i),
			},
		}
		state.Observe(lastEvt, length, 1000)
	}

	restored := window.FromSnapshot(state.Snapshot())

	for _, field := range []string{"amount", "latency"} {
		orig := state.Field(field)
		rest := restored.Field(field)
		require.NotNil(t, rest, field)
		assert.Equal(t, orig.Count(), rest.Count(), field)
		assert.InDelta(t, orig.Mean(), rest.Mean(), tolerance, field)
		assert.InDelta(t, orig.Variance(), rest.Variance(), tolerance, field)
		assert.Equal(t, orig.Min(), rest.Min(), field)
		assert.Equal(t, orig.Max(), rest.Max(), field)
	}
	assert.Equal(t, state.WindowEdge(), restored.WindowEdge())
	assert.Equal(t, state.EventCount(), restored.EventCount())

	// The restored state keeps producing identical features.
	origFv := state.Features(lastEvt, length)
	restFv := restored.Features(lastEvt, length)
	assert.Equal(t, origFv.Features, restFv.Features)
}
