// Package window implements per-entity incremental aggregation over
// sliding windows. Statistics are maintained online: each arriving value
// updates running aggregates in constant time, and values leaving the
// window have their contribution reversed, so the aggregates always equal
// a batch recomputation over the window's current contents.
package window

import (
	"math"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// varianceEpsilon clamps floating-point drift: a computed variance below
// this is treated as zero rather than allowed to go negative.
const varianceEpsilon = 1e-12

// FieldStats holds the online aggregates for one numeric payload field.
// The ring retains the windowed values so that expired contributions can
// be reversed exactly and min/max recomputed after removal.
type FieldStats struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
	ring  []model.WindowValue
}

// Count returns the number of values currently inside the window.
func (f *FieldStats) Count() int64 { return f.count }

// Mean returns the windowed mean.
func (f *FieldStats) Mean() float64 { return f.mean }

// Variance returns the windowed population variance, clamped at zero.
func (f *FieldStats) Variance() float64 {
	if f.count == 0 {
		return 0
	}
	v := f.m2 / float64(f.count)
	if v < varianceEpsilon {
		return 0
	}
	return v
}

// StdDev returns the windowed population standard deviation.
func (f *FieldStats) StdDev() float64 {
	return math.Sqrt(f.Variance())
}

// Min returns the smallest value inside the window.
func (f *FieldStats) Min() float64 { return f.min }

// Max returns the largest value inside the window.
func (f *FieldStats) Max() float64 { return f.max }

func (f *FieldStats) add(v float64, ts time.Time) {
	f.ring = append(f.ring, model.WindowValue{Timestamp: ts, Value: v})

	f.count++
	delta := v - f.mean
	f.mean += delta / float64(f.count)
	f.m2 += delta * (v - f.mean)
	if f.m2 < 0 {
		f.m2 = 0
	}

	if f.count == 1 {
		f.min = v
		f.max = v
		return
	}
	if v < f.min {
		f.min = v
	}
	if v > f.max {
		f.max = v
	}
}

// remove reverses the contribution of the oldest ring value. The caller is
// responsible for deciding that the value has left the window.
func (f *FieldStats) remove() {
	if f.count == 0 || len(f.ring) == 0 {
		return
	}

	v := f.ring[0].Value
	f.ring = f.ring[1:]

	if f.count == 1 {
		f.count = 0
		f.mean = 0
		f.m2 = 0
		f.min = 0
		f.max = 0
		return
	}

	// Inverse Welford update: undo the incremental mean and M2 step.
	n := float64(f.count)
	oldMean := (n*f.mean - v) / (n - 1)
	f.m2 -= (v - oldMean) * (v - f.mean)
	if f.m2 < varianceEpsilon {
		f.m2 = 0
	}
	f.mean = oldMean
	f.count--

	// Min/max cannot be reversed incrementally; recompute from the ring.
	if v == f.min || v == f.max {
		f.min = f.ring[0].Value
		f.max = f.ring[0].Value
		for _, wv := range f.ring[1:] {
			if wv.Value < f.min {
				f.min = wv.Value
			}
			if wv.Value > f.max {
				f.max = wv.Value
			}
		}
	}
}

// expire removes ring values whose timestamp fell out of the window ending
// at edge, and enforces the value-count bound.
func (f *FieldStats) expire(edge time.Time, length time.Duration, maxValues int) {
	cutoff := edge.Add(-length)
	for len(f.ring) > 0 && f.ring[0].Timestamp.Before(cutoff) {
		f.remove()
	}
	for len(f.ring) > maxValues {
		f.remove()
	}
}

func (f *FieldStats) snapshot() model.WindowSnapshot {
	ring := make([]model.WindowValue, len(f.ring))
	copy(ring, f.ring)
	return model.WindowSnapshot{
		Count: f.count,
		Mean:  f.mean,
		M2:    f.m2,
		Min:   f.min,
		Max:   f.max,
		Ring:  ring,
	}
}

func fieldFromSnapshot(s model.WindowSnapshot) *FieldStats {
	ring := make([]model.WindowValue, len(s.Ring))
	copy(ring, s.Ring)
	return &FieldStats{
		count: s.Count,
		mean:  s.Mean,
		m2:    s.M2,
		min:   s.Min,
		max:   s.Max,
		ring:  ring,
	}
}

// State is the complete window state for one entity. It is owned by the
// cache entry for that entity and mutated only by the lane responsible for
// the entity, so it carries no locking of its own.
type State struct {
	fields     map[string]*FieldStats
	eventTimes []time.Time
	windowEdge time.Time
}

// NewState returns an empty window state.
func NewState() *State {
	return &State{
		fields: make(map[string]*FieldStats),
	}
}

// WindowEdge returns the latest event timestamp observed for this entity.
func (s *State) WindowEdge() time.Time { return s.windowEdge }

// EventCount returns the number of events currently inside the window.
func (s *State) EventCount() int { return len(s.eventTimes) }

// Field returns the stats for a payload field, or nil if never observed.
func (s *State) Field(name string) *FieldStats { return s.fields[name] }

// Observe incorporates one event's values into the window and expires
// values that fell outside it. The event's timestamp must already have
// passed the lateness check.
func (s *State) Observe(evt model.Event, length time.Duration, maxValues int) {
	if evt.Timestamp.After(s.windowEdge) {
		s.windowEdge = evt.Timestamp
	}

	s.eventTimes = append(s.eventTimes, evt.Timestamp)
	cutoff := s.windowEdge.Add(-length)
	for len(s.eventTimes) > 0 && s.eventTimes[0].Before(cutoff) {
		s.eventTimes = s.eventTimes[1:]
	}
	if len(s.eventTimes) > maxValues {
		s.eventTimes = s.eventTimes[len(s.eventTimes)-maxValues:]
	}

	for name, v := range evt.Values {
		f := s.fields[name]
		if f == nil {
			f = &FieldStats{}
			s.fields[name] = f
		}
		f.add(v, evt.Timestamp)
	}
	for _, f := range s.fields {
		f.expire(s.windowEdge, length, maxValues)
	}
}

// Rate returns the rolling event rate in events per second over the
// active window.
func (s *State) Rate(length time.Duration) float64 {
	if length <= 0 {
		return 0
	}
	return float64(len(s.eventTimes)) / length.Seconds()
}

// Features derives the immutable feature snapshot for the given event.
// Per numeric field it emits the raw value, windowed mean, standard
// deviation, z-score, min and max; entity-level features cover event count
// and rolling rate.
func (s *State) Features(evt model.Event, length time.Duration) model.FeatureVector {
	features := make(map[string]float64, len(evt.Values)*6+2)

	for name, v := range evt.Values {
		f := s.fields[name]
		if f == nil {
			continue
		}
		features[name] = v
		features[name+"_mean"] = f.Mean()
		features[name+"_std"] = f.StdDev()
		features[name+"_min"] = f.Min()
		features[name+"_max"] = f.Max()
		if sd := f.StdDev(); sd > 0 {
			features[name+"_z"] = (v - f.Mean()) / sd
		} else {
			features[name+"_z"] = 0
		}
	}

	features["event_count"] = float64(len(s.eventTimes))
	features["event_rate"] = s.Rate(length)

	return model.FeatureVector{
		EntityKey: evt.EntityKey,
		Timestamp: evt.Timestamp,
		Features:  features,
	}
}

// Snapshot serializes the window state for checkpointing.
func (s *State) Snapshot() model.CacheSnapshot {
	fields := make(map[string]model.WindowSnapshot, len(s.fields))
	for name, f := range s.fields {
		fields[name] = f.snapshot()
	}
	times := make([]time.Time, len(s.eventTimes))
	copy(times, s.eventTimes)
	return model.CacheSnapshot{
		WindowEdge: s.windowEdge,
		EventTimes: times,
		Fields:     fields,
	}
}

// FromSnapshot reconstructs window state from a checkpoint entry.
func FromSnapshot(snap model.CacheSnapshot) *State {
	fields := make(map[string]*FieldStats, len(snap.Fields))
	for name, fs := range snap.Fields {
		fields[name] = fieldFromSnapshot(fs)
	}
	times := make([]time.Time, len(snap.EventTimes))
	copy(times, snap.EventTimes)
	return &State{
		fields:     fields,
		eventTimes: times,
		windowEdge: snap.WindowEdge,
	}
}
