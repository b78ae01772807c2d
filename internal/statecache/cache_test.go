package statecache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/internal/statecache"
	"github.com/kkalu-stack/anomaly-detection-system/internal/window"
)

func observe(c *statecache.Cache, key string, ts time.Time, value float64) {
	c.Update(key, func(st *window.State) {
		st.Observe(model.Event{
			EntityKey: key,
			Timestamp: ts,
			Values:    map[string]float64{"value": value},
		}, time.Hour, 1000)
	})
}

func TestCache_GetOrCreateIsStable(t *testing.T) {
	c := statecache.New(10)

	first := c.GetOrCreate("acct-1")
	second := c.GetOrCreate("acct-1")
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsLeastRecentlyTouched(t *testing.T) {
	c := statecache.New(2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	observe(c, "A", base, 1)
	time.Sleep(time.Millisecond)
	observe(c, "B", base, 2)
	time.Sleep(time.Millisecond)

	// Refresh A so that B becomes the least recently used.
	c.Update("A", func(*window.State) {})
	time.Sleep(time.Millisecond)

	observe(c, "C", base, 3)
	assert.Equal(t, 2, c.Len())

	// A survived with its history; B was the least recently touched.
	stA := c.GetOrCreate("A")
	assert.Equal(t, 1, stA.EventCount())

	// Recreating B yields an empty state.
	stB := c.GetOrCreate("B")
	assert.Equal(t, 0, stB.EventCount())
}

func TestCache_EvictedEntityColdStarts(t *testing.T) {
	c := statecache.New(1)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	observe(c, "A", base, 100)
	time.Sleep(time.Millisecond)
	observe(c, "B", base, 200)

	// A reappears after eviction with no memory of its old window.
	st := c.GetOrCreate("A")
	assert.Equal(t, 0, st.EventCount())
	assert.Nil(t, st.Field("value"))
}

func TestCache_EvictIfNeededOutsideInsertPath(t *testing.T) {
	c := statecache.New(5)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, key := range []string{"a", "b", "c", "d", "e"} {
		observe(c, key, base, float64(i))
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, 5, c.Len())
	c.EvictIfNeeded()
	assert.Equal(t, 5, c.Len(), "a cache within budget is left alone")
}

func TestCache_SnapshotRestoreRoundTrip(t *testing.T) {
	c := statecache.New(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	observe(c, "A", base, 10)
	observe(c, "A", base.Add(time.Second), 12)
	observe(c, "B", base, 5)

	snaps := c.Snapshot()
	require.Len(t, snaps, 2)

	restored := statecache.New(10)
	restored.Restore(snaps)
	assert.Equal(t, 2, restored.Len())

	stA := restored.GetOrCreate("A")
	require.NotNil(t, stA.Field("value"))
	assert.Equal(t, int64(2), stA.Field("value").Count())
	assert.Equal(t, 11.0, stA.Field("value").Mean())

	stB := restored.GetOrCreate("B")
	assert.Equal(t, int64(1), stB.Field("value").Count())
}

// Snapshot must never observe a half-applied mutation: a lane keeps
// observing events while checkpoints run, and every snapshot it produces
// has to be internally consistent (count matches ring length per field).
func TestCache_SnapshotSerializesWithUpdates(t *testing.T) {
	c := statecache.New(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			observe(c, "acct-1", base.Add(time.Duration(i)*time.Millisecond), float64(i%7))
		}
	}()

	for i := 0; i < 200; i++ {
		for _, snap := range c.Snapshot() {
			for name, f := range snap.Fields {
				require.Equal(t, int(f.Count), len(f.Ring), "field %s", name)
			}
		}
	}

	close(stop)
	wg.Wait()
}

func TestCache_RestoreEnforcesBudget(t *testing.T) {
	c := statecache.New(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, key := range []string{"a", "b", "c", "d"} {
		observe(c, key, base, float64(i))
		time.Sleep(time.Millisecond)
	}

	small := statecache.New(2)
	small.Restore(c.Snapshot())
	assert.Equal(t, 2, small.Len())
}
