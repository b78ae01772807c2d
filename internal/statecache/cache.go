// Package statecache provides the bounded per-entity state store. Entries
// are evicted least-recently-touched first when the configured budget is
// exceeded. Evicting an entity that still has window history loses that
// history: the entity cold-starts a fresh window if it reappears. That
// tradeoff is accepted; eviction never triggers alert re-evaluation.
package statecache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/internal/window"
)

type entry struct {
	key        string
	state      *window.State
	lastAccess atomic.Int64 // unix nanos
}

// Cache is the bounded key-value store for per-entity window state.
//
// Lane workers mutate state through Update, which runs the mutation under
// the shared read lock: lanes proceed in parallel (keys are lane-exclusive)
// while eviction, Snapshot and Restore take the write lock and therefore
// wait for every in-flight mutation to finish before touching any state.
// That write lock is the global, low-frequency coordination point.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
}

// New creates a cache bounded to maxEntries entities.
func New(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
	}
}

// Update runs fn against the window state for key, creating an empty state
// on first sight. Creation that pushes the cache over budget evicts the
// least-recently-touched entry first.
//
// fn executes under the cache's read lock, so concurrent Snapshot, Restore
// and eviction cannot observe a half-applied mutation. fn must not call
// back into the cache.
func (c *Cache) Update(key string, fn func(*window.State)) {
	now := time.Now().UnixNano()

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		e.lastAccess.Store(now)
		fn(e.state)
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another lane may have raced the insert for a different key; the same
	// key is always lane-exclusive, so re-check is for budget accounting.
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, state: window.NewState()}
		e.lastAccess.Store(now)
		c.entries[key] = e
		c.evictLocked()
		metrics.CacheEntries.Set(float64(len(c.entries)))
	} else {
		e.lastAccess.Store(now)
	}
	fn(e.state)
}

// GetOrCreate returns the live window state for key, creating an empty
// state on first sight. The returned pointer is not covered by the cache's
// locking; it is meant for restore verification and single-threaded
// inspection. Lane processing goes through Update.
func (c *Cache) GetOrCreate(key string) *window.State {
	var st *window.State
	c.Update(key, func(s *window.State) { st = s })
	return st
}

// Len returns the current number of cached entities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictIfNeeded enforces the entry budget outside the insert path. It is
// called periodically so that budget pressure is handled even when no new
// entities arrive.
func (c *Cache) EvictIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// evictLocked removes least-recently-touched entries until the cache fits
// its budget. Caller holds the write lock.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries {
		var victim *entry
		for _, e := range c.entries {
			if victim == nil || e.lastAccess.Load() < victim.lastAccess.Load() {
				victim = e
			}
		}
		if victim == nil {
			return
		}
		delete(c.entries, victim.key)
		metrics.CacheEvictions.Inc()
	}
}

// Snapshot captures every cached entity for checkpointing. It holds the
// write lock for the duration, waiting out in-flight Updates and briefly
// pausing lane access; callers keep snapshot frequency low.
func (c *Cache) Snapshot() []model.CacheSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snaps := make([]model.CacheSnapshot, 0, len(c.entries))
	for key, e := range c.entries {
		snap := e.state.Snapshot()
		snap.EntityKey = key
		snap.LastAccess = time.Unix(0, e.lastAccess.Load())
		snaps = append(snaps, snap)
	}
	return snaps
}

// Restore replaces the cache contents with the checkpointed entries.
func (c *Cache) Restore(snaps []model.CacheSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry, len(snaps))
	for _, snap := range snaps {
		e := &entry{key: snap.EntityKey, state: window.FromSnapshot(snap)}
		if snap.LastAccess.IsZero() {
			e.lastAccess.Store(time.Now().UnixNano())
		} else {
			e.lastAccess.Store(snap.LastAccess.UnixNano())
		}
		c.entries[snap.EntityKey] = e
	}
	c.evictLocked()
	metrics.CacheEntries.Set(float64(len(c.entries)))
}
