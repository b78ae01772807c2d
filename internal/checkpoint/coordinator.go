// Package checkpoint periodically snapshots cache state and ingestion
// offsets to disk and drives recovery on restart. Restoring the latest
// valid checkpoint and resuming from its recorded offsets gives
// at-least-once processing: events between the last checkpoint and a crash
// are reprocessed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/pkg/logging"
)

// ErrCorruptCheckpoint marks a checkpoint file that failed to deserialize.
// Recovery falls back to the next-older valid checkpoint.
var ErrCorruptCheckpoint = errors.New("checkpoint failed to deserialize")

const filePrefix = "checkpoint_"

// Snapshotter captures and restores cache state.
type Snapshotter interface {
	Snapshot() []model.CacheSnapshot
	Restore([]model.CacheSnapshot)
}

// OffsetTracker reports the last fully processed source offset per lane.
type OffsetTracker interface {
	Offsets() []uint64
}

// Coordinator writes checkpoints on a fixed interval or after a configured
// number of processed events, retaining only the newest N files.
type Coordinator struct {
	dir       string
	interval  time.Duration
	retain    int
	maxEvents int64

	cache   Snapshotter
	offsets OffsetTracker
	logger  *logging.Logger

	processed atomic.Int64
	trigger   chan struct{}
}

// NewCoordinator creates a coordinator writing into cfg.Dir, creating the
// directory if needed.
func NewCoordinator(cfg config.CheckpointConfig, cache Snapshotter, offsets OffsetTracker, logger *logging.Logger) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Coordinator{
		dir:       cfg.Dir,
		interval:  cfg.Interval,
		retain:    cfg.Retain,
		maxEvents: int64(cfg.MaxEvents),
		cache:     cache,
		offsets:   offsets,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}, nil
}

// RecordProcessed notes n processed events and arms the count trigger when
// the configured threshold is crossed.
func (c *Coordinator) RecordProcessed(n int) {
	if c.maxEvents <= 0 {
		return
	}
	if c.processed.Add(int64(n)) >= c.maxEvents {
		select {
		case c.trigger <- struct{}{}:
		default:
		}
	}
}

// Run writes checkpoints until the context is cancelled. The final
// checkpoint on shutdown is the pipeline's responsibility, after lanes
// have drained.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.trigger:
			c.processed.Store(0)
		case <-ctx.Done():
			return
		}

		if _, err := c.Write(); err != nil {
			c.logger.Error("checkpoint write failed", logging.Error(err))
		}
	}
}

// Write captures a checkpoint and persists it, pruning old files beyond
// the retention count. Returns the written file name.
func (c *Coordinator) Write() (string, error) {
	start := time.Now()

	cp := model.Checkpoint{
		CreatedAt: time.Now().UTC(),
		Offsets:   c.offsets.Offsets(),
		Entries:   c.cache.Snapshot(),
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Zero-padded nanosecond timestamp keeps lexicographic order equal to
	// creation order.
	name := fmt.Sprintf("%s%020d.json", filePrefix, start.UnixNano())
	path := filepath.Join(c.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize checkpoint: %w", err)
	}

	c.prune()

	metrics.CheckpointsWritten.Inc()
	metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	c.logger.Info("checkpoint written",
		logging.Checkpoint(name),
		slog.Int("entries", len(cp.Entries)),
		logging.Duration(time.Since(start).Milliseconds()),
	)
	return name, nil
}

// prune deletes checkpoint files beyond the retention count, oldest first.
func (c *Coordinator) prune() {
	files, err := c.list()
	if err != nil {
		c.logger.Warn("checkpoint prune skipped", logging.Error(err))
		return
	}
	for len(files) > c.retain {
		oldest := files[0]
		files = files[1:]
		if err := os.Remove(filepath.Join(c.dir, oldest)); err != nil {
			c.logger.Warn("failed to remove old checkpoint",
				logging.Checkpoint(oldest),
				logging.Error(err),
			)
		}
	}
}

// list returns checkpoint file names sorted oldest first.
func (c *Coordinator) list() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// Restore loads the newest valid checkpoint into the cache and returns it.
// Corrupt files are skipped with a loud diagnostic, falling back to older
// ones. Returns nil with no error when no valid checkpoint exists: the
// pipeline cold-starts.
func (c *Coordinator) Restore() (*model.Checkpoint, error) {
	files, err := c.list()
	if err != nil {
		return nil, err
	}

	for i := len(files) - 1; i >= 0; i-- {
		name := files[i]
		cp, err := c.load(filepath.Join(c.dir, name))
		if err != nil {
			c.logger.Error("corrupt checkpoint, falling back to older one",
				logging.Checkpoint(name),
				logging.Error(err),
			)
			continue
		}
		c.cache.Restore(cp.Entries)
		c.logger.Info("restored from checkpoint",
			logging.Checkpoint(name),
			slog.Int("entries", len(cp.Entries)),
			logging.Offset(cp.ResumeOffset()),
		)
		return cp, nil
	}

	c.logger.Info("no valid checkpoint found, cold starting")
	return nil, nil
}

func (c *Coordinator) load(path string) (*model.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if cp.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing creation time", ErrCorruptCheckpoint)
	}
	return &cp, nil
}
