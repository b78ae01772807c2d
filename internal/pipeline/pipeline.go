// Package pipeline wires the detection components together and owns their
// lifecycle: source → partitioner → lane workers (window → scoring →
// alerting) → sink, with the checkpoint coordinator running alongside.
//
// One worker runs per lane, strictly sequential within the lane and
// parallel across lanes. Per-entity ordering is preserved from ingestion
// through scoring; no ordering holds across entities.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/alerting"
	"github.com/kkalu-stack/anomaly-detection-system/internal/checkpoint"
	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/internal/partition"
	"github.com/kkalu-stack/anomaly-detection-system/internal/scoring"
	"github.com/kkalu-stack/anomaly-detection-system/internal/sink"
	"github.com/kkalu-stack/anomaly-detection-system/internal/source"
	"github.com/kkalu-stack/anomaly-detection-system/internal/statecache"
	"github.com/kkalu-stack/anomaly-detection-system/internal/window"
	"github.com/kkalu-stack/anomaly-detection-system/pkg/logging"
)

// Pipeline is the assembled streaming core.
type Pipeline struct {
	cfg    *config.Config
	part   *partition.Partitioner
	cache  *statecache.Cache
	engine *window.Engine
	scorer *scoring.Engine
	alerts *alerting.Manager
	coord  *checkpoint.Coordinator
	src    source.Source
	sink   sink.Sink
	logger *logging.Logger

	offsets      []atomic.Uint64
	routed       []atomic.Uint64
	lastIngested atomic.Uint64
	processed    atomic.Int64
	anomalies    atomic.Int64
	running      atomic.Bool
	wg           sync.WaitGroup
}

// New assembles a pipeline from configuration and the boundary
// implementations.
func New(cfg *config.Config, src source.Source, snk sink.Sink, logger *logging.Logger) (*Pipeline, error) {
	cache := statecache.New(cfg.Cache.MaxEntries)

	scorer, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		part:   partition.New(cfg.Lanes.Count, cfg.Lanes.QueueSize, cfg.Lanes.EnqueueTimeout),
		cache:  cache,
		engine: window.NewEngine(cache, cfg.Window.Length, cfg.Window.MaxValues, cfg.Window.MaxLateness),
		scorer: scorer,
		alerts: alerting.NewManager(cfg.Alerting, snk, logger),
		src:    src,
		sink:   snk,
		logger: logger,
	}
	p.offsets = make([]atomic.Uint64, cfg.Lanes.Count)
	p.routed = make([]atomic.Uint64, cfg.Lanes.Count)

	coord, err := checkpoint.NewCoordinator(cfg.Checkpoint, cache, p, logger)
	if err != nil {
		return nil, err
	}
	p.coord = coord

	return p, nil
}

// Offsets returns the last fully processed source offset per lane.
//
// A lane counts as caught up only when its processed position equals the
// last offset routed to it; an event sitting in the queue or in the worker's
// hands keeps the two apart, so such a lane reports its own (older) processed
// position and the resume minimum never advances past unfinished work. A
// caught-up lane reports the ingest watermark instead of its own possibly
// stale position. The watermark is read before the per-lane counters and
// routed is recorded before enqueue, which keeps the minimum at or below
// every unprocessed offset.
func (p *Pipeline) Offsets() []uint64 {
	watermark := p.lastIngested.Load()
	offsets := make([]uint64, len(p.offsets))
	for i := range p.offsets {
		processed := p.offsets[i].Load()
		if processed == p.routed[i].Load() {
			offsets[i] = watermark
		} else {
			offsets[i] = processed
		}
	}
	return offsets
}

// Run restores the latest checkpoint, resumes ingestion from its recorded
// offsets, and processes events until the context is cancelled. On
// shutdown in-flight lane work drains, then a final checkpoint is written
// before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	cp, err := p.coord.Restore()
	if err != nil {
		return err
	}

	var resume uint64
	if cp != nil {
		resume = cp.ResumeOffset()
		p.lastIngested.Store(resume)
		if len(cp.Offsets) == len(p.offsets) {
			for i, off := range cp.Offsets {
				p.offsets[i].Store(off)
				p.routed[i].Store(off)
			}
		} else if len(cp.Offsets) > 0 {
			p.logger.Warn("checkpoint lane count differs from configuration, repartitioning from resume offset",
				logging.Offset(resume),
			)
		}
	}

	events, err := p.src.Consume(ctx, resume)
	if err != nil {
		return err
	}

	p.running.Store(true)
	defer p.running.Store(false)

	// Background work lives on its own context so it keeps running while
	// lanes drain after ctx is cancelled.
	bg, stopBg := context.WithCancel(context.Background())
	defer stopBg()

	go p.alerts.Run(bg)
	go p.coord.Run(bg)
	go p.housekeeping(bg)

	for i := 0; i < p.part.LaneCount(); i++ {
		p.wg.Add(1)
		go p.laneWorker(bg, i)
	}

	p.ingest(ctx, events)

	// Source channel closed: stop feeding lanes and let workers finish
	// their current events.
	p.part.Close()
	p.wg.Wait()
	stopBg()

	if _, err := p.coord.Write(); err != nil {
		p.logger.Error("final checkpoint failed", logging.Error(err))
	}

	return nil
}

// ingest moves events from the source onto lanes. A full lane blocks the
// loop (backpressure on the source); persistent blocking surfaces as a
// logged overload signal, and the event is retried rather than dropped.
func (p *Pipeline) ingest(ctx context.Context, events <-chan model.Event) {
	for evt := range events {
		// Mark the lane as owing this offset before it can possibly be
		// dequeued; Offsets must not see the lane as caught up while the
		// event is anywhere between here and the end of processing.
		p.routed[p.part.Route(evt.EntityKey)].Store(evt.SourceOffset)
		for {
			err := p.part.Enqueue(ctx, evt)
			if err == nil {
				metrics.EventsIngested.Inc()
				p.lastIngested.Store(evt.SourceOffset)
				break
			}
			if errors.Is(err, partition.ErrOverload) {
				p.logger.Warn("lane overloaded, backpressuring source",
					logging.Lane(p.part.Route(evt.EntityKey)),
					logging.EntityKey(evt.EntityKey),
				)
				continue
			}
			// Context cancelled: the unprocessed tail is replayed from the
			// last checkpoint on restart.
			return
		}
	}
}

// laneWorker processes one lane strictly in arrival order.
func (p *Pipeline) laneWorker(ctx context.Context, lane int) {
	defer p.wg.Done()

	for evt := range p.part.Lane(lane) {
		p.process(ctx, lane, evt)
	}
}

func (p *Pipeline) process(ctx context.Context, lane int, evt model.Event) {
	// The offset advances even for dropped or skipped events: they are
	// accounted for and must not be replayed forever.
	defer func() {
		p.offsets[lane].Store(evt.SourceOffset)
		p.processed.Add(1)
		p.coord.RecordProcessed(1)
	}()

	fv, err := p.engine.Process(evt)
	if err != nil {
		// Late events are counted by the engine; nothing else to do.
		return
	}

	result, err := p.scorer.Score(ctx, fv)
	if err != nil {
		if !errors.Is(err, scoring.ErrScoringSkipped) && !errors.Is(err, context.Canceled) {
			p.logger.Error("scoring failed",
				logging.Lane(lane),
				logging.EntityKey(evt.EntityKey),
				logging.Error(err),
			)
		}
		return
	}

	if result.IsAnomalous {
		p.anomalies.Add(1)
	}

	if p.cfg.Transport.PublishScores || result.IsAnomalous {
		if err := p.sink.PublishScore(ctx, result); err != nil {
			p.logger.Error("failed to publish score",
				logging.EntityKey(result.EntityKey),
				logging.Score(result.Score),
				logging.Error(err),
			)
		}
	}

	p.alerts.HandleResult(ctx, result)
}

// housekeeping runs the periodic cache eviction check and refreshes lane
// depth gauges.
func (p *Pipeline) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Cache.EvictionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.cache.EvictIfNeeded()
			p.part.Depths()
		case <-ctx.Done():
			return
		}
	}
}

// Stats is a point-in-time snapshot of processing counters.
type Stats struct {
	Running           bool    `json:"running"`
	TotalProcessed    int64   `json:"total_processed"`
	AnomaliesDetected int64   `json:"anomalies_detected"`
	AnomalyRate       float64 `json:"anomaly_rate"`
	ActiveAlerts      int     `json:"active_alerts"`
	CachedEntities    int     `json:"cached_entities"`
	LaneDepths        []int   `json:"lane_depths"`
}

// Stats returns current processing counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Running:           p.running.Load(),
		TotalProcessed:    p.processed.Load(),
		AnomaliesDetected: p.anomalies.Load(),
		ActiveAlerts:      p.alerts.ActiveCount(),
		CachedEntities:    p.cache.Len(),
		LaneDepths:        p.part.Depths(),
	}
	if s.TotalProcessed > 0 {
		s.AnomalyRate = float64(s.AnomaliesDetected) / float64(s.TotalProcessed)
	}
	return s
}
