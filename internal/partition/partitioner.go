// Package partition routes events onto a fixed set of ordered lanes keyed
// by entity identity. The lane assignment is a stable hash of the entity
// key, so all events for one key always land on the same lane and per-key
// ordering is preserved end to end. Changing the lane count requires a
// full repartition; it is never reconfigured on a running pipeline.
package partition

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// ErrOverload reports that a lane queue stayed full past the enqueue
// timeout. It signals the ingestion boundary to slow down or shed load;
// it is not fatal and the event is not lost (the source redelivers).
var ErrOverload = errors.New("lane queue full beyond enqueue timeout")

// Partitioner owns the lane queues and the routing function.
type Partitioner struct {
	lanes   []chan model.Event
	timeout time.Duration
}

// New creates a partitioner with laneCount bounded queues of queueSize.
// enqueueTimeout bounds how long Enqueue blocks on a full lane before
// reporting overload; zero means block until the context is done.
func New(laneCount, queueSize int, enqueueTimeout time.Duration) *Partitioner {
	lanes := make([]chan model.Event, laneCount)
	for i := range lanes {
		lanes[i] = make(chan model.Event, queueSize)
	}
	return &Partitioner{
		lanes:   lanes,
		timeout: enqueueTimeout,
	}
}

// Route returns the lane index for an entity key. Deterministic FNV-1a
// hash modulo lane count, stable across restarts.
func (p *Partitioner) Route(entityKey string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(entityKey))
	return int(h.Sum64() % uint64(len(p.lanes)))
}

// Enqueue places the event on its lane, blocking the caller when the lane
// is full (backpressure propagates to the ingestion source). Blocking
// beyond the configured timeout returns ErrOverload.
func (p *Partitioner) Enqueue(ctx context.Context, evt model.Event) error {
	lane := p.lanes[p.Route(evt.EntityKey)]

	if p.timeout <= 0 {
		select {
		case lane <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case lane <- evt:
		return nil
	case <-timer.C:
		metrics.OverloadSignals.Inc()
		return ErrOverload
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LaneCount returns the number of lanes.
func (p *Partitioner) LaneCount() int {
	return len(p.lanes)
}

// Lane returns the receive side of one lane queue for its worker.
func (p *Partitioner) Lane(i int) <-chan model.Event {
	return p.lanes[i]
}

// Depth returns the current queue depth of one lane.
func (p *Partitioner) Depth(i int) int {
	return len(p.lanes[i])
}

// Depths reports the current queue depth per lane and refreshes the lane
// depth gauges.
func (p *Partitioner) Depths() []int {
	depths := make([]int, len(p.lanes))
	for i, lane := range p.lanes {
		depths[i] = len(lane)
		metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(depths[i]))
	}
	return depths
}

// Close closes all lane queues. Workers drain remaining events and stop.
// No Enqueue may be in flight or follow a Close.
func (p *Partitioner) Close() {
	for _, lane := range p.lanes {
		close(lane)
	}
}
