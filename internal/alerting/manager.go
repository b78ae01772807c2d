// Package alerting runs the per-entity alert lifecycle state machine:
// deduplication, rate-limit suppression, and quiet-period resolution.
// At most one active alert exists per entity; anomalous results while an
// alert is active mutate it instead of opening a second one.
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/pkg/logging"
)

// Notifier receives alert lifecycle transitions. Delivery downstream is
// at-least-once; consumers deduplicate on (alert_id, state, occurred_at).
type Notifier interface {
	NotifyTransition(ctx context.Context, t model.AlertTransition) error
}

type activeAlert struct {
	alert model.Alert

	// recent holds receipt times of anomalous results inside the sliding
	// rate window, oldest first.
	recent []time.Time

	// lastAnomaly is the wall-clock receipt time of the latest anomalous
	// result, driving quiet-period resolution.
	lastAnomaly time.Time
}

// Manager is the alert lifecycle state machine over all entities.
type Manager struct {
	mu      sync.Mutex
	alerts  map[string]*activeAlert
	cfg     config.AlertingConfig
	sink    Notifier
	logger  *logging.Logger
	nowFunc func() time.Time
}

// NewManager creates an alert manager emitting transitions to sink.
func NewManager(cfg config.AlertingConfig, sink Notifier, logger *logging.Logger) *Manager {
	return &Manager{
		alerts:  make(map[string]*activeAlert),
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// HandleResult feeds one scoring decision into the state machine.
// Non-anomalous results are ignored here; resolution happens on the
// periodic quiet-period sweep, never inline.
func (m *Manager) HandleResult(ctx context.Context, r model.ScoreResult) {
	if !r.IsAnomalous {
		return
	}

	now := m.nowFunc()

	m.mu.Lock()
	a, ok := m.alerts[r.EntityKey]
	if !ok {
		a = &activeAlert{
			alert: model.Alert{
				ID:           uuid.New().String(),
				EntityKey:    r.EntityKey,
				State:        model.AlertOpen,
				Severity:     r.Severity(),
				OpenedAt:     now,
				LastSeenAt:   r.Timestamp,
				ScoreHistory: []float64{r.Score},
			},
			recent:      []time.Time{now},
			lastAnomaly: now,
		}
		m.alerts[r.EntityKey] = a
		transition := m.transitionLocked(a, model.AlertOpen, now)
		m.mu.Unlock()

		m.emit(ctx, transition)
		return
	}

	// Dedup: mutate the existing alert.
	a.alert.LastSeenAt = r.Timestamp
	a.alert.ScoreHistory = append(a.alert.ScoreHistory, r.Score)
	if len(a.alert.ScoreHistory) > m.cfg.HistoryLimit {
		a.alert.ScoreHistory = a.alert.ScoreHistory[len(a.alert.ScoreHistory)-m.cfg.HistoryLimit:]
	}
	if r.Severity() == "high" {
		a.alert.Severity = "high"
	}
	a.lastAnomaly = now

	a.recent = append(a.recent, now)
	cutoff := now.Add(-m.cfg.RateWindow)
	for len(a.recent) > 0 && a.recent[0].Before(cutoff) {
		a.recent = a.recent[1:]
	}

	var transition *model.AlertTransition
	switch {
	case a.alert.State == model.AlertOpen && len(a.recent) > m.cfg.RateCeiling:
		t := m.transitionLocked(a, model.AlertSuppressed, now)
		transition = &t
	case a.alert.State == model.AlertSuppressed && len(a.recent) <= m.cfg.RateCeiling:
		t := m.transitionLocked(a, model.AlertOpen, now)
		transition = &t
	}
	m.mu.Unlock()

	if transition != nil {
		m.emit(ctx, *transition)
	}
}

// transitionLocked applies a state change and returns the transition to
// emit. Caller holds the lock.
func (m *Manager) transitionLocked(a *activeAlert, state model.AlertState, now time.Time) model.AlertTransition {
	a.alert.State = state
	m.gaugesLocked()
	metrics.AlertTransitions.WithLabelValues(string(state)).Inc()
	return model.AlertTransition{Alert: a.alert, OccurredAt: now}
}

func (m *Manager) gaugesLocked() {
	suppressed := 0
	for _, a := range m.alerts {
		if a.alert.State == model.AlertSuppressed {
			suppressed++
		}
	}
	metrics.ActiveAlerts.Set(float64(len(m.alerts)))
	metrics.SuppressedAlerts.Set(float64(suppressed))
}

func (m *Manager) emit(ctx context.Context, t model.AlertTransition) {
	if m.sink == nil {
		return
	}
	if err := m.sink.NotifyTransition(ctx, t); err != nil {
		m.logger.Error("failed to emit alert transition",
			logging.AlertID(t.Alert.ID),
			logging.AlertState(string(t.Alert.State)),
			logging.Error(err),
		)
	}
}

// Run executes the quiet-period sweeper until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep resolves alerts whose quiet period elapsed with no anomalous
// result. Resolved alerts are terminal: they are handed to the sink for
// archival and removed from active state.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.nowFunc()
	cutoff := now.Add(-m.cfg.QuietPeriod)

	m.mu.Lock()
	var resolved []model.AlertTransition
	for key, a := range m.alerts {
		if a.lastAnomaly.After(cutoff) {
			continue
		}
		resolved = append(resolved, m.transitionLocked(a, model.AlertResolved, now))
		delete(m.alerts, key)
	}
	m.gaugesLocked()
	m.mu.Unlock()

	for _, t := range resolved {
		m.logger.Info("alert resolved after quiet period",
			logging.AlertID(t.Alert.ID),
			logging.EntityKey(t.Alert.EntityKey),
		)
		m.emit(ctx, t)
	}
}

// Active returns a copy of the alert for key, or false when none is
// active.
func (m *Manager) Active(key string) (model.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[key]
	if !ok {
		return model.Alert{}, false
	}
	return a.alert, true
}

// ActiveCount returns the number of Open and Suppressed alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}
