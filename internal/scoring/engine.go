package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/metrics"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// ErrScoringSkipped reports that a model evaluation exceeded the latency
// ceiling under the skip policy: no result is produced and the event is
// flagged stale. Counted, never fatal to the lane.
var ErrScoringSkipped = errors.New("scoring timed out, result skipped")

// ReasonTimeout marks results produced by a timeout fallback policy
// rather than a completed evaluation.
const ReasonTimeout = "scoring_timeout"

// Engine applies the configured model to feature vectors under a latency
// ceiling. Given the same feature vector, model and calibration, Score is
// deterministic.
type Engine struct {
	model     Model
	modelName string
	cal       Calibration
	threshold float64
	timeout   time.Duration
	policy    config.TimeoutPolicy
}

// NewEngine builds a scoring engine from configuration. The model variant
// is selected by name at startup, never by runtime type inspection.
func NewEngine(cfg config.ScoringConfig) (*Engine, error) {
	cal := Calibration{Scale: cfg.CalibrationScale}

	m, err := buildModel(cfg, cal)
	if err != nil {
		return nil, err
	}

	return &Engine{
		model:     m,
		modelName: cfg.Model,
		cal:       cal,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		policy:    cfg.TimeoutPolicy,
	}, nil
}

func buildModel(cfg config.ScoringConfig, cal Calibration) (Model, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, Rule{Feature: r.Feature, Threshold: r.Threshold})
	}

	switch cfg.Model {
	case "zscore":
		return ZScoreModel{}, nil
	case "rules":
		if len(rules) == 0 {
			return nil, fmt.Errorf("scoring.model %q requires scoring.rules", cfg.Model)
		}
		return RulesModel{Rules: rules}, nil
	case "ensemble":
		members := []Model{ZScoreModel{}}
		if len(rules) > 0 {
			members = append(members, RulesModel{Rules: rules})
		}
		return Ensemble{
			Members:      members,
			RawThreshold: cal.RawThreshold(cfg.Threshold),
		}, nil
	default:
		return nil, fmt.Errorf("unknown scoring.model %q", cfg.Model)
	}
}

// ModelName returns the configured model identifier, used as the reason
// code on completed evaluations.
func (e *Engine) ModelName() string { return e.modelName }

// Threshold returns the decision threshold in calibrated score space.
func (e *Engine) Threshold() float64 { return e.threshold }

// Score evaluates one feature vector. Evaluations that exceed the latency
// ceiling are counted and resolved per the configured policy: skip returns
// ErrScoringSkipped with no result, fail-open returns a non-anomalous
// result, fail-closed returns an anomalous one.
func (e *Engine) Score(ctx context.Context, fv model.FeatureVector) (model.ScoreResult, error) {
	type evaluation struct {
		raw float64
		err error
	}

	start := time.Now()
	done := make(chan evaluation, 1)
	go func() {
		raw, err := e.model.Evaluate(fv.Features)
		done <- evaluation{raw: raw, err: err}
	}()

	var timeoutC <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case ev := <-done:
		metrics.ScoringDuration.Observe(time.Since(start).Seconds())
		if ev.err != nil {
			return model.ScoreResult{}, fmt.Errorf("evaluate %s: %w", e.modelName, ev.err)
		}
		score := e.cal.Normalize(ev.raw)
		result := model.ScoreResult{
			EntityKey:   fv.EntityKey,
			Timestamp:   fv.Timestamp,
			Score:       score,
			IsAnomalous: score >= e.threshold,
			ReasonCode:  e.modelName,
		}
		if result.IsAnomalous {
			metrics.AnomaliesDetected.Inc()
		}
		return result, nil

	case <-timeoutC:
		metrics.ScoringTimeouts.Inc()
		return e.timeoutResult(fv)

	case <-ctx.Done():
		return model.ScoreResult{}, ctx.Err()
	}
}

func (e *Engine) timeoutResult(fv model.FeatureVector) (model.ScoreResult, error) {
	switch e.policy {
	case config.TimeoutFailOpen:
		return model.ScoreResult{
			EntityKey:  fv.EntityKey,
			Timestamp:  fv.Timestamp,
			ReasonCode: ReasonTimeout,
		}, nil
	case config.TimeoutFailClosed:
		result := model.ScoreResult{
			EntityKey:   fv.EntityKey,
			Timestamp:   fv.Timestamp,
			Score:       1,
			IsAnomalous: true,
			ReasonCode:  ReasonTimeout,
		}
		metrics.AnomaliesDetected.Inc()
		return result, nil
	default:
		return model.ScoreResult{}, ErrScoringSkipped
	}
}
