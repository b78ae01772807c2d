package scoring_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/internal/scoring"
)

func TestCalibration_Normalize(t *testing.T) {
	cal := scoring.Calibration{Scale: 2.0}

	assert.Equal(t, 0.0, cal.Normalize(0))
	assert.Equal(t, 0.0, cal.Normalize(-1), "negative raws clamp to zero")

	prev := 0.0
	for raw := 0.5; raw < 20; raw += 0.5 {
		n := cal.Normalize(raw)
		assert.Greater(t, n, prev, "calibration must be monotonic")
		assert.LessOrEqual(t, n, 1.0)
		prev = n
	}
}

func TestCalibration_RawThresholdInvertsNormalize(t *testing.T) {
	cal := scoring.Calibration{Scale: 2.0}

	for _, p := range []float64{0.1, 0.5, 0.8, 0.99} {
		raw := cal.RawThreshold(p)
		assert.InDelta(t, p, cal.Normalize(raw), 1e-12)
	}
	assert.True(t, math.IsInf(cal.RawThreshold(1), 1))
	assert.Equal(t, 0.0, cal.RawThreshold(0))
}

func TestZScoreModel_TakesWorstAbsoluteZ(t *testing.T) {
	m := scoring.ZScoreModel{}

	raw, err := m.Evaluate(map[string]float64{
		"amount":      500,
		"amount_z":    2.5,
		"latency_z":   -4.0,
		"event_count": 12,
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, raw)

	_, err = m.Evaluate(map[string]float64{"amount": 500})
	assert.Error(t, err, "a vector with no z-score features cannot be scored")
}

func TestRulesModel_WorstExceedance(t *testing.T) {
	m := scoring.RulesModel{Rules: []scoring.Rule{
		{Feature: "amount", Threshold: 100},
		{Feature: "event_rate", Threshold: 50},
	}}

	raw, err := m.Evaluate(map[string]float64{"amount": 250, "event_rate": 10})
	require.NoError(t, err)
	assert.Equal(t, 2.5, raw)

	raw, err = m.Evaluate(map[string]float64{"amount": 50, "event_rate": 10})
	require.NoError(t, err)
	assert.Equal(t, 0.0, raw, "no rule exceeded means no signal")
}

func TestEnsemble_MajorityVoteDecides(t *testing.T) {
	cal := scoring.Calibration{Scale: 2.0}
	rawThreshold := cal.RawThreshold(0.8)

	ensemble := scoring.Ensemble{
		Members: []scoring.Model{
			scoring.ZScoreModel{},
			scoring.RulesModel{Rules: []scoring.Rule{{Feature: "amount", Threshold: 100}}},
		},
		RawThreshold: rawThreshold,
	}

	// Both members fire: score lands at or above the raw threshold.
	raw, err := ensemble.Evaluate(map[string]float64{"amount": 1000, "amount_z": 8})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, raw, rawThreshold)

	// Split vote (one high member, one silent): no majority, so the
	// result stays below the threshold even when the mean would cross it.
	raw, err = ensemble.Evaluate(map[string]float64{"amount": 10, "amount_z": 50})
	require.NoError(t, err)
	assert.Less(t, raw, rawThreshold)

	// Neither fires.
	raw, err = ensemble.Evaluate(map[string]float64{"amount": 10, "amount_z": 0.2})
	require.NoError(t, err)
	assert.Less(t, raw, rawThreshold)
}

func TestEnsemble_SkipsFailingMembers(t *testing.T) {
	ensemble := scoring.Ensemble{
		Members: []scoring.Model{
			scoring.ZScoreModel{},
			scoring.RulesModel{}, // no rules: always errors
		},
		RawThreshold: 3.0,
	}

	raw, err := ensemble.Evaluate(map[string]float64{"amount_z": 5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, raw, 3.0, "the single valid member forms its own majority")

	_, err = scoring.Ensemble{Members: []scoring.Model{scoring.RulesModel{}}, RawThreshold: 3}.
		Evaluate(map[string]float64{"amount_z": 5})
	assert.Error(t, err, "all members failing is an error")
}

func scoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Model:            "zscore",
		Threshold:        0.8,
		CalibrationScale: 2.0,
		TimeoutPolicy:    config.TimeoutSkip,
	}
}

func TestEngine_ScoreIsDeterministic(t *testing.T) {
	engine, err := scoring.NewEngine(scoringConfig())
	require.NoError(t, err)

	fv := model.FeatureVector{
		EntityKey: "acct-1",
		Features:  map[string]float64{"amount_z": 4.2, "amount": 900},
	}

	first, err := engine.Score(context.Background(), fv)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := engine.Score(context.Background(), fv)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.True(t, first.IsAnomalous)
	assert.Equal(t, "zscore", first.ReasonCode)
	assert.InDelta(t, 1-math.Exp(-4.2/2.0), first.Score, 1e-12)
}

func TestEngine_ThresholdBoundary(t *testing.T) {
	engine, err := scoring.NewEngine(scoringConfig())
	require.NoError(t, err)
	cal := scoring.Calibration{Scale: 2.0}

	// A raw score calibrating exactly to the threshold is anomalous:
	// the comparison is inclusive.
	atThreshold := model.FeatureVector{
		EntityKey: "acct-1",
		Features:  map[string]float64{"amount_z": cal.RawThreshold(0.8)},
	}
	result, err := engine.Score(context.Background(), atThreshold)
	require.NoError(t, err)
	assert.True(t, result.IsAnomalous)

	below := model.FeatureVector{
		EntityKey: "acct-1",
		Features:  map[string]float64{"amount_z": cal.RawThreshold(0.8) - 0.01},
	}
	result, err = engine.Score(context.Background(), below)
	require.NoError(t, err)
	assert.False(t, result.IsAnomalous)
}

func TestNewEngine_RejectsBadModel(t *testing.T) {
	cfg := scoringConfig()
	cfg.Model = "neural"
	_, err := scoring.NewEngine(cfg)
	assert.Error(t, err)

	cfg.Model = "rules"
	cfg.Rules = nil
	_, err = scoring.NewEngine(cfg)
	assert.Error(t, err, "rules model without rules must fail at startup")
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, "high", model.ScoreResult{Score: 0.85}.Severity())
	assert.Equal(t, "medium", model.ScoreResult{Score: 0.8}.Severity())
}
