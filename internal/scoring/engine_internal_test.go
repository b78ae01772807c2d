package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// slowModel blocks until released, simulating an evaluation that blows the
// latency ceiling.
type slowModel struct {
	release chan struct{}
}

func (m slowModel) Evaluate(map[string]float64) (float64, error) {
	<-m.release
	return 10, nil
}

func slowEngine(policy config.TimeoutPolicy) (*Engine, slowModel) {
	m := slowModel{release: make(chan struct{})}
	return &Engine{
		model:     m,
		modelName: "zscore",
		cal:       Calibration{Scale: 2.0},
		threshold: 0.8,
		timeout:   10 * time.Millisecond,
		policy:    policy,
	}, m
}

func TestEngine_TimeoutSkip(t *testing.T) {
	engine, m := slowEngine(config.TimeoutSkip)
	defer close(m.release)

	_, err := engine.Score(context.Background(), model.FeatureVector{EntityKey: "acct-1"})
	assert.ErrorIs(t, err, ErrScoringSkipped)
}

func TestEngine_TimeoutFailOpen(t *testing.T) {
	engine, m := slowEngine(config.TimeoutFailOpen)
	defer close(m.release)

	result, err := engine.Score(context.Background(), model.FeatureVector{EntityKey: "acct-1"})
	require.NoError(t, err)
	assert.False(t, result.IsAnomalous)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, ReasonTimeout, result.ReasonCode)
	assert.Equal(t, "acct-1", result.EntityKey)
}

func TestEngine_TimeoutFailClosed(t *testing.T) {
	engine, m := slowEngine(config.TimeoutFailClosed)
	defer close(m.release)

	result, err := engine.Score(context.Background(), model.FeatureVector{EntityKey: "acct-1"})
	require.NoError(t, err)
	assert.True(t, result.IsAnomalous)
	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, ReasonTimeout, result.ReasonCode)
}

func TestEngine_NoTimeoutWaitsForModel(t *testing.T) {
	m := slowModel{release: make(chan struct{})}
	engine := &Engine{
		model:     m,
		modelName: "zscore",
		cal:       Calibration{Scale: 2.0},
		threshold: 0.8,
		policy:    config.TimeoutSkip,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(m.release)
	}()

	result, err := engine.Score(context.Background(), model.FeatureVector{EntityKey: "acct-1"})
	require.NoError(t, err)
	assert.True(t, result.IsAnomalous, "a zero timeout disables the latency ceiling")
}

func TestEngine_ScoreHonorsContext(t *testing.T) {
	engine, m := slowEngine(config.TimeoutSkip)
	engine.timeout = time.Minute
	defer close(m.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Score(ctx, model.FeatureVector{EntityKey: "acct-1"})
	assert.ErrorIs(t, err, context.Canceled)
}
