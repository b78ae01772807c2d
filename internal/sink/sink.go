// Package sink is the outbound boundary: score results and alert
// lifecycle transitions leave the pipeline here. Delivery is
// at-least-once; downstream consumers deduplicate transitions on
// (alert_id, state, occurred_at).
package sink

import (
	"context"
	"errors"

	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// Sink receives pipeline outputs.
type Sink interface {
	// PublishScore emits one scoring result to the score stream.
	PublishScore(ctx context.Context, r model.ScoreResult) error

	// NotifyTransition emits one alert lifecycle transition.
	NotifyTransition(ctx context.Context, t model.AlertTransition) error

	Close() error
}

// Multi fans out to several sinks, collecting every failure.
type Multi []Sink

func (m Multi) PublishScore(ctx context.Context, r model.ScoreResult) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishScore(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyTransition(ctx context.Context, t model.AlertTransition) error {
	var errs []error
	for _, s := range m {
		if err := s.NotifyTransition(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
