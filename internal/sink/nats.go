package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	natsclient "github.com/kkalu-stack/anomaly-detection-system/pkg/messaging/nats"
)

// NATSSink publishes scores and alert transitions to NATS subjects.
type NATSSink struct {
	client       *natsclient.Client
	scoreSubject string
	alertSubject string
}

// NewNATSSink connects to NATS with the transport configuration.
func NewNATSSink(cfg config.TransportConfig) (*NATSSink, error) {
	nc := natsclient.DefaultConfig()
	nc.URL = cfg.NatsURL
	nc.Name = "detector-sink"
	client, err := natsclient.NewClient(nc)
	if err != nil {
		return nil, err
	}
	return &NATSSink{
		client:       client,
		scoreSubject: cfg.ScoreSubject,
		alertSubject: cfg.AlertSubject,
	}, nil
}

func (s *NATSSink) PublishScore(ctx context.Context, r model.ScoreResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal score result: %w", err)
	}
	return s.client.Publish(ctx, s.scoreSubject, data)
}

func (s *NATSSink) NotifyTransition(ctx context.Context, t model.AlertTransition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal alert transition: %w", err)
	}
	return s.client.Publish(ctx, s.alertSubject, data)
}

func (s *NATSSink) Close() error {
	s.client.Close()
	return nil
}
