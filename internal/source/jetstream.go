package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
	"github.com/kkalu-stack/anomaly-detection-system/pkg/logging"
	natsclient "github.com/kkalu-stack/anomaly-detection-system/pkg/messaging/nats"
)

// wireEvent is the JSON shape producers publish to the input subject.
type wireEvent struct {
	EntityKey string             `json:"entity_key"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels,omitempty"`
	Source    string             `json:"source,omitempty"`
}

// JetStreamSource consumes events from a NATS JetStream stream. The stream
// sequence is the durable offset; an ordered consumer preserves arrival
// order end to end.
type JetStreamSource struct {
	client  *natsclient.JetStreamClient
	cfg     config.TransportConfig
	logger  *logging.Logger
	bufSize int
}

// NewJetStreamSource connects to NATS and ensures the input stream exists.
func NewJetStreamSource(cfg config.TransportConfig, logger *logging.Logger) (*JetStreamSource, error) {
	nc := natsclient.DefaultConfig()
	nc.URL = cfg.NatsURL
	nc.Name = "detector-source"
	client, err := natsclient.NewJetStreamClient(nc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.CreateOrUpdateStream(ctx, natsclient.EventStreamConfig(cfg.InputStream, []string{cfg.InputSubject})); err != nil {
		client.Close()
		return nil, err
	}

	return &JetStreamSource{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		bufSize: 256,
	}, nil
}

// Connected reports whether the underlying NATS connection is live. Used
// by the health endpoint; a lost connection is retried by the client, so
// this is a readiness signal, not a failure.
func (s *JetStreamSource) Connected() bool {
	return s.client.IsConnected()
}

// Consume starts delivery after fromOffset and returns the event channel.
func (s *JetStreamSource) Consume(ctx context.Context, fromOffset uint64) (<-chan model.Event, error) {
	var startSeq uint64
	if fromOffset > 0 {
		// Resume with the first unprocessed message. Redelivery of the
		// offset itself would double-apply it; everything after is the
		// at-least-once tail the window engine tolerates.
		startSeq = fromOffset + 1
	}

	consumer, err := s.client.OrderedConsumer(ctx, s.cfg.InputStream, startSeq)
	if err != nil {
		return nil, err
	}

	iter, err := consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("start consuming %s: %w", s.cfg.InputStream, err)
	}

	out := make(chan model.Event, s.bufSize)
	go s.pump(ctx, iter, out)
	return out, nil
}

// pump reads messages until the context ends, decoding and forwarding
// them. Transient iterator errors are retried with backoff and never
// surface past the ingestion boundary.
func (s *JetStreamSource) pump(ctx context.Context, iter jetstream.MessagesContext, out chan<- model.Event) {
	defer close(out)
	defer iter.Stop()

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	backoff := time.Second
	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return
			}
			s.logger.Warn("transient ingestion error, backing off",
				logging.Component("source"),
				logging.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		meta, err := msg.Metadata()
		if err != nil {
			s.logger.Warn("message without stream metadata dropped", logging.Error(err))
			continue
		}

		var we wireEvent
		if err := json.Unmarshal(msg.Data(), &we); err != nil {
			s.logger.Warn("undecodable event dropped",
				logging.Offset(meta.Sequence.Stream),
				logging.Error(err),
			)
			continue
		}

		evt := model.Event{
			EntityKey:    we.EntityKey,
			Timestamp:    we.Timestamp,
			Values:       we.Values,
			Labels:       we.Labels,
			Source:       we.Source,
			SourceOffset: meta.Sequence.Stream,
		}

		select {
		case out <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the NATS connection.
func (s *JetStreamSource) Close() error {
	s.client.Close()
	return nil
}
