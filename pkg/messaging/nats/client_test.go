package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "detector", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects, "reconnect forever by default")
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestIsConnected_NoConnection(t *testing.T) {
	assert.False(t, (&Client{}).IsConnected())
}

func TestEventStreamConfig(t *testing.T) {
	cfg := EventStreamConfig("DETECTOR_EVENTS", []string{"events.>"})

	assert.Equal(t, "DETECTOR_EVENTS", cfg.Name)
	assert.Equal(t, []string{"events.>"}, cfg.Subjects)
	assert.Equal(t, 24*time.Hour, cfg.MaxAge)
}
