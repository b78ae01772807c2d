package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kkalu-stack/anomaly-detection-system/internal/model"
)

// recentAlertsKey is the list of recently stored alert keys, newest first.
const recentAlertsKey = "recent_alerts"

// recentAlertsLimit bounds the recent-alerts list.
const recentAlertsLimit = 100

// RedisAlertStore keeps the latest alert transitions in Redis for quick
// lookup by operators and APIs. Each transition is stored under
// alert:<id> with a TTL, and the recent_alerts list tracks the newest
// hundred. Scores are not stored.
type RedisAlertStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAlertStore connects to Redis and verifies the connection.
func NewRedisAlertStore(redisURL string, ttl time.Duration) (*RedisAlertStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisAlertStore{client: client, ttl: ttl}, nil
}

// PublishScore is a no-op; the store only tracks alerts.
func (s *RedisAlertStore) PublishScore(ctx context.Context, r model.ScoreResult) error {
	return nil
}

// NotifyTransition records the transition and trims the recent list.
func (s *RedisAlertStore) NotifyTransition(ctx context.Context, t model.AlertTransition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal alert transition: %w", err)
	}

	key := "alert:" + t.Alert.ID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.LPush(ctx, recentAlertsKey, key)
	pipe.LTrim(ctx, recentAlertsKey, 0, recentAlertsLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store alert transition: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit of the most recently stored
// transitions, newest first. Expired entries are skipped.
func (s *RedisAlertStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertTransition, error) {
	keys, err := s.client.LRange(ctx, recentAlertsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}

	alerts := make([]model.AlertTransition, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load alert %s: %w", key, err)
		}
		var t model.AlertTransition
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		alerts = append(alerts, t)
	}
	return alerts, nil
}

func (s *RedisAlertStore) Close() error {
	return s.client.Close()
}
