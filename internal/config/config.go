package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TimeoutPolicy controls how a scoring timeout is turned into a decision.
type TimeoutPolicy string

const (
	// TimeoutSkip drops the evaluation; no score result is produced.
	TimeoutSkip TimeoutPolicy = "skip"
	// TimeoutFailOpen produces a non-anomalous result.
	TimeoutFailOpen TimeoutPolicy = "fail-open"
	// TimeoutFailClosed produces an anomalous result.
	TimeoutFailClosed TimeoutPolicy = "fail-closed"
)

type Config struct {
	Lanes      LanesConfig      `mapstructure:"lanes"`
	Window     WindowConfig     `mapstructure:"window"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type LanesConfig struct {
	Count          int           `mapstructure:"count"`
	QueueSize      int           `mapstructure:"queue_size"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

type WindowConfig struct {
	Length      time.Duration `mapstructure:"length"`
	MaxValues   int           `mapstructure:"max_values"`
	MaxLateness time.Duration `mapstructure:"max_lateness"`
}

type CacheConfig struct {
	MaxEntries            int           `mapstructure:"max_entries"`
	EvictionCheckInterval time.Duration `mapstructure:"eviction_check_interval"`
}

type ScoringConfig struct {
	Model            string        `mapstructure:"model"`
	Threshold        float64       `mapstructure:"threshold"`
	CalibrationScale float64       `mapstructure:"calibration_scale"`
	Timeout          time.Duration `mapstructure:"timeout"`
	TimeoutPolicy    TimeoutPolicy `mapstructure:"timeout_policy"`
	Rules            []RuleConfig  `mapstructure:"rules"`
}

// RuleConfig is one static bound for the rule-based scoring model.
type RuleConfig struct {
	Feature   string  `mapstructure:"feature"`
	Threshold float64 `mapstructure:"threshold"`
}

type AlertingConfig struct {
	QuietPeriod   time.Duration `mapstructure:"quiet_period"`
	RateCeiling   int           `mapstructure:"rate_ceiling"`
	RateWindow    time.Duration `mapstructure:"rate_window"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type CheckpointConfig struct {
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	Retain   int           `mapstructure:"retain"`

	// MaxEvents triggers a checkpoint after this many processed events,
	// independent of the interval. Zero disables the count trigger.
	MaxEvents int `mapstructure:"max_events"`
}

type TransportConfig struct {
	NatsURL      string `mapstructure:"nats_url"`
	InputStream  string `mapstructure:"input_stream"`
	InputSubject string `mapstructure:"input_subject"`
	ScoreSubject string `mapstructure:"score_subject"`
	AlertSubject string `mapstructure:"alert_subject"`
	Durable      string `mapstructure:"durable"`

	// PublishScores mirrors every score result to the score subject, not
	// just anomalous ones.
	PublishScores bool `mapstructure:"publish_scores"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	AlertTTL time.Duration `mapstructure:"alert_ttl"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("lanes.count", 8)
	v.SetDefault("lanes.queue_size", 1024)
	v.SetDefault("lanes.enqueue_timeout", "5s")
	v.SetDefault("window.length", "5m")
	v.SetDefault("window.max_values", 1000)
	v.SetDefault("window.max_lateness", "30s")
	v.SetDefault("cache.max_entries", 100000)
	v.SetDefault("cache.eviction_check_interval", "10s")
	v.SetDefault("scoring.model", "zscore")
	v.SetDefault("scoring.threshold", 0.8)
	v.SetDefault("scoring.calibration_scale", 2.0)
	v.SetDefault("scoring.timeout", "5ms")
	v.SetDefault("scoring.timeout_policy", "skip")
	v.SetDefault("alerting.quiet_period", "5m")
	v.SetDefault("alerting.rate_ceiling", 10)
	v.SetDefault("alerting.rate_window", "1m")
	v.SetDefault("alerting.history_limit", 100)
	v.SetDefault("alerting.sweep_interval", "10s")
	v.SetDefault("checkpoint.dir", "/var/lib/detector/checkpoints")
	v.SetDefault("checkpoint.interval", "30s")
	v.SetDefault("checkpoint.retain", 3)
	v.SetDefault("transport.nats_url", "nats://localhost:4222")
	v.SetDefault("transport.input_stream", "DETECTOR_EVENTS")
	v.SetDefault("transport.input_subject", "detector.events")
	v.SetDefault("transport.score_subject", "detector.scores")
	v.SetDefault("transport.alert_subject", "detector.alerts")
	v.SetDefault("transport.durable", "detector")
	v.SetDefault("transport.publish_scores", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.alert_ttl", "1h")
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/detector")
	}

	// Environment variables override
	v.SetEnvPrefix("DETECTOR")
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration before any processing begins. Errors
// here are fatal at startup; the pipeline never starts on a bad config.
func (c *Config) Validate() error {
	if c.Lanes.Count <= 0 {
		return fmt.Errorf("lanes.count must be positive, got %d", c.Lanes.Count)
	}
	if c.Lanes.QueueSize <= 0 {
		return fmt.Errorf("lanes.queue_size must be positive, got %d", c.Lanes.QueueSize)
	}
	if c.Window.Length <= 0 {
		return fmt.Errorf("window.length must be positive, got %s", c.Window.Length)
	}
	if c.Window.MaxValues <= 0 {
		return fmt.Errorf("window.max_values must be positive, got %d", c.Window.MaxValues)
	}
	if c.Window.MaxLateness < 0 {
		return fmt.Errorf("window.max_lateness must not be negative, got %s", c.Window.MaxLateness)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.EvictionCheckInterval <= 0 {
		return fmt.Errorf("cache.eviction_check_interval must be positive, got %s", c.Cache.EvictionCheckInterval)
	}
	if c.Scoring.Threshold <= 0 || c.Scoring.Threshold > 1 {
		return fmt.Errorf("scoring.threshold must be in (0, 1], got %g", c.Scoring.Threshold)
	}
	if c.Scoring.CalibrationScale <= 0 {
		return fmt.Errorf("scoring.calibration_scale must be positive, got %g", c.Scoring.CalibrationScale)
	}
	switch c.Scoring.TimeoutPolicy {
	case TimeoutSkip, TimeoutFailOpen, TimeoutFailClosed:
	default:
		return fmt.Errorf("scoring.timeout_policy must be one of skip, fail-open, fail-closed, got %q", c.Scoring.TimeoutPolicy)
	}
	if c.Alerting.QuietPeriod <= 0 {
		return fmt.Errorf("alerting.quiet_period must be positive, got %s", c.Alerting.QuietPeriod)
	}
	if c.Alerting.RateCeiling <= 0 {
		return fmt.Errorf("alerting.rate_ceiling must be positive, got %d", c.Alerting.RateCeiling)
	}
	if c.Alerting.RateWindow <= 0 {
		return fmt.Errorf("alerting.rate_window must be positive, got %s", c.Alerting.RateWindow)
	}
	if c.Alerting.HistoryLimit <= 0 {
		return fmt.Errorf("alerting.history_limit must be positive, got %d", c.Alerting.HistoryLimit)
	}
	if c.Alerting.SweepInterval <= 0 {
		return fmt.Errorf("alerting.sweep_interval must be positive, got %s", c.Alerting.SweepInterval)
	}
	if c.Checkpoint.Retain <= 0 {
		return fmt.Errorf("checkpoint.retain must be positive, got %d", c.Checkpoint.Retain)
	}
	if c.Checkpoint.Interval <= 0 {
		return fmt.Errorf("checkpoint.interval must be positive, got %s", c.Checkpoint.Interval)
	}
	return nil
}
