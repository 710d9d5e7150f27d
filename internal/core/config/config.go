package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for EcoLedger.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Token        TokenConfig        `koanf:"token"`
	Redemption   RedemptionConfig   `koanf:"redemption"`
	Pricing      PricingConfig      `koanf:"pricing"`
	Aggregation  AggregationConfig  `koanf:"aggregation"`
	Notification NotificationConfig `koanf:"notification"`
	Query        QueryConfig        `koanf:"query"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

// DatabaseConfig holds the event-store connection settings.
type DatabaseConfig struct {
	DSN              string `koanf:"dsn"`
	MaxOpenConns     int    `koanf:"max_open_conns"`
	MaxIdleConns     int    `koanf:"max_idle_conns"`
	AutoMigrate      bool   `koanf:"auto_migrate"`
	FeedPollInterval string `koanf:"feed_poll_interval"` // change-feed polling cadence
}

// TokenConfig holds redemption-token lifecycle settings.
type TokenConfig struct {
	TTL string `koanf:"ttl"` // validity window, e.g. "30m"
}

// RedemptionConfig holds the conflict-retry budget for the redeem path.
// Only transaction conflicts are retried; validation failures never are.
type RedemptionConfig struct {
	MaxRetries int    `koanf:"max_retries"`
	Backoff    string `koanf:"backoff"` // base backoff between attempts
}

// PricingConfig points at the per-category rate files.
type PricingConfig struct {
	RatesDir string `koanf:"rates_dir"`
}

// AggregationConfig holds settings for the statistic families.
type AggregationConfig struct {
	WindowMonths    int `koanf:"window_months"`    // trailing monthly window
	LeaderboardSize int `koanf:"leaderboard_size"` // top-N size
	ChannelBuffer   int `koanf:"channel_buffer"`   // per-family feed buffer
}

// NotificationConfig holds dispatcher settings.
type NotificationConfig struct {
	RecencyWindow    string `koanf:"recency_window"`    // suppress older records
	CoalesceInterval string `koanf:"coalesce_interval"` // batch window per emit
}

// QueryConfig holds snapshot-read settings.
type QueryConfig struct {
	WarmupTimeout string `koanf:"warmup_timeout"` // bounded wait for Live
}

// Duration helpers with defaults: config keeps the raw strings so the YAML
// stays human-readable; callers take parsed values from here.

func (c TokenConfig) TTLDuration() (time.Duration, error) {
	return parseDurationDefault(c.TTL, 30*time.Minute)
}

func (c RedemptionConfig) BackoffDuration() (time.Duration, error) {
	return parseDurationDefault(c.Backoff, 25*time.Millisecond)
}

func (c DatabaseConfig) FeedPollDuration() (time.Duration, error) {
	return parseDurationDefault(c.FeedPollInterval, 500*time.Millisecond)
}

func (c NotificationConfig) RecencyWindowDuration() (time.Duration, error) {
	return parseDurationDefault(c.RecencyWindow, 5*time.Minute)
}

func (c NotificationConfig) CoalesceIntervalDuration() (time.Duration, error) {
	return parseDurationDefault(c.CoalesceInterval, 2*time.Second)
}

func (c QueryConfig) WarmupTimeoutDuration() (time.Duration, error) {
	return parseDurationDefault(c.WarmupTimeout, 3*time.Second)
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// Load reads configuration from defaults, the given YAML file, and
// ECOLEDGER_-prefixed environment variables, in increasing precedence.
// ECOLEDGER_SERVER__PORT=9090 overrides server.port.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_mb":        1,
		"server.mode":                    "release",
		"database.dsn":                   "postgres://localhost:5432/ecoledger?sslmode=disable",
		"database.max_open_conns":        25,
		"database.max_idle_conns":        25,
		"database.auto_migrate":          true,
		"database.feed_poll_interval":    "500ms",
		"token.ttl":                      "30m",
		"redemption.max_retries":         3,
		"redemption.backoff":             "25ms",
		"pricing.rates_dir":              "./config/rates",
		"aggregation.window_months":      6,
		"aggregation.leaderboard_size":   10,
		"aggregation.channel_buffer":     1024,
		"notification.recency_window":    "5m",
		"notification.coalesce_interval": "2s",
		"query.warmup_timeout":           "3s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("ECOLEDGER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ECOLEDGER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Aggregation.WindowMonths <= 0 {
		return fmt.Errorf("aggregation.window_months must be positive, got %d", c.Aggregation.WindowMonths)
	}
	if c.Aggregation.LeaderboardSize <= 0 {
		return fmt.Errorf("aggregation.leaderboard_size must be positive, got %d", c.Aggregation.LeaderboardSize)
	}
	if c.Redemption.MaxRetries < 0 {
		return fmt.Errorf("redemption.max_retries must be non-negative, got %d", c.Redemption.MaxRetries)
	}
	// Parse every duration once so a bad value fails at startup.
	durations := []func() (time.Duration, error){
		c.Token.TTLDuration,
		c.Redemption.BackoffDuration,
		c.Database.FeedPollDuration,
		c.Notification.RecencyWindowDuration,
		c.Notification.CoalesceIntervalDuration,
		c.Query.WarmupTimeoutDuration,
	}
	for _, parse := range durations {
		if _, err := parse(); err != nil {
			return err
		}
	}
	return nil
}
