package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	// DatabaseURL is the default/primary database. DatabaseShardURLs, when
	// set, is a comma-separated list of additional DSNs routed to by
	// internal/routing — e.g. "tenant-a=postgres://...,tenant-b=postgres://...".
	DatabaseURL       string `env:"DATABASE_URL,required" validate:"required"`
	DatabaseShardURLs string `env:"DATABASE_SHARD_URLS"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	OutboxPollIntervalSec int `env:"OUTBOX_POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	OutboxBatchSize       int `env:"OUTBOX_BATCH_SIZE" envDefault:"50" validate:"min=1,max=1000"`
	OutboxLeaseSec        int `env:"OUTBOX_LEASE_SEC" envDefault:"30" validate:"min=1,max=3600"`

	InboxPollIntervalSec int `env:"INBOX_POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	InboxBatchSize       int `env:"INBOX_BATCH_SIZE" envDefault:"50" validate:"min=1,max=1000"`
	InboxLeaseSec        int `env:"INBOX_LEASE_SEC" envDefault:"30" validate:"min=1,max=3600"`

	SchedulerLeaderIntervalSec int `env:"SCHEDULER_LEADER_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=300"`
	RunWorkerPollIntervalSec  int `env:"RUN_WORKER_POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	RunWorkerBatchSize        int `env:"RUN_WORKER_BATCH_SIZE" envDefault:"50" validate:"min=1,max=1000"`
	RunWorkerLeaseSec         int `env:"RUN_WORKER_LEASE_SEC" envDefault:"30" validate:"min=1,max=3600"`

	FanoutTickIntervalSec int `env:"FANOUT_TICK_INTERVAL_SEC" envDefault:"10" validate:"min=1,max=600"`

	ReaperIntervalSec int `env:"REAPER_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=3600"`
	ReaperBatchSize   int `env:"REAPER_BATCH_SIZE" envDefault:"100" validate:"min=1,max=10000"`

	LeaseDurationSec int `env:"LEASE_DURATION_SEC" envDefault:"15" validate:"min=1,max=3600"`

	WatchdogIntervalSec int `env:"WATCHDOG_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=3600"`

	WebhookHMACSecret string `env:"WEBHOOK_HMAC_SECRET"`
	WebhookHeaderName string `env:"WEBHOOK_HEADER_NAME" envDefault:"X-Signature"`

	// ClerkJWKSURL is the JWKS endpoint for RS256 admin-API token verification.
	// When set, it takes precedence over JWTSecret.
	ClerkJWKSURL string `env:"CLERK_JWKS_URL"`

	// JWTSecret is kept for local dev / migration period.
	JWTSecret string `env:"JWT_SECRET"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	AlertEmailTo string `env:"ALERT_EMAIL_TO"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ShardDSN is one named entry of DATABASE_SHARD_URLS.
type ShardDSN struct {
	Name string
	DSN  string
}

// Shards parses DatabaseShardURLs ("name=dsn,name=dsn") into ShardDSN
// entries. Returns nil if unset.
func (c *Config) Shards() ([]ShardDSN, error) {
	if c.DatabaseShardURLs == "" {
		return nil, nil
	}
	var out []ShardDSN
	for _, entry := range strings.Split(c.DatabaseShardURLs, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, dsn, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid shard entry %q, expected name=dsn", entry)
		}
		out = append(out, ShardDSN{Name: name, DSN: dsn})
	}
	return out, nil
}
