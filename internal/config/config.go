// Package config defines the top-level configuration for wallwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLWATCH_* environment variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Book     BookConfig     `toml:"book"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Queues   QueueConfig    `toml:"queues"`
	Writer   WriterConfig   `toml:"writer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig holds the exchange feed endpoint, subscriptions, and
// connection-lifecycle parameters.
type FeedConfig struct {
	WsURL                string   `toml:"ws_url"`
	Symbols              []string `toml:"symbols"`
	Timeframes           []string `toml:"timeframes"`
	PingIntervalMs       int      `toml:"ping_interval_ms"`
	ReconnectBaseDelayMs int      `toml:"reconnect_base_delay_ms"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	SampleIntervalMs     int      `toml:"sample_interval_ms"`
}

// PingInterval returns the heartbeat send interval.
func (f FeedConfig) PingInterval() time.Duration {
	return time.Duration(f.PingIntervalMs) * time.Millisecond
}

// ReconnectBaseDelay returns the base delay for linear reconnect backoff.
func (f FeedConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(f.ReconnectBaseDelayMs) * time.Millisecond
}

// SampleInterval returns the order-book sampling interval.
func (f FeedConfig) SampleInterval() time.Duration {
	return time.Duration(f.SampleIntervalMs) * time.Millisecond
}

// BookConfig holds per-symbol replica bounds.
type BookConfig struct {
	MaxLevels            int `toml:"max_levels"`
	StalenessThresholdMs int `toml:"staleness_threshold_ms"`
}

// StalenessThreshold returns how old the replica may be before reads return nothing.
func (b BookConfig) StalenessThreshold() time.Duration {
	return time.Duration(b.StalenessThresholdMs) * time.Millisecond
}

// TrackerConfig holds wall-analytics thresholds.
type TrackerConfig struct {
	SpoofingThresholdMs     int     `toml:"spoofing_threshold_ms"`
	MinLifetimeMs           int     `toml:"min_lifetime_ms"`
	MinRefillsForIceberg    int     `toml:"min_refills_for_iceberg"`
	ClusterProximityPercent float64 `toml:"cluster_proximity_percent"`
	ClusterMinWalls         int     `toml:"cluster_min_walls"`
	HistoryCapacity         int     `toml:"history_capacity"`
}

// SpoofingThreshold returns the maximum lifetime below which a removed wall is
// classified as spoofing.
func (t TrackerConfig) SpoofingThreshold() time.Duration {
	return time.Duration(t.SpoofingThresholdMs) * time.Millisecond
}

// MinLifetime returns the minimum lifetime for a wall to count as real.
func (t TrackerConfig) MinLifetime() time.Duration {
	return time.Duration(t.MinLifetimeMs) * time.Millisecond
}

// QueueConfig holds the capacities shared by the three bounded ingestion
// queues.
type QueueConfig struct {
	MaxQueueSize  int `toml:"max_queue_size"`
	WarnQueueSize int `toml:"warn_queue_size"`
}

// WriterConfig holds batch persistence parameters.
type WriterConfig struct {
	BatchIntervalMs    int  `toml:"batch_interval_ms"`
	MaxBatchRows       int  `toml:"max_batch_rows"`
	CompressionEnabled bool `toml:"compression_enabled"`
}

// BatchInterval returns the drain-and-write cadence.
func (w WriterConfig) BatchInterval() time.Duration {
	return time.Duration(w.BatchIntervalMs) * time.Millisecond
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the latest-book cache.
type RedisConfig struct {
	Enabled     bool   `toml:"enabled"`
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	PoolSize    int    `toml:"pool_size"`
	MaxRetries  int    `toml:"max_retries"`
	TLSEnabled  bool   `toml:"tls_enabled"`
	CacheTTLSec int    `toml:"cache_ttl_sec"`
}

// CacheTTL returns the expiry applied to cached book snapshots.
func (r RedisConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSec) * time.Second
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	IntervalHours int  `toml:"interval_hours"`
}

// Interval returns the archival sweep cadence.
func (a ArchiveConfig) Interval() time.Duration {
	return time.Duration(a.IntervalHours) * time.Hour
}

// ServerConfig holds HTTP read-API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			WsURL:                "wss://stream.deriva.example/v5/public",
			Symbols:              []string{"BTCUSDT"},
			Timeframes:           []string{"1m"},
			PingIntervalMs:       20_000,
			ReconnectBaseDelayMs: 2_000,
			MaxReconnectAttempts: 10,
			SampleIntervalMs:     5_000,
		},
		Book: BookConfig{
			MaxLevels:            50,
			StalenessThresholdMs: 60_000,
		},
		Tracker: TrackerConfig{
			SpoofingThresholdMs:     5_000,
			MinLifetimeMs:           30_000,
			MinRefillsForIceberg:    3,
			ClusterProximityPercent: 0.5,
			ClusterMinWalls:         2,
			HistoryCapacity:         1_000,
		},
		Queues: QueueConfig{
			MaxQueueSize:  10_000,
			WarnQueueSize: 5_000,
		},
		Writer: WriterConfig{
			BatchIntervalMs:    5_000,
			MaxBatchRows:       1_000,
			CompressionEnabled: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wallwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    20,
			MaxRetries:  3,
			TLSEnabled:  false,
			CacheTTLSec: 120,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wallwatch-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8060,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"reconnect_given_up", "persist_failure"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest": true,
	"full":   true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, full, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsFeed := c.Mode == "ingest" || c.Mode == "full"
	if needsFeed {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty")
		}
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: at least one symbol is required")
		}
		if c.Feed.PingIntervalMs <= 0 {
			errs = append(errs, "feed: ping_interval_ms must be > 0")
		}
		if c.Feed.ReconnectBaseDelayMs <= 0 {
			errs = append(errs, "feed: reconnect_base_delay_ms must be > 0")
		}
		if c.Feed.MaxReconnectAttempts < 1 {
			errs = append(errs, "feed: max_reconnect_attempts must be >= 1")
		}
		if c.Feed.SampleIntervalMs <= 0 {
			errs = append(errs, "feed: sample_interval_ms must be > 0")
		}
	}

	if c.Book.MaxLevels < 1 {
		errs = append(errs, "book: max_levels must be >= 1")
	}
	if c.Book.StalenessThresholdMs <= 0 {
		errs = append(errs, "book: staleness_threshold_ms must be > 0")
	}

	if c.Tracker.SpoofingThresholdMs <= 0 {
		errs = append(errs, "tracker: spoofing_threshold_ms must be > 0")
	}
	if c.Tracker.MinLifetimeMs <= 0 {
		errs = append(errs, "tracker: min_lifetime_ms must be > 0")
	}
	if c.Tracker.MinRefillsForIceberg < 1 {
		errs = append(errs, "tracker: min_refills_for_iceberg must be >= 1")
	}
	if c.Tracker.ClusterProximityPercent <= 0 {
		errs = append(errs, "tracker: cluster_proximity_percent must be > 0")
	}
	if c.Tracker.ClusterMinWalls < 1 {
		errs = append(errs, "tracker: cluster_min_walls must be >= 1")
	}
	if c.Tracker.HistoryCapacity < 1 {
		errs = append(errs, "tracker: history_capacity must be >= 1")
	}

	if c.Queues.MaxQueueSize < 1 {
		errs = append(errs, "queues: max_queue_size must be >= 1")
	}
	if c.Queues.WarnQueueSize < 0 || c.Queues.WarnQueueSize > c.Queues.MaxQueueSize {
		errs = append(errs, "queues: warn_queue_size must be between 0 and max_queue_size")
	}

	if c.Writer.BatchIntervalMs <= 0 {
		errs = append(errs, "writer: batch_interval_ms must be > 0")
	}
	if c.Writer.MaxBatchRows < 1 {
		errs = append(errs, "writer: max_batch_rows must be >= 1")
	}

	needsPostgres := c.Mode == "ingest" || c.Mode == "full"
	if needsPostgres && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Enabled || c.Mode == "server" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.IntervalHours < 1 {
			errs = append(errs, "archive: interval_hours must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
