package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WALLWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "WALLWATCH_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "WALLWATCH_FEED_SYMBOLS")
	setStringSlice(&cfg.Feed.Timeframes, "WALLWATCH_FEED_TIMEFRAMES")
	setInt(&cfg.Feed.PingIntervalMs, "WALLWATCH_FEED_PING_INTERVAL_MS")
	setInt(&cfg.Feed.ReconnectBaseDelayMs, "WALLWATCH_FEED_RECONNECT_BASE_DELAY_MS")
	setInt(&cfg.Feed.MaxReconnectAttempts, "WALLWATCH_FEED_MAX_RECONNECT_ATTEMPTS")
	setInt(&cfg.Feed.SampleIntervalMs, "WALLWATCH_FEED_SAMPLE_INTERVAL_MS")

	// ── Book ──
	setInt(&cfg.Book.MaxLevels, "WALLWATCH_BOOK_MAX_LEVELS")
	setInt(&cfg.Book.StalenessThresholdMs, "WALLWATCH_BOOK_STALENESS_THRESHOLD_MS")

	// ── Tracker ──
	setInt(&cfg.Tracker.SpoofingThresholdMs, "WALLWATCH_TRACKER_SPOOFING_THRESHOLD_MS")
	setInt(&cfg.Tracker.MinLifetimeMs, "WALLWATCH_TRACKER_MIN_LIFETIME_MS")
	setInt(&cfg.Tracker.MinRefillsForIceberg, "WALLWATCH_TRACKER_MIN_REFILLS_FOR_ICEBERG")
	setFloat64(&cfg.Tracker.ClusterProximityPercent, "WALLWATCH_TRACKER_CLUSTER_PROXIMITY_PERCENT")
	setInt(&cfg.Tracker.ClusterMinWalls, "WALLWATCH_TRACKER_CLUSTER_MIN_WALLS")
	setInt(&cfg.Tracker.HistoryCapacity, "WALLWATCH_TRACKER_HISTORY_CAPACITY")

	// ── Queues ──
	setInt(&cfg.Queues.MaxQueueSize, "WALLWATCH_QUEUES_MAX_QUEUE_SIZE")
	setInt(&cfg.Queues.WarnQueueSize, "WALLWATCH_QUEUES_WARN_QUEUE_SIZE")

	// ── Writer ──
	setInt(&cfg.Writer.BatchIntervalMs, "WALLWATCH_WRITER_BATCH_INTERVAL_MS")
	setInt(&cfg.Writer.MaxBatchRows, "WALLWATCH_WRITER_MAX_BATCH_ROWS")
	setBool(&cfg.Writer.CompressionEnabled, "WALLWATCH_WRITER_COMPRESSION_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WALLWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WALLWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WALLWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WALLWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WALLWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WALLWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WALLWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WALLWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WALLWATCH_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLSec, "WALLWATCH_REDIS_CACHE_TTL_SEC")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WALLWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALLWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALLWATCH_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WALLWATCH_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "WALLWATCH_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.IntervalHours, "WALLWATCH_ARCHIVE_INTERVAL_HOURS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WALLWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WALLWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WALLWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WALLWATCH_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WALLWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WALLWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WALLWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WALLWATCH_MODE")
	setStr(&cfg.LogLevel, "WALLWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
