package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Feed.Symbols = nil
	cfg.Feed.PingIntervalMs = 0
	cfg.Book.MaxLevels = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"at least one symbol",
		"ping_interval_ms",
		"max_levels",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateSkipsFeedInServerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Feed.WsURL = ""
	cfg.Feed.Symbols = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("server mode should not require feed settings: %v", err)
	}
}

func TestValidateQueueWatermark(t *testing.T) {
	cfg := Defaults()
	cfg.Queues.MaxQueueSize = 100
	cfg.Queues.WarnQueueSize = 200
	if err := cfg.Validate(); err == nil {
		t.Fatal("warn_queue_size above max_queue_size should fail")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "ingest"

[feed]
symbols = ["ETHUSDT", "SOLUSDT"]

[book]
max_levels = 25
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "ingest" {
		t.Errorf("mode = %q, want ingest", cfg.Mode)
	}
	if len(cfg.Feed.Symbols) != 2 || cfg.Feed.Symbols[0] != "ETHUSDT" {
		t.Errorf("symbols = %v", cfg.Feed.Symbols)
	}
	if cfg.Book.MaxLevels != 25 {
		t.Errorf("max_levels = %d, want 25", cfg.Book.MaxLevels)
	}
	// Untouched sections keep their defaults.
	if cfg.Writer.MaxBatchRows != 1000 {
		t.Errorf("writer max_batch_rows = %d, want default 1000", cfg.Writer.MaxBatchRows)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("mode = \"full\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WALLWATCH_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("WALLWATCH_FEED_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("WALLWATCH_BOOK_MAX_LEVELS", "10")
	t.Setenv("WALLWATCH_WRITER_COMPRESSION_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("password override not applied")
	}
	if len(cfg.Feed.Symbols) != 2 || cfg.Feed.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols = %v", cfg.Feed.Symbols)
	}
	if cfg.Book.MaxLevels != 10 {
		t.Errorf("max_levels = %d, want 10", cfg.Book.MaxLevels)
	}
	if cfg.Writer.CompressionEnabled {
		t.Error("compression override not applied")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	if got := cfg.Feed.PingInterval().Seconds(); got != 20 {
		t.Errorf("ping interval = %vs, want 20s", got)
	}
	if got := cfg.Tracker.SpoofingThreshold().Seconds(); got != 5 {
		t.Errorf("spoofing threshold = %vs, want 5s", got)
	}
	if got := cfg.Redis.CacheTTL().Seconds(); got != 120 {
		t.Errorf("cache ttl = %vs, want 120s", got)
	}
}
