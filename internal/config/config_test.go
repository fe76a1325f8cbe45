package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Queue.Workers != DefaultQueueWorkers {
		t.Errorf("Queue.Workers = %d, want %d", cfg.Queue.Workers, DefaultQueueWorkers)
	}
	if cfg.Queue.Backoff != "exponential" {
		t.Errorf("Queue.Backoff = %q, want exponential", cfg.Queue.Backoff)
	}
	if cfg.Events.Store != "memory" {
		t.Errorf("Events.Store = %q, want memory", cfg.Events.Store)
	}
	if cfg.Events.Retention.DefaultDays != DefaultRetentionDays {
		t.Errorf("Retention.DefaultDays = %d, want %d", cfg.Events.Retention.DefaultDays, DefaultRetentionDays)
	}
	if got := cfg.Events.Retention.ByStatus["DEAD_LETTER"]; got != 30 {
		t.Errorf("Retention.ByStatus[DEAD_LETTER] = %d, want 30", got)
	}
	if cfg.Webhooks.Timeout != DefaultWebhookTimeout {
		t.Errorf("Webhooks.Timeout = %v, want %v", cfg.Webhooks.Timeout, DefaultWebhookTimeout)
	}
	if cfg.Replay.MaxConcurrent != DefaultMaxConcurrentReplays {
		t.Errorf("Replay.MaxConcurrent = %d, want %d", cfg.Replay.MaxConcurrent, DefaultMaxConcurrentReplays)
	}
	if !cfg.Database.WALMode {
		t.Error("Database.WALMode should default to true")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should default to true")
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }, "queue.workers"},
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }, "queue.max_attempts"},
		{"bad backoff", func(c *Config) { c.Queue.Backoff = "fibonacci" }, "queue.backoff"},
		{"negative base delay", func(c *Config) { c.Queue.BaseDelay = -time.Second }, "queue.base_delay"},
		{"bad store", func(c *Config) { c.Events.Store = "postgres" }, "events.store"},
		{"zero retention", func(c *Config) { c.Events.Retention.DefaultDays = 0 }, "events.retention.default_days"},
		{"zero type retention", func(c *Config) { c.Events.Retention.ByType = map[string]int{"a": 0} }, "events.retention.by_type.a"},
		{"zero webhook timeout", func(c *Config) { c.Webhooks.Timeout = 0 }, "webhooks.timeout"},
		{"zero replay concurrency", func(c *Config) { c.Replay.MaxConcurrent = 0 }, "replay.max_concurrent"},
		{"negative rate limit", func(c *Config) { c.Replay.RateLimit = -1 }, "replay.rate_limit"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.S3.Region = "us-east-1" }, "archive.s3.bucket"},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention field %q", err.Error(), tt.field)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Queue.Workers = 0
	cfg.Events.Store = "postgres"
	cfg.Database.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventcore.yaml")

	content := `
queue:
  workers: 8
  backoff: linear
events:
  store: sqlite
  retention:
    default_days: 14
    by_type:
      audit.record: 90
      order.shipped.v2: 30
webhooks:
  max_attempts: 7
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Queue.Workers != 8 {
		t.Errorf("Queue.Workers = %d, want 8", cfg.Queue.Workers)
	}
	if cfg.Queue.Backoff != "linear" {
		t.Errorf("Queue.Backoff = %q, want linear", cfg.Queue.Backoff)
	}
	if cfg.Events.Store != "sqlite" {
		t.Errorf("Events.Store = %q, want sqlite", cfg.Events.Store)
	}
	if cfg.Events.Retention.DefaultDays != 14 {
		t.Errorf("Retention.DefaultDays = %d, want 14", cfg.Events.Retention.DefaultDays)
	}
	if got := cfg.Events.Retention.ByType["audit.record"]; got != 90 {
		t.Errorf("Retention.ByType[audit.record] = %d, want 90", got)
	}
	if got := cfg.Events.Retention.ByType["order.shipped.v2"]; got != 30 {
		t.Errorf("Retention.ByType[order.shipped.v2] = %d, want 30", got)
	}
	if cfg.Webhooks.MaxAttempts != 7 {
		t.Errorf("Webhooks.MaxAttempts = %d, want 7", cfg.Webhooks.MaxAttempts)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}

	// Unset keys keep their defaults.
	if cfg.Replay.MaxConcurrent != DefaultMaxConcurrentReplays {
		t.Errorf("Replay.MaxConcurrent = %d, want default %d", cfg.Replay.MaxConcurrent, DefaultMaxConcurrentReplays)
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventcore.yaml")

	content := `
queue:
  workers: 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(LoadOptions{ConfigFile: path}); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EVENTCORE_QUEUE_WORKERS", "16")
	t.Setenv("EVENTCORE_LOGGING_LEVEL", "warn")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Queue.Workers != 16 {
		t.Errorf("Queue.Workers = %d, want env override 16", cfg.Queue.Workers)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("EVENTCORE_TEST_DB", "/tmp/expanded.db")

	dir := t.TempDir()
	path := filepath.Join(dir, "eventcore.yaml")
	content := `
database:
  path: ${EVENTCORE_TEST_DB}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want expanded env value", cfg.Database.Path)
	}
}

func TestConfigFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ConfigFilePath(path)
	if err != nil {
		t.Fatalf("ConfigFilePath() error: %v", err)
	}
	if got != path {
		t.Errorf("ConfigFilePath() = %q, want %q", got, path)
	}

	if _, err := ConfigFilePath(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}
}
