// Package config provides configuration management for eventcore.
package config

import (
	"time"
)

// Config is the root configuration structure for eventcore.
type Config struct {
	Queue    QueueConfig    `mapstructure:"queue"`
	Events   EventsConfig   `mapstructure:"events"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// QueueConfig holds settings for the in-process durable queue.
type QueueConfig struct {
	// Workers is the number of concurrent worker goroutines per queue.
	Workers int `mapstructure:"workers"`

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxAttempts is the default retry budget per job.
	MaxAttempts int `mapstructure:"max_attempts"`

	// Backoff selects the retry delay strategy
	// (constant, linear, exponential, exponential_jitter).
	Backoff string `mapstructure:"backoff"`

	// BaseDelay is the initial retry delay.
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// MaxDelay caps the retry delay for growing strategies.
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// EventsConfig holds settings for the event log and publisher.
type EventsConfig struct {
	// Store selects the event log backend ("memory" or "sqlite").
	Store string `mapstructure:"store"`

	// StatusBufferSize bounds the publisher's in-memory status cache.
	StatusBufferSize int `mapstructure:"status_buffer_size"`

	// SweepSchedule is a cron expression for the retention sweep.
	SweepSchedule string `mapstructure:"sweep_schedule"`

	// Retention controls how long log entries are kept.
	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig defines log-entry expiry. A status-specific value
// overrides a type-specific value, which overrides the default.
type RetentionConfig struct {
	// DefaultDays is the tenant-wide default retention.
	DefaultDays int `mapstructure:"default_days"`

	// ByType maps event types to retention days.
	ByType map[string]int `mapstructure:"by_type"`

	// ByStatus maps delivery statuses to retention days.
	ByStatus map[string]int `mapstructure:"by_status"`
}

// WebhooksConfig holds settings for outbound webhook delivery.
type WebhooksConfig struct {
	// Timeout is the default HTTP timeout when the destination does
	// not specify one.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxAttempts is the default retry budget for a webhook job.
	MaxAttempts int `mapstructure:"max_attempts"`

	// ResultHistorySize bounds the per-event delivery result history.
	ResultHistorySize int `mapstructure:"result_history_size"`

	// UserAgent is sent on outbound requests.
	UserAgent string `mapstructure:"user_agent"`
}

// ReplayConfig holds settings for historical event replay.
type ReplayConfig struct {
	// MaxConcurrent caps the number of in-progress replay runs.
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// BatchSize is the default number of entries per replay batch.
	BatchSize int `mapstructure:"batch_size"`

	// BatchDelay is the default pause between batches.
	BatchDelay time.Duration `mapstructure:"batch_delay"`

	// RateLimit is the maximum sustained republish rate in events per
	// second across a single run. Zero disables rate limiting.
	RateLimit float64 `mapstructure:"rate_limit"`

	// CleanupSchedule is a cron expression for evicting finished runs.
	CleanupSchedule string `mapstructure:"cleanup_schedule"`

	// MaxAge is how long finished replay results are kept.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// DatabaseConfig holds SQLite settings for the durable event log store.
type DatabaseConfig struct {
	// Path to the SQLite database file.
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended).
	WALMode bool `mapstructure:"wal_mode"`

	// BusyTimeout for locked database retries.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// CacheSize in pages (negative = KB).
	CacheSize int `mapstructure:"cache_size"`

	// Connection pool settings.
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ArchiveConfig holds settings for archiving expired log entries.
type ArchiveConfig struct {
	// Enabled turns on archival before retention deletion.
	Enabled bool `mapstructure:"enabled"`

	// S3 is the archive destination.
	S3 S3Config `mapstructure:"s3"`
}

// S3Config holds S3 credentials and location for the archive sink.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// MetricsConfig holds settings for the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns on the /metrics HTTP listener.
	Enabled bool `mapstructure:"enabled"`

	// Host to bind the metrics listener to.
	Host string `mapstructure:"host"`

	// Port to listen on.
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}
