package config

import "time"

// Default configuration values.
const (
	// Queue defaults.
	DefaultQueueWorkers  = 4
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultMaxAttempts   = 3
	DefaultBackoff       = "exponential"
	DefaultBaseDelay     = 1 * time.Second
	DefaultMaxDelay      = 1 * time.Minute

	// Event log defaults.
	DefaultStore            = "memory"
	DefaultStatusBufferSize = 1000
	DefaultSweepSchedule    = "0 * * * *" // hourly
	DefaultRetentionDays    = 7

	// Webhook defaults.
	DefaultWebhookTimeout    = 30 * time.Second
	DefaultWebhookAttempts   = 5
	DefaultResultHistorySize = 100
	DefaultUserAgent         = "eventcore/1.0"

	// Replay defaults.
	DefaultMaxConcurrentReplays = 5
	DefaultReplayBatchSize      = 100
	DefaultReplayBatchDelay     = 1 * time.Second
	DefaultReplayCleanup        = "30 * * * *"
	DefaultReplayMaxAge         = 24 * time.Hour

	// Database defaults.
	DefaultDBPath       = "eventcore.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Metrics defaults.
	DefaultMetricsHost = "localhost"
	DefaultMetricsPort = 9464

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Workers:      DefaultQueueWorkers,
			PollInterval: DefaultPollInterval,
			MaxAttempts:  DefaultMaxAttempts,
			Backoff:      DefaultBackoff,
			BaseDelay:    DefaultBaseDelay,
			MaxDelay:     DefaultMaxDelay,
		},
		Events: EventsConfig{
			Store:            DefaultStore,
			StatusBufferSize: DefaultStatusBufferSize,
			SweepSchedule:    DefaultSweepSchedule,
			Retention: RetentionConfig{
				DefaultDays: DefaultRetentionDays,
				ByType:      map[string]int{},
				ByStatus: map[string]int{
					// Dead-lettered events are kept longer for triage.
					"DEAD_LETTER": 30,
				},
			},
		},
		Webhooks: WebhooksConfig{
			Timeout:           DefaultWebhookTimeout,
			MaxAttempts:       DefaultWebhookAttempts,
			ResultHistorySize: DefaultResultHistorySize,
			UserAgent:         DefaultUserAgent,
		},
		Replay: ReplayConfig{
			MaxConcurrent:   DefaultMaxConcurrentReplays,
			BatchSize:       DefaultReplayBatchSize,
			BatchDelay:      DefaultReplayBatchDelay,
			CleanupSchedule: DefaultReplayCleanup,
			MaxAge:          DefaultReplayMaxAge,
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 1 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    DefaultMetricsHost,
			Port:    DefaultMetricsPort,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
