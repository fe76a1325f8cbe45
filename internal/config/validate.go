package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateWebhooks(&cfg.Webhooks)...)
	errs = append(errs, validateReplay(&cfg.Replay)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateQueue(cfg *QueueConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Workers < 1 {
		errs = append(errs, ValidationError{
			Field:   "queue.workers",
			Message: "must be at least 1",
		})
	}

	if cfg.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "queue.max_attempts",
			Message: "must be at least 1",
		})
	}

	switch cfg.Backoff {
	case "constant", "linear", "exponential", "exponential_jitter":
	default:
		errs = append(errs, ValidationError{
			Field:   "queue.backoff",
			Message: "must be one of constant, linear, exponential, exponential_jitter",
		})
	}

	if cfg.BaseDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "queue.base_delay",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateEvents(cfg *EventsConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Store {
	case "memory", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field:   "events.store",
			Message: "must be memory or sqlite",
		})
	}

	if cfg.StatusBufferSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "events.status_buffer_size",
			Message: "must be at least 1",
		})
	}

	if cfg.Retention.DefaultDays < 1 {
		errs = append(errs, ValidationError{
			Field:   "events.retention.default_days",
			Message: "must be at least 1",
		})
	}

	for typ, days := range cfg.Retention.ByType {
		if days < 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events.retention.by_type.%s", typ),
				Message: "must be at least 1",
			})
		}
	}

	for status, days := range cfg.Retention.ByStatus {
		if days < 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events.retention.by_status.%s", status),
				Message: "must be at least 1",
			})
		}
	}

	return errs
}

func validateWebhooks(cfg *WebhooksConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "webhooks.timeout",
			Message: "must be positive",
		})
	}

	if cfg.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "webhooks.max_attempts",
			Message: "must be at least 1",
		})
	}

	if cfg.ResultHistorySize < 1 {
		errs = append(errs, ValidationError{
			Field:   "webhooks.result_history_size",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateReplay(cfg *ReplayConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.MaxConcurrent < 1 {
		errs = append(errs, ValidationError{
			Field:   "replay.max_concurrent",
			Message: "must be at least 1",
		})
	}

	if cfg.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "replay.batch_size",
			Message: "must be at least 1",
		})
	}

	if cfg.BatchDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "replay.batch_delay",
			Message: "must be non-negative",
		})
	}

	if cfg.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "replay.rate_limit",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "must not be empty",
		})
	}

	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateArchive(cfg *ArchiveConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return nil
	}

	if cfg.S3.Region == "" {
		errs = append(errs, ValidationError{
			Field:   "archive.s3.region",
			Message: "required when archive is enabled",
		})
	}

	if cfg.S3.Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "archive.s3.bucket",
			Message: "required when archive is enabled",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && (cfg.Port < 1 || cfg.Port > 65535) {
		errs = append(errs, ValidationError{
			Field:   "metrics.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be a valid log level",
		})
	}

	switch cfg.Format {
	case "console", "json", "":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be console or json",
		})
	}

	return errs
}
