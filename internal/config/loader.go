package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingRequired = errors.New("missing required configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	// Event types are dotted (order.created), so "." cannot double as
	// the key delimiter or retention map keys decode as nested maps.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "EVENTCORE"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("eventcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/eventcore")
		v.AddConfigPath("/etc/eventcore")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("queue::workers", cfg.Queue.Workers)
	v.SetDefault("queue::poll_interval", cfg.Queue.PollInterval)
	v.SetDefault("queue::max_attempts", cfg.Queue.MaxAttempts)
	v.SetDefault("queue::backoff", cfg.Queue.Backoff)
	v.SetDefault("queue::base_delay", cfg.Queue.BaseDelay)
	v.SetDefault("queue::max_delay", cfg.Queue.MaxDelay)

	v.SetDefault("events::store", cfg.Events.Store)
	v.SetDefault("events::status_buffer_size", cfg.Events.StatusBufferSize)
	v.SetDefault("events::sweep_schedule", cfg.Events.SweepSchedule)
	v.SetDefault("events::retention::default_days", cfg.Events.Retention.DefaultDays)
	v.SetDefault("events::retention::by_type", cfg.Events.Retention.ByType)
	v.SetDefault("events::retention::by_status", cfg.Events.Retention.ByStatus)

	v.SetDefault("webhooks::timeout", cfg.Webhooks.Timeout)
	v.SetDefault("webhooks::max_attempts", cfg.Webhooks.MaxAttempts)
	v.SetDefault("webhooks::result_history_size", cfg.Webhooks.ResultHistorySize)
	v.SetDefault("webhooks::user_agent", cfg.Webhooks.UserAgent)

	v.SetDefault("replay::max_concurrent", cfg.Replay.MaxConcurrent)
	v.SetDefault("replay::batch_size", cfg.Replay.BatchSize)
	v.SetDefault("replay::batch_delay", cfg.Replay.BatchDelay)
	v.SetDefault("replay::rate_limit", cfg.Replay.RateLimit)
	v.SetDefault("replay::cleanup_schedule", cfg.Replay.CleanupSchedule)
	v.SetDefault("replay::max_age", cfg.Replay.MaxAge)

	v.SetDefault("database::path", cfg.Database.Path)
	v.SetDefault("database::wal_mode", cfg.Database.WALMode)
	v.SetDefault("database::busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database::cache_size", cfg.Database.CacheSize)
	v.SetDefault("database::max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database::max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database::conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("archive::enabled", cfg.Archive.Enabled)
	v.SetDefault("archive::s3::region", cfg.Archive.S3.Region)
	v.SetDefault("archive::s3::bucket", cfg.Archive.S3.Bucket)
	v.SetDefault("archive::s3::prefix", cfg.Archive.S3.Prefix)
	v.SetDefault("archive::s3::endpoint", cfg.Archive.S3.Endpoint)
	v.SetDefault("archive::s3::access_key_id", cfg.Archive.S3.AccessKeyID)
	v.SetDefault("archive::s3::secret_access_key", cfg.Archive.S3.SecretAccessKey)
	v.SetDefault("archive::s3::force_path_style", cfg.Archive.S3.ForcePathStyle)

	v.SetDefault("metrics::enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics::host", cfg.Metrics.Host)
	v.SetDefault("metrics::port", cfg.Metrics.Port)

	v.SetDefault("logging::level", cfg.Logging.Level)
	v.SetDefault("logging::format", cfg.Logging.Format)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"eventcore.yaml",
		"eventcore.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "eventcore", "eventcore.yaml"),
		"/etc/eventcore/eventcore.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
