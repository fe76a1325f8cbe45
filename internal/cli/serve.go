package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vantagehq/eventcore/internal/config"
	"github.com/vantagehq/eventcore/internal/database"
	"github.com/vantagehq/eventcore/internal/events"
	"github.com/vantagehq/eventcore/internal/metrics"
	"github.com/vantagehq/eventcore/internal/queue"
	"github.com/vantagehq/eventcore/internal/webhooks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event backbone service",
	Long: `Start the eventcore service.

The service will:
  - Start queue workers for the events and webhooks queues
  - Schedule the event log retention sweep
  - Schedule replay result cleanup
  - Watch the config file and hot-reload the retention policy
  - Expose Prometheus metrics when enabled`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Service holds the wired components for a running eventcore instance.
type Service struct {
	Config    *config.Config
	Queue     *queue.Memory
	Log       *events.Log
	Registry  *events.Registry
	Publisher *events.Publisher
	Processor *events.Processor
	Deliverer *webhooks.Deliverer
	Replay    *events.ReplayManager

	db      *database.DB
	cron    *cron.Cron
	watcher *config.Watcher
	metrics *http.Server
}

// NewService wires every component from configuration. Start must be
// called before the service processes jobs.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	svc := &Service{Config: cfg}

	store, err := svc.openStore(cfg)
	if err != nil {
		return nil, err
	}

	policy := retentionPolicy(&cfg.Events.Retention)

	var logOpts []events.LogOption
	if cfg.Archive.Enabled {
		archiver, err := events.NewS3Archiver(ctx, cfg.Archive.S3)
		if err != nil {
			return nil, fmt.Errorf("creating archiver: %w", err)
		}
		logOpts = append(logOpts, events.WithArchiver(archiver))
	}
	svc.Log = events.NewLog(store, policy, logOpts...)

	svc.Registry, err = events.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	defaultPolicy := queue.RetryPolicy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffKind: cfg.Queue.Backoff,
		BaseDelay:   cfg.Queue.BaseDelay,
		MaxDelay:    cfg.Queue.MaxDelay,
	}
	svc.Queue = queue.NewMemory(queue.MemoryConfig{
		Workers:       cfg.Queue.Workers,
		PollInterval:  cfg.Queue.PollInterval,
		DefaultPolicy: defaultPolicy,
	})

	svc.Publisher = events.NewPublisher(svc.Queue, events.PublisherConfig{
		StatusBufferSize: cfg.Events.StatusBufferSize,
		MaxAttempts:      cfg.Queue.MaxAttempts,
		Policy:           defaultPolicy,
	})

	svc.Processor = events.NewProcessor(svc.Log, svc.Registry, events.ProcessorConfig{})
	svc.Processor.Register(svc.Queue)

	svc.Deliverer = webhooks.NewDeliverer(webhooks.DelivererConfig{
		Timeout:           cfg.Webhooks.Timeout,
		ResultHistorySize: cfg.Webhooks.ResultHistorySize,
		UserAgent:         cfg.Webhooks.UserAgent,
	})
	webhooks.NewProcessor(svc.Deliverer).Register(svc.Queue)

	svc.Replay = events.NewReplayManager(svc.Log, svc.Publisher, events.ReplayManagerConfig{
		MaxConcurrent: cfg.Replay.MaxConcurrent,
		BatchSize:     cfg.Replay.BatchSize,
		BatchDelay:    cfg.Replay.BatchDelay,
		RateLimit:     cfg.Replay.RateLimit,
	})

	return svc, nil
}

func (s *Service) openStore(cfg *config.Config) (events.Store, error) {
	switch cfg.Events.Store {
	case "", "memory":
		return events.NewMemoryStore(), nil
	case "sqlite":
		db, err := database.Open(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.db = db
		return events.NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("unknown event store: %s", cfg.Events.Store)
	}
}

// Start begins queue processing and the scheduled background jobs.
func (s *Service) Start(ctx context.Context) error {
	s.Queue.Start()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Config.Events.SweepSchedule, func() {
		removed, err := s.Log.Sweep(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("Retention sweep failed")
			return
		}
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("Retention sweep complete")
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}

	if _, err := s.cron.AddFunc(s.Config.Replay.CleanupSchedule, func() {
		if removed := s.Replay.CleanupOldReplays(s.Config.Replay.MaxAge); removed > 0 {
			log.Info().Int("removed", removed).Msg("Cleaned up old replay results")
		}
	}); err != nil {
		return fmt.Errorf("scheduling replay cleanup: %w", err)
	}
	s.cron.Start()

	if s.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metrics = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", s.Config.Metrics.Host, s.Config.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", s.metrics.Addr).Msg("Metrics listener started")
			if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	return nil
}

// WatchConfig hot-reloads the retention policy when the config file
// changes. Other settings require a restart.
func (s *Service) WatchConfig(path string) error {
	watcher, err := config.NewWatcher(path, config.LoadOptions{ConfigFile: path}, func(cfg *config.Config) {
		s.Log.SetRetentionPolicy(retentionPolicy(&cfg.Events.Retention))
		log.Info().Msg("Retention policy reloaded")
	})
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	s.watcher = watcher
	return nil
}

// Stop shuts the service down in dependency order: stop intake, wait
// for replays, then release resources.
func (s *Service) Stop(ctx context.Context) {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.Queue.Stop()
	s.Replay.Wait()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics listener shutdown failed")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing database failed")
		}
	}
}

func retentionPolicy(cfg *config.RetentionConfig) events.RetentionPolicy {
	byStatus := make(map[events.Status]int, len(cfg.ByStatus))
	for status, days := range cfg.ByStatus {
		// Viper lowercases map keys; statuses are uppercase.
		byStatus[events.Status(strings.ToUpper(status))] = days
	}
	return events.RetentionPolicy{
		DefaultDays: cfg.DefaultDays,
		ByType:      cfg.ByType,
		ByStatus:    byStatus,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyLogging(&cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := NewService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring service: %w", err)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	if path, err := config.ConfigFilePath(cfgFile); err == nil {
		if err := svc.WatchConfig(path); err != nil {
			log.Warn().Err(err).Msg("Config watching disabled")
		}
	}

	log.Info().
		Str("store", cfg.Events.Store).
		Int("workers", cfg.Queue.Workers).
		Msg("Eventcore started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.Stop(shutdownCtx)

	return nil
}

// applyLogging applies the config-file log settings over the CLI
// defaults set in PersistentPreRun.
func applyLogging(cfg *config.LoggingConfig) {
	if verbose {
		return
	}

	if level, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
