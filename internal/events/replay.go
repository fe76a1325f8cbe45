package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/vantagehq/eventcore/internal/metrics"
)

// ReplayStatus is the lifecycle state of a replay run.
type ReplayStatus string

const (
	ReplayPending    ReplayStatus = "pending"
	ReplayInProgress ReplayStatus = "in_progress"
	ReplayCompleted  ReplayStatus = "completed"
	ReplayCancelled  ReplayStatus = "cancelled"
	ReplayFailed     ReplayStatus = "failed"
)

var (
	ErrMaxConcurrentReplays = errors.New("maximum concurrent replays reached")
	ErrReplayNotFound       = errors.New("replay not found")
)

// ReplayRequest describes a replay window. Optional fields narrow the
// candidate set.
type ReplayRequest struct {
	TenantID   string
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []string
	Filter     *ReplayFilter

	// BatchSize and DelayBetweenBatches default from the manager
	// config when zero.
	BatchSize           int
	DelayBetweenBatches time.Duration
}

// ReplayFilter is the in-memory narrowing applied after the log query.
type ReplayFilter struct {
	Sources  []string
	Metadata map[string]string
}

// ReplayResult is the pollable state of one replay run.
type ReplayResult struct {
	RequestID      string
	TenantID       string
	Status         ReplayStatus
	TotalEvents    int
	ReplayedEvents int
	FailedEvents   int
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          string
}

// ReplayManagerConfig holds configuration for a ReplayManager.
type ReplayManagerConfig struct {
	// MaxConcurrent caps in-progress runs (default: 5).
	MaxConcurrent int

	// BatchSize is the default entries per batch (default: 100).
	BatchSize int

	// BatchDelay is the default inter-batch pause (default: 1s).
	BatchDelay time.Duration

	// RateLimit is the maximum sustained republish rate in events per
	// second per run. Zero disables rate limiting.
	RateLimit float64
}

// ReplayManager re-publishes historical DELIVERED log entries through
// the publisher. Runs execute in the background; callers poll results
// by request id. Cancellation is cooperative, checked at batch
// boundaries.
type ReplayManager struct {
	log       *Log
	publisher *Publisher
	cfg       ReplayManagerConfig

	mu       sync.Mutex
	results  map[string]*ReplayResult
	inFlight int

	wg sync.WaitGroup
}

// NewReplayManager creates a ReplayManager.
func NewReplayManager(eventLog *Log, publisher *Publisher, cfg ReplayManagerConfig) *ReplayManager {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = time.Second
	}

	return &ReplayManager{
		log:       eventLog,
		publisher: publisher,
		cfg:       cfg,
		results:   make(map[string]*ReplayResult),
	}
}

// StartReplay begins a replay run in the background and immediately
// returns its pollable result. The concurrency cap is enforced before
// any log entries are read.
func (m *ReplayManager) StartReplay(ctx context.Context, req ReplayRequest) (*ReplayResult, error) {
	if req.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if req.BatchSize == 0 {
		req.BatchSize = m.cfg.BatchSize
	}
	if req.DelayBetweenBatches == 0 {
		req.DelayBetweenBatches = m.cfg.BatchDelay
	}

	m.mu.Lock()
	if m.inFlight >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrMaxConcurrentReplays, m.cfg.MaxConcurrent)
	}

	result := &ReplayResult{
		RequestID: uuid.New().String(),
		TenantID:  req.TenantID,
		Status:    ReplayPending,
		StartedAt: time.Now().UTC(),
	}
	m.results[result.RequestID] = result
	m.inFlight++
	m.mu.Unlock()

	metrics.ReplayStarted(req.TenantID)

	log.Info().
		Str("request_id", result.RequestID).
		Str("tenant_id", req.TenantID).
		Time("start", req.StartTime).
		Time("end", req.EndTime).
		Msg("Replay started")

	m.wg.Add(1)
	go m.run(ctx, req, result)

	return m.snapshot(result.RequestID), nil
}

// CancelReplay requests cancellation of an in-progress run. Returns
// false when the run is not in progress (or pending); the final
// in-flight batch may still complete before the run stops.
func (m *ReplayManager) CancelReplay(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.results[requestID]
	if !ok || result.Status != ReplayInProgress {
		return false
	}

	result.Status = ReplayCancelled
	return true
}

// GetReplayStatus returns a snapshot of a run's result.
func (m *ReplayManager) GetReplayStatus(requestID string) (*ReplayResult, error) {
	snap := m.snapshot(requestID)
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrReplayNotFound, requestID)
	}
	return snap, nil
}

// ListReplays returns snapshots of all known runs.
func (m *ReplayManager) ListReplays() []*ReplayResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*ReplayResult, 0, len(m.results))
	for _, r := range m.results {
		copied := *r
		result = append(result, &copied)
	}
	return result
}

// CleanupOldReplays evicts finished results older than maxAge. Runs
// that are still pending or in progress are never evicted, and neither
// are cancelled runs whose goroutine has not finalized yet (a terminal
// status without CompletedAt). Returns the number removed.
func (m *ReplayManager) CleanupOldReplays(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, r := range m.results {
		switch r.Status {
		case ReplayCompleted, ReplayCancelled, ReplayFailed:
			if r.CompletedAt == nil {
				continue
			}
			if r.CompletedAt.Before(cutoff) {
				delete(m.results, id)
				removed++
			}
		}
	}
	return removed
}

// Wait blocks until all background runs finish. Intended for shutdown
// and tests.
func (m *ReplayManager) Wait() {
	m.wg.Wait()
}

func (m *ReplayManager) snapshot(requestID string) *ReplayResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.results[requestID]
	if !ok {
		return nil
	}
	copied := *result
	return &copied
}

// run executes one replay. It holds the result pointer for its whole
// lifetime so a concurrent cleanup evicting the map entry can never
// leave it dangling.
func (m *ReplayManager) run(ctx context.Context, req ReplayRequest, result *ReplayResult) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	entries, err := m.log.GetEventsForReplay(ctx, req.TenantID, req.StartTime, req.EndTime, req.EventTypes)
	if err != nil {
		m.finish(result, ReplayFailed, fmt.Sprintf("loading events: %v", err))
		return
	}

	entries = applyReplayFilter(entries, req.Filter)

	m.mu.Lock()
	if result.Status == ReplayCancelled {
		m.mu.Unlock()
		m.finish(result, ReplayCancelled, "")
		return
	}
	result.Status = ReplayInProgress
	result.TotalEvents = len(entries)
	m.mu.Unlock()

	var limiter *rate.Limiter
	if m.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.RateLimit), 1)
	}

	for start := 0; start < len(entries); start += req.BatchSize {
		// Cooperative cancellation, once per batch boundary.
		m.mu.Lock()
		cancelled := result.Status == ReplayCancelled
		m.mu.Unlock()
		if cancelled {
			m.finish(result, ReplayCancelled, "")
			return
		}

		end := start + req.BatchSize
		if end > len(entries) {
			end = len(entries)
		}

		for _, entry := range entries[start:end] {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					m.finish(result, ReplayFailed, fmt.Sprintf("rate limiter: %v", err))
					return
				}
			}
			m.republish(ctx, entry, result)
		}

		if end < len(entries) && req.DelayBetweenBatches > 0 {
			select {
			case <-ctx.Done():
				m.finish(result, ReplayFailed, ctx.Err().Error())
				return
			case <-time.After(req.DelayBetweenBatches):
			}
		}
	}

	m.finish(result, ReplayCompleted, "")
}

// republish re-enters one entry at the publisher, tagged so the new
// event is traceable to its origin and to the replay run.
func (m *ReplayManager) republish(ctx context.Context, entry *LogEntry, result *ReplayResult) {
	requestID := result.RequestID
	metadata := map[string]string{
		"originalEventId": entry.Event.ID,
		"replayRequestId": requestID,
	}
	for k, v := range entry.Event.Metadata {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	_, err := m.publisher.Publish(ctx, entry.Event.TenantID, entry.Event.Type, entry.Event.Payload, PublishOptions{
		Source:        entry.Event.Source,
		SchemaVersion: entry.Event.SchemaVersion,
		CorrelationID: "replay:" + requestID,
		CausationID:   entry.Event.ID,
		Metadata:      metadata,
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// Replay is best-effort: count the failure and keep going.
		result.FailedEvents++
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Str("event_id", entry.Event.ID).
			Msg("Failed to republish event")
		return
	}
	result.ReplayedEvents++
}

func (m *ReplayManager) finish(result *ReplayResult, status ReplayStatus, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	result.Status = status
	result.CompletedAt = &now
	if errMsg != "" {
		result.Error = errMsg
	}

	metrics.ReplayFinished(result.TenantID, string(status))

	log.Info().
		Str("request_id", result.RequestID).
		Str("status", string(status)).
		Int("replayed", result.ReplayedEvents).
		Int("failed", result.FailedEvents).
		Msg("Replay finished")
}

func applyReplayFilter(entries []*LogEntry, filter *ReplayFilter) []*LogEntry {
	if filter == nil {
		return entries
	}

	filtered := entries[:0:0]
	for _, entry := range entries {
		if len(filter.Sources) > 0 {
			found := false
			for _, s := range filter.Sources {
				if s == entry.Event.Source {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}

		metadataMatch := true
		for k, want := range filter.Metadata {
			if got, ok := entry.Event.Metadata[k]; !ok || got != want {
				metadataMatch = false
				break
			}
		}
		if !metadataMatch {
			continue
		}

		filtered = append(filtered, entry)
	}
	return filtered
}
