package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vantagehq/eventcore/internal/metrics"
	"github.com/vantagehq/eventcore/internal/queue"
)

// ProcessorConfig holds configuration for a Processor.
type ProcessorConfig struct {
	// PartialFailureStatus is the log status recorded when a dispatch
	// both succeeds and fails across subscriptions (default:
	// DELIVERED — the event was delivered to at least one consumer).
	PartialFailureStatus Status
}

// Processor is the events-queue consumer: it logs each received event,
// dispatches it through the registry, and maps the dispatch outcome to
// a log status. A returned error tells the queue to retry the whole
// job; exhausted jobs are dead-lettered via the permanent-failure
// callback.
type Processor struct {
	log      *Log
	registry *Registry
	cfg      ProcessorConfig
}

// NewProcessor creates a Processor.
func NewProcessor(eventLog *Log, registry *Registry, cfg ProcessorConfig) *Processor {
	if cfg.PartialFailureStatus == "" {
		cfg.PartialFailureStatus = StatusDelivered
	}

	return &Processor{
		log:      eventLog,
		registry: registry,
		cfg:      cfg,
	}
}

// Register binds the processor to the events queue.
func (p *Processor) Register(q queue.Queue) {
	q.RegisterHandler(EventsQueue, EventJobName, p.HandleJob)
	q.OnPermanentFailure(EventsQueue, p.handlePermanentFailure)
}

// HandleJob processes one queued event. The returned error propagates
// to the queue so its retry/backoff applies; individual handler
// failures are absorbed into the dispatch counts instead.
func (p *Processor) HandleJob(ctx context.Context, job *queue.Job) error {
	var event Event
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		// Undecodable payloads can never succeed; fail without retry.
		log.Error().Err(err).Str("job_id", job.ID).Msg("Dropping undecodable event job")
		return nil
	}

	entry, err := p.ensureEntry(ctx, &event, job.MaxAttempts)
	if err != nil {
		return fmt.Errorf("logging event: %w", err)
	}

	if _, err := p.log.UpdateStatus(ctx, entry.ID, StatusProcessing, ""); err != nil {
		return fmt.Errorf("marking event processing: %w", err)
	}
	if err := p.log.RecordAttempt(ctx, entry.ID); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	result, dispatchErr := p.registry.Dispatch(ctx, &event)
	if dispatchErr != nil {
		// A dispatch-level failure means the whole unit of work is
		// unsafe to consider done: record it and let the queue retry.
		if _, err := p.log.UpdateStatus(ctx, entry.ID, StatusFailed, dispatchErr.Error()); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to record dispatch failure")
		}
		metrics.EventDispatched(event.TenantID, event.Type, string(StatusFailed))
		return dispatchErr
	}

	status, lastError := p.classify(result)
	if _, err := p.log.UpdateStatus(ctx, entry.ID, status, lastError); err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}

	metrics.EventDispatched(event.TenantID, event.Type, string(status))

	if result.FailureCount > 0 {
		log.Warn().
			Str("event_id", event.ID).
			Int("succeeded", result.SuccessCount).
			Int("failed", result.FailureCount).
			Str("status", string(status)).
			Msg("Event dispatched with handler failures")
	} else {
		log.Debug().
			Str("event_id", event.ID).
			Int("handlers", result.SuccessCount).
			Msg("Event dispatched")
	}

	// Handler failures are absorbed: they are isolated per
	// subscription and reflected in the log status, not in the queue
	// job outcome.
	return nil
}

// ensureEntry returns the existing log entry for the event (queue
// retries redeliver the same event id) or creates one.
func (p *Processor) ensureEntry(ctx context.Context, event *Event, maxAttempts int) (*LogEntry, error) {
	entry, err := p.log.GetByEventID(ctx, event.ID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}
	return p.log.LogEvent(ctx, event, maxAttempts)
}

func (p *Processor) classify(result DispatchResult) (Status, string) {
	switch {
	case result.FailureCount == 0:
		return StatusDelivered, ""
	case result.SuccessCount == 0:
		return StatusFailed, errors.Join(result.Errors...).Error()
	default:
		return p.cfg.PartialFailureStatus, errors.Join(result.Errors...).Error()
	}
}

// handlePermanentFailure dead-letters the log entry once the queue
// reports the job's attempts as exhausted.
func (p *Processor) handlePermanentFailure(job *queue.Job, jobErr error) {
	var event Event
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Cannot dead-letter undecodable event job")
		return
	}

	if _, err := p.log.DeadLetter(context.Background(), event.ID, jobErr.Error()); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to dead-letter event")
		return
	}

	metrics.EventDeadLettered(event.TenantID, event.Type)

	log.Warn().
		Str("event_id", event.ID).
		Str("tenant_id", event.TenantID).
		Int("attempts", job.Attempt).
		Msg("Event dead-lettered")
}
