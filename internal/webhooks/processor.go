package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vantagehq/eventcore/internal/queue"
)

const (
	// WebhooksQueue is the durable queue consumed by the processor.
	WebhooksQueue = "webhooks"

	// DeliverJobName selects the webhook delivery handler.
	DeliverJobName = "webhook.deliver"
)

// RetryDecision is the explicit outcome of classifying a failed
// delivery attempt.
type RetryDecision struct {
	Retry  bool
	Reason string
}

// DecideRetry classifies one failed attempt. A delivery is retryable
// only while attempts remain and the failure looks transient: a
// network-level failure (no status code), a server error, or a 429.
// Other 4xx codes are permanent caller errors and never retried.
func DecideRetry(attempt, maxAttempts, statusCode int) RetryDecision {
	if attempt >= maxAttempts {
		return RetryDecision{Reason: "attempts exhausted"}
	}

	switch {
	case statusCode == 0:
		return RetryDecision{Retry: true, Reason: "network failure"}
	case statusCode >= 500:
		return RetryDecision{Retry: true, Reason: fmt.Sprintf("server error %d", statusCode)}
	case statusCode == 429:
		return RetryDecision{Retry: true, Reason: "rate limited"}
	default:
		return RetryDecision{Reason: fmt.Sprintf("permanent client error %d", statusCode)}
	}
}

// Processor consumes webhook jobs from the durable queue and drives
// the deliverer. A retryable failure is surfaced to the queue as a job
// error so its backoff schedules the next attempt; a permanent failure
// completes the job even though the delivery itself failed.
type Processor struct {
	deliverer *Deliverer
}

// NewProcessor creates a Processor.
func NewProcessor(deliverer *Deliverer) *Processor {
	return &Processor{deliverer: deliverer}
}

// Register binds the processor to the webhooks queue.
func (p *Processor) Register(q queue.Queue) {
	q.RegisterHandler(WebhooksQueue, DeliverJobName, p.HandleJob)
	q.OnPermanentFailure(WebhooksQueue, p.handlePermanentFailure)
}

// Enqueue places one delivery job on the queue. The job id is derived
// from the event and subscription so redundant enqueues of the same
// logical delivery deduplicate.
func Enqueue(ctx context.Context, q queue.Queue, job *Job, opts queue.Options) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding webhook job: %w", err)
	}

	if opts.JobID == "" {
		opts.JobID = job.EventID + "-" + job.SubscriptionID
	}

	if err := q.Enqueue(ctx, WebhooksQueue, DeliverJobName, payload, opts); err != nil {
		return fmt.Errorf("enqueueing webhook job: %w", err)
	}
	return nil
}

// HandleJob delivers one webhook and maps the outcome to the queue
// job result.
func (p *Processor) HandleJob(ctx context.Context, job *queue.Job) error {
	var wj Job
	if err := json.Unmarshal(job.Payload, &wj); err != nil {
		// Undecodable payloads never become deliverable; drop them.
		log.Error().Err(err).Str("job_id", job.ID).Msg("Dropping undecodable webhook job")
		return nil
	}

	result, err := p.deliverer.Deliver(ctx, wj.EventID, wj.SubscriptionID, wj.TenantID, wj.Destination, wj.Payload, job.Attempt)
	if err != nil {
		// Destination config errors cannot succeed on retry.
		log.Error().
			Err(err).
			Str("event_id", wj.EventID).
			Str("url", wj.Destination.URL).
			Msg("Webhook destination unusable")
		return nil
	}

	if result.Success {
		return nil
	}

	decision := DecideRetry(job.Attempt, job.MaxAttempts, result.StatusCode)
	if !decision.Retry {
		// Business failure, queue-job success: the job lifecycle ends
		// here even though the delivery did not land.
		log.Warn().
			Str("event_id", wj.EventID).
			Str("subscription_id", wj.SubscriptionID).
			Int("status", result.StatusCode).
			Int("attempt", job.Attempt).
			Str("reason", decision.Reason).
			Msg("Webhook delivery abandoned")
		return nil
	}

	return fmt.Errorf("webhook delivery to %s failed (%s), attempt %d/%d", wj.Destination.URL, decision.Reason, job.Attempt, job.MaxAttempts)
}

func (p *Processor) handlePermanentFailure(job *queue.Job, err error) {
	var wj Job
	if jsonErr := json.Unmarshal(job.Payload, &wj); jsonErr != nil {
		return
	}

	log.Error().
		Err(err).
		Str("event_id", wj.EventID).
		Str("subscription_id", wj.SubscriptionID).
		Int("attempts", job.Attempt).
		Msg("Webhook delivery permanently failed")
}
