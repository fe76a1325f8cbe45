package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantagehq/eventcore/internal/metrics"
	"github.com/vantagehq/eventcore/internal/queue"
)

// EventsQueue is the queue name the publisher enqueues onto and the
// processor consumes from.
const EventsQueue = "events"

// EventJobName identifies event jobs on the events queue.
const EventJobName = "event.process"

// PublishOptions configures a single publish call. Zero values mean
// "use defaults" or "unset".
type PublishOptions struct {
	Source        string
	SchemaVersion string
	CorrelationID string
	CausationID   string
	Metadata      map[string]string

	// DeduplicationID overrides the event id as the queue job key.
	// Supply it when true deduplication across independent publish
	// calls for the same logical event is required.
	DeduplicationID string

	// Priority orders the event on the queue. Higher first.
	Priority int

	// Delay defers the first processing attempt.
	Delay time.Duration

	// MaxAttempts overrides the publisher's default attempt budget.
	MaxAttempts int
}

// PublishItem is one event of a batch or chain publish.
type PublishItem struct {
	Type    string
	Payload any
	Options PublishOptions
}

// PublisherConfig holds configuration for a Publisher.
type PublisherConfig struct {
	// StatusBufferSize bounds the in-memory status buffer
	// (default: 1000). The buffer is a best-effort cache, never the
	// source of truth for delivery status.
	StatusBufferSize int

	// MaxAttempts is the default attempt budget (default: 3).
	MaxAttempts int

	// Policy is the retry policy attached to enqueued jobs.
	Policy queue.RetryPolicy
}

// Publisher builds event envelopes and enqueues them on the durable
// queue. Publish is idempotent under at-least-once queue redelivery:
// the queue job key is DeduplicationID when supplied, else the event
// id, so a retried enqueue with the same key cannot create a second
// logical event.
type Publisher struct {
	queue queue.Queue
	cfg   PublisherConfig

	mu     sync.Mutex
	buffer map[string]*PublishedEvent
	order  []string
}

// NewPublisher creates a Publisher on the given queue.
func NewPublisher(q queue.Queue, cfg PublisherConfig) *Publisher {
	if cfg.StatusBufferSize == 0 {
		cfg.StatusBufferSize = 1000
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	return &Publisher{
		queue:  q,
		cfg:    cfg,
		buffer: make(map[string]*PublishedEvent),
	}
}

// Publish builds an event envelope and enqueues it. The returned
// event's status is PROCESSING after a successful enqueue, FAILED if
// the enqueue errored (in which case the error is also returned; the
// publisher does not retry enqueue failures).
func (p *Publisher) Publish(ctx context.Context, tenantID, eventType string, payload any, opts PublishOptions) (*PublishedEvent, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = p.cfg.MaxAttempts
	}

	published := &PublishedEvent{
		Event: Event{
			ID:            uuid.New().String(),
			Type:          eventType,
			TenantID:      tenantID,
			Timestamp:     time.Now().UTC(),
			SchemaVersion: opts.SchemaVersion,
			Source:        opts.Source,
			CorrelationID: opts.CorrelationID,
			CausationID:   opts.CausationID,
			Metadata:      opts.Metadata,
		},
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
	}
	published.Payload = payload

	body, err := json.Marshal(&published.Event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}

	jobID := opts.DeduplicationID
	if jobID == "" {
		jobID = published.ID
	}

	policy := p.cfg.Policy
	policy.MaxAttempts = maxAttempts

	err = p.queue.Enqueue(ctx, EventsQueue, EventJobName, body, queue.Options{
		JobID:    jobID,
		Priority: opts.Priority,
		Delay:    opts.Delay,
		Policy:   policy,
	})
	if err != nil {
		published.Status = StatusFailed
		published.LastError = err.Error()
		p.remember(published)
		metrics.EventPublished(tenantID, eventType, false)
		return published, fmt.Errorf("enqueueing event: %w", err)
	}

	published.Status = StatusProcessing
	p.remember(published)
	metrics.EventPublished(tenantID, eventType, true)

	log.Debug().
		Str("event_id", published.ID).
		Str("tenant_id", tenantID).
		Str("type", eventType).
		Str("correlation_id", published.CorrelationID).
		Msg("Event published")

	return published, nil
}

// PublishBatch publishes the items with one shared correlation id
// unless an item supplies its own. Stops at the first enqueue failure
// and returns the events published so far along with the error.
func (p *Publisher) PublishBatch(ctx context.Context, tenantID string, items []PublishItem) ([]*PublishedEvent, error) {
	batchCorrelation := uuid.New().String()

	results := make([]*PublishedEvent, 0, len(items))
	for i, item := range items {
		opts := item.Options
		if opts.CorrelationID == "" {
			opts.CorrelationID = batchCorrelation
		}

		published, err := p.Publish(ctx, tenantID, item.Type, item.Payload, opts)
		if err != nil {
			return results, fmt.Errorf("publishing batch item %d: %w", i, err)
		}
		results = append(results, published)
	}

	return results, nil
}

// PublishChain publishes the items sequentially, setting each event's
// causation id to the previous event's id and sharing one correlation
// id. The blocking, in-order publication encodes a linear cause/effect
// history later honored by replay.
func (p *Publisher) PublishChain(ctx context.Context, tenantID string, items []PublishItem) ([]*PublishedEvent, error) {
	chainCorrelation := uuid.New().String()

	results := make([]*PublishedEvent, 0, len(items))
	previousID := ""
	for i, item := range items {
		opts := item.Options
		if opts.CorrelationID == "" {
			opts.CorrelationID = chainCorrelation
		}
		if opts.CausationID == "" {
			opts.CausationID = previousID
		}

		published, err := p.Publish(ctx, tenantID, item.Type, item.Payload, opts)
		if err != nil {
			return results, fmt.Errorf("publishing chain item %d: %w", i, err)
		}

		results = append(results, published)
		previousID = published.ID
	}

	return results, nil
}

// GetStatus returns the buffered status for an event id. The buffer is
// bounded and evicted oldest-first; a miss does not mean the event does
// not exist.
func (p *Publisher) GetStatus(eventID string) (*PublishedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	published, ok := p.buffer[eventID]
	if !ok {
		return nil, false
	}

	copied := *published
	return &copied, true
}

// Clear empties the status buffer. Intended for shutdown and tests.
func (p *Publisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer = make(map[string]*PublishedEvent)
	p.order = nil
}

func (p *Publisher) remember(published *PublishedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.buffer[published.ID]; !exists {
		p.order = append(p.order, published.ID)
	}
	copied := *published
	p.buffer[published.ID] = &copied

	for len(p.order) > p.cfg.StatusBufferSize {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.buffer, oldest)
	}
}
