// Package events implements the event backbone: publication onto the
// durable queue, the subscription registry with filter-based routing,
// the event log with retention, queue-consumer processing, and
// historical replay.
package events

import (
	"context"
	"time"
)

// Status is the delivery status of a published event.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
	StatusRetrying   Status = "RETRYING"
)

// Event is the immutable event envelope. CorrelationID groups events
// that belong to one logical business operation; CausationID points at
// the event that produced this one within the same correlation group.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	TenantID      string            `json:"tenantId"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schemaVersion,omitempty"`
	Source        string            `json:"source,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Payload       any               `json:"payload"`
}

// PublishedEvent is an Event together with its delivery-oriented
// fields. It is created by the Publisher at enqueue time and retained
// in a bounded buffer for immediate status queries; the event log is
// the system of record.
type PublishedEvent struct {
	Event

	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// LogEntry is the durable counterpart of a PublishedEvent. Its ID is
// distinct from the event id: one event may be logged more than once
// across retries.
type LogEntry struct {
	ID string `json:"id"`

	Event Event `json:"event"`

	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

// Handler processes a dispatched event. A handler error is isolated to
// its subscription and aggregated into the dispatch counts.
type Handler func(ctx context.Context, event *Event) error

// Subscription binds event types to a handler with an optional filter.
// Subscriptions are process-local; subscribers rebuild them on restart.
type Subscription struct {
	ID         string
	TenantID   string
	EventTypes []string
	Handler    Handler
	Filter     *Filter
	Enabled    bool
	CreatedAt  time.Time
}

// DispatchResult aggregates the outcome of fanning one event out to
// all matching subscriptions.
type DispatchResult struct {
	SuccessCount int
	FailureCount int
	Errors       []error
}

// QueryOptions filters event log queries. Zero values mean no
// constraint. Filtering is conjunctive; results are sorted by
// descending timestamp and then paginated.
type QueryOptions struct {
	TenantID      string
	Types         []string
	Status        Status
	Source        string
	CorrelationID string
	Start         time.Time
	End           time.Time
	Offset        int
	Limit         int
}

// LogStats summarizes a tenant's log entries for operator queries.
type LogStats struct {
	Total    int
	ByStatus map[Status]int
	ByType   map[string]int
}
