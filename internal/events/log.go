package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantagehq/eventcore/internal/metrics"
)

var ErrEntryNotFound = errors.New("log entry not found")

// RetentionPolicy controls how long log entries are kept. A
// status-specific retention overrides a type-specific retention, which
// overrides the tenant-wide default.
type RetentionPolicy struct {
	DefaultDays int
	ByType      map[string]int
	ByStatus    map[Status]int
}

// RetentionFor returns the retention for an entry with the given type
// and status.
func (p RetentionPolicy) RetentionFor(eventType string, status Status) time.Duration {
	days := p.DefaultDays
	if d, ok := p.ByType[eventType]; ok {
		days = d
	}
	if d, ok := p.ByStatus[status]; ok {
		days = d
	}
	if days < 1 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// Store is the persistence backend for the event log. Implementations
// must be safe for concurrent use.
type Store interface {
	// Insert adds a new entry, indexing it by tenant, type, and
	// correlation id.
	Insert(ctx context.Context, entry *LogEntry) error

	// Get returns an entry by its own id.
	Get(ctx context.Context, entryID string) (*LogEntry, error)

	// GetByEventID returns the most recent entry for the event id.
	GetByEventID(ctx context.Context, eventID string) (*LogEntry, error)

	// Update persists the entry's mutable fields in place.
	Update(ctx context.Context, entry *LogEntry) error

	// Query returns entries matching the options plus the filtered
	// total before pagination.
	Query(ctx context.Context, opts QueryOptions) ([]*LogEntry, int, error)

	// ListExpired returns up to limit entries whose ExpiresAt has
	// passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*LogEntry, error)

	// Delete removes entries by id, including from all indexes.
	Delete(ctx context.Context, entryIDs []string) error

	// DeleteTenant purges a tenant's entries and returns the count.
	DeleteTenant(ctx context.Context, tenantID string) (int, error)

	// Stats summarizes a tenant's entries.
	Stats(ctx context.Context, tenantID string) (*LogStats, error)
}

// Archiver receives expired entries before they are deleted by the
// retention sweep.
type Archiver interface {
	Archive(ctx context.Context, entries []*LogEntry) error
}

// Log is the event ledger: it owns the retention policy and wraps a
// pluggable Store.
type Log struct {
	store    Store
	archiver Archiver

	mu     sync.RWMutex
	policy RetentionPolicy
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithArchiver sets the archive sink used by Sweep.
func WithArchiver(a Archiver) LogOption {
	return func(l *Log) { l.archiver = a }
}

// NewLog creates an event log on the given store.
func NewLog(store Store, policy RetentionPolicy, opts ...LogOption) *Log {
	if policy.DefaultDays == 0 {
		policy.DefaultDays = 7
	}

	l := &Log{
		store:  store,
		policy: policy,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetRetentionPolicy replaces the retention policy. Existing entries
// keep their computed expiry until their next status update.
func (l *Log) SetRetentionPolicy(policy RetentionPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policy = policy
}

// GetRetentionPolicy returns the current retention policy.
func (l *Log) GetRetentionPolicy() RetentionPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// LogEvent creates a new entry at status PENDING for the event.
func (l *Log) LogEvent(ctx context.Context, event *Event, maxAttempts int) (*LogEntry, error) {
	now := time.Now().UTC()
	entry := &LogEntry{
		ID:          uuid.New().String(),
		Event:       *event,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		ExpiresAt:   now.Add(l.GetRetentionPolicy().RetentionFor(event.Type, StatusPending)),
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("inserting log entry: %w", err)
	}

	return entry, nil
}

// UpdateStatus updates an entry's status in place and recomputes its
// expiry from the retention policy.
func (l *Log) UpdateStatus(ctx context.Context, entryID string, status Status, lastError string) (*LogEntry, error) {
	entry, err := l.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	entry.Status = status
	entry.LastError = lastError
	entry.ExpiresAt = time.Now().UTC().Add(l.GetRetentionPolicy().RetentionFor(entry.Event.Type, status))
	if status == StatusDelivered {
		now := time.Now().UTC()
		entry.DeliveredAt = &now
	}

	if err := l.store.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("updating log entry: %w", err)
	}

	return entry, nil
}

// RecordAttempt increments an entry's attempt counter.
func (l *Log) RecordAttempt(ctx context.Context, entryID string) error {
	entry, err := l.store.Get(ctx, entryID)
	if err != nil {
		return err
	}

	entry.Attempts++
	return l.store.Update(ctx, entry)
}

// Get returns an entry by id.
func (l *Log) Get(ctx context.Context, entryID string) (*LogEntry, error) {
	return l.store.Get(ctx, entryID)
}

// GetByEventID returns the most recent entry for an event id.
func (l *Log) GetByEventID(ctx context.Context, eventID string) (*LogEntry, error) {
	return l.store.GetByEventID(ctx, eventID)
}

// DeadLetter marks the entry for the given event id as DEAD_LETTER.
// Invoked by the queue's permanent-failure callback.
func (l *Log) DeadLetter(ctx context.Context, eventID string, lastError string) (*LogEntry, error) {
	entry, err := l.store.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return l.UpdateStatus(ctx, entry.ID, StatusDeadLetter, lastError)
}

// Query returns entries matching the options plus the filtered total
// before pagination.
func (l *Log) Query(ctx context.Context, opts QueryOptions) ([]*LogEntry, int, error) {
	return l.store.Query(ctx, opts)
}

// GetEventsForReplay returns DELIVERED entries in the window; replay
// only operates on events known to have completed their original
// dispatch.
func (l *Log) GetEventsForReplay(ctx context.Context, tenantID string, start, end time.Time, types []string) ([]*LogEntry, error) {
	entries, _, err := l.store.Query(ctx, QueryOptions{
		TenantID: tenantID,
		Types:    types,
		Status:   StatusDelivered,
		Start:    start,
		End:      end,
	})
	return entries, err
}

// Stats summarizes a tenant's entries.
func (l *Log) Stats(ctx context.Context, tenantID string) (*LogStats, error) {
	return l.store.Stats(ctx, tenantID)
}

// PurgeTenant removes all of a tenant's entries.
func (l *Log) PurgeTenant(ctx context.Context, tenantID string) (int, error) {
	return l.store.DeleteTenant(ctx, tenantID)
}

// Sweep removes entries whose expiry has passed, archiving them first
// when an archive sink is configured. Returns the number removed.
func (l *Log) Sweep(ctx context.Context) (int, error) {
	const batchSize = 500

	removed := 0
	for {
		expired, err := l.store.ListExpired(ctx, time.Now().UTC(), batchSize)
		if err != nil {
			return removed, fmt.Errorf("listing expired entries: %w", err)
		}
		if len(expired) == 0 {
			return removed, nil
		}

		if l.archiver != nil {
			if err := l.archiver.Archive(ctx, expired); err != nil {
				// Keep the entries so the next sweep retries archival.
				return removed, fmt.Errorf("archiving expired entries: %w", err)
			}
		}

		ids := make([]string, len(expired))
		for i, entry := range expired {
			ids[i] = entry.ID
		}
		if err := l.store.Delete(ctx, ids); err != nil {
			return removed, fmt.Errorf("deleting expired entries: %w", err)
		}

		removed += len(expired)
		metrics.LogEntriesSwept(len(expired))
		log.Debug().Int("count", len(expired)).Msg("Swept expired log entries")

		if len(expired) < batchSize {
			return removed, nil
		}
	}
}
