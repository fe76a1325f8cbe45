package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with multi-valued indexes by
// tenant, type, and correlation id. Mutated by concurrent workers;
// all access is mutex-guarded.
type MemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]*LogEntry
	byTenant      map[string]map[string]struct{}
	byType        map[string]map[string]struct{} // tenant|type -> entry ids
	byCorrelation map[string]map[string]struct{}
	byEvent       map[string][]string // event id -> entry ids in insert order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:       make(map[string]*LogEntry),
		byTenant:      make(map[string]map[string]struct{}),
		byType:        make(map[string]map[string]struct{}),
		byCorrelation: make(map[string]map[string]struct{}),
		byEvent:       make(map[string][]string),
	}
}

func typeKey(tenantID, eventType string) string {
	return tenantID + "|" + eventType
}

func addIndex(index map[string]map[string]struct{}, key, entryID string) {
	if key == "" {
		return
	}
	ids, ok := index[key]
	if !ok {
		ids = make(map[string]struct{})
		index[key] = ids
	}
	ids[entryID] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, entryID string) {
	if key == "" {
		return
	}
	if ids, ok := index[key]; ok {
		delete(ids, entryID)
		if len(ids) == 0 {
			delete(index, key)
		}
	}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("duplicate log entry id: %s", entry.ID)
	}

	stored := *entry
	s.entries[entry.ID] = &stored

	addIndex(s.byTenant, entry.Event.TenantID, entry.ID)
	addIndex(s.byType, typeKey(entry.Event.TenantID, entry.Event.Type), entry.ID)
	addIndex(s.byCorrelation, entry.Event.CorrelationID, entry.ID)
	s.byEvent[entry.Event.ID] = append(s.byEvent[entry.Event.ID], entry.ID)

	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, entryID string) (*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}

	copied := *entry
	return &copied, nil
}

// GetByEventID implements Store.
func (s *MemoryStore) GetByEventID(_ context.Context, eventID string) (*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byEvent[eventID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: event %s", ErrEntryNotFound, eventID)
	}

	entry, ok := s.entries[ids[len(ids)-1]]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", ErrEntryNotFound, eventID)
	}

	copied := *entry
	return &copied, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
	}

	stored := *entry
	s.entries[entry.ID] = &stored
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, opts QueryOptions) ([]*LogEntry, int, error) {
	s.mu.RLock()

	var matched []*LogEntry
	for _, entry := range s.candidates(opts) {
		if matchesQuery(entry, opts) {
			copied := *entry
			matched = append(matched, &copied)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Event.Timestamp.After(matched[j].Event.Timestamp)
	})

	total := len(matched)
	matched = paginate(matched, opts.Offset, opts.Limit)

	return matched, total, nil
}

// candidates narrows the scan using the most selective available index.
func (s *MemoryStore) candidates(opts QueryOptions) []*LogEntry {
	var ids map[string]struct{}

	switch {
	case opts.CorrelationID != "":
		ids = s.byCorrelation[opts.CorrelationID]
	case opts.TenantID != "" && len(opts.Types) == 1:
		ids = s.byType[typeKey(opts.TenantID, opts.Types[0])]
	case opts.TenantID != "":
		ids = s.byTenant[opts.TenantID]
	}

	if ids == nil && (opts.CorrelationID != "" || opts.TenantID != "") {
		return nil
	}

	if ids == nil {
		result := make([]*LogEntry, 0, len(s.entries))
		for _, entry := range s.entries {
			result = append(result, entry)
		}
		return result
	}

	result := make([]*LogEntry, 0, len(ids))
	for id := range ids {
		if entry, ok := s.entries[id]; ok {
			result = append(result, entry)
		}
	}
	return result
}

func matchesQuery(entry *LogEntry, opts QueryOptions) bool {
	if opts.TenantID != "" && entry.Event.TenantID != opts.TenantID {
		return false
	}
	if opts.Status != "" && entry.Status != opts.Status {
		return false
	}
	if opts.Source != "" && entry.Event.Source != opts.Source {
		return false
	}
	if opts.CorrelationID != "" && entry.Event.CorrelationID != opts.CorrelationID {
		return false
	}
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if entry.Event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !opts.Start.IsZero() && entry.Event.Timestamp.Before(opts.Start) {
		return false
	}
	if !opts.End.IsZero() && entry.Event.Timestamp.After(opts.End) {
		return false
	}
	return true
}

func paginate(entries []*LogEntry, offset, limit int) []*LogEntry {
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// ListExpired implements Store.
func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*LogEntry
	for _, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			copied := *entry
			expired = append(expired, &copied)
			if limit > 0 && len(expired) >= limit {
				break
			}
		}
	}
	return expired, nil
}

// Delete implements Store. Removal also cleans every index the entry
// participates in.
func (s *MemoryStore) Delete(_ context.Context, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range entryIDs {
		s.deleteLocked(id)
	}
	return nil
}

func (s *MemoryStore) deleteLocked(entryID string) {
	entry, ok := s.entries[entryID]
	if !ok {
		return
	}

	delete(s.entries, entryID)
	removeIndex(s.byTenant, entry.Event.TenantID, entryID)
	removeIndex(s.byType, typeKey(entry.Event.TenantID, entry.Event.Type), entryID)
	removeIndex(s.byCorrelation, entry.Event.CorrelationID, entryID)

	ids := s.byEvent[entry.Event.ID]
	for i, id := range ids {
		if id == entryID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byEvent, entry.Event.ID)
	} else {
		s.byEvent[entry.Event.ID] = ids
	}
}

// DeleteTenant implements Store.
func (s *MemoryStore) DeleteTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byTenant[tenantID]
	count := len(ids)

	for id := range ids {
		s.deleteLocked(id)
	}
	return count, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context, tenantID string) (*LogStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &LogStats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[string]int),
	}

	for id := range s.byTenant[tenantID] {
		entry, ok := s.entries[id]
		if !ok {
			continue
		}
		stats.Total++
		stats.ByStatus[entry.Status]++
		stats.ByType[entry.Event.Type]++
	}

	return stats, nil
}
