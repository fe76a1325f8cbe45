package events

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantagehq/eventcore/internal/config"
	"github.com/vantagehq/eventcore/internal/database"
)

func testSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		WALMode:         true,
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		CacheSize:       -2000,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLiteStore(db)
}

func sampleEntry(eventID, tenantID string, ts time.Time) *LogEntry {
	return &LogEntry{
		ID: "entry-" + eventID,
		Event: Event{
			ID:            eventID,
			Type:          "order.created",
			TenantID:      tenantID,
			Timestamp:     ts,
			Source:        "orders-api",
			CorrelationID: "corr-1",
			Metadata:      map[string]string{"region": "eu"},
			Payload:       map[string]any{"total": 99.5},
		},
		Status:      StatusPending,
		MaxAttempts: 3,
		ExpiresAt:   ts.Add(7 * 24 * time.Hour),
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Millisecond)
	entry := sampleEntry("evt-1", "acme", ts)
	require.NoError(t, s.Insert(ctx, entry))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, entry.ID, got.ID)
	require.Equal(t, "evt-1", got.Event.ID)
	require.Equal(t, "acme", got.Event.TenantID)
	require.Equal(t, "corr-1", got.Event.CorrelationID)
	require.Equal(t, map[string]string{"region": "eu"}, got.Event.Metadata)
	require.Equal(t, StatusPending, got.Status)
	require.True(t, got.Event.Timestamp.Equal(ts))

	payload, ok := got.Event.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, 99.5, payload["total"])
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := testSQLiteStore(t)

	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrEntryNotFound)

	_, err = s.GetByEventID(context.Background(), "nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSQLiteStore_Update(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	entry := sampleEntry("evt-1", "acme", time.Now().UTC())
	require.NoError(t, s.Insert(ctx, entry))

	now := time.Now().UTC().Truncate(time.Millisecond)
	entry.Status = StatusDelivered
	entry.Attempts = 2
	entry.DeliveredAt = &now
	require.NoError(t, s.Update(ctx, entry))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, got.Status)
	require.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.DeliveredAt)

	missing := sampleEntry("evt-x", "acme", now)
	require.ErrorIs(t, s.Update(ctx, missing), ErrEntryNotFound)
}

func TestSQLiteStore_GetByEventIDReturnsLatest(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	first := sampleEntry("evt-1", "acme", time.Now().UTC())
	first.ID = "entry-old"
	require.NoError(t, s.Insert(ctx, first))

	second := sampleEntry("evt-1", "acme", time.Now().UTC())
	second.ID = "entry-new"
	require.NoError(t, s.Insert(ctx, second))

	got, err := s.GetByEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, "entry-new", got.ID)
}

func TestSQLiteStore_QueryAndPagination(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, eventID := range []string{"e1", "e2", "e3"} {
		entry := sampleEntry(eventID, "acme", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Insert(ctx, entry))
	}
	other := sampleEntry("e4", "globex", base)
	require.NoError(t, s.Insert(ctx, other))

	entries, total, err := s.Query(ctx, QueryOptions{TenantID: "acme"})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, entries, 3)
	require.Equal(t, "e3", entries[0].Event.ID, "descending timestamp order")

	entries, total, err = s.Query(ctx, QueryOptions{TenantID: "acme", Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 3, total, "total is the filtered count before pagination")
	require.Len(t, entries, 1)
	require.Equal(t, "e2", entries[0].Event.ID)

	entries, _, err = s.Query(ctx, QueryOptions{CorrelationID: "corr-1", TenantID: "globex"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "e4", entries[0].Event.ID)
}

func TestSQLiteStore_ListExpiredAndDelete(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	expired := sampleEntry("e1", "acme", time.Now().UTC())
	expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Insert(ctx, expired))

	fresh := sampleEntry("e2", "acme", time.Now().UTC())
	require.NoError(t, s.Insert(ctx, fresh))

	list, err := s.ListExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "e1", list[0].Event.ID)

	require.NoError(t, s.Delete(ctx, []string{expired.ID}))
	_, err = s.Get(ctx, expired.ID)
	require.ErrorIs(t, err, ErrEntryNotFound)
	_, err = s.Get(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestSQLiteStore_DeleteChunksLargeIDSets(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleEntry("e1", "acme", time.Now().UTC())))
	require.NoError(t, s.Insert(ctx, sampleEntry("e2", "acme", time.Now().UTC())))

	// Enough ids to span multiple delete chunks; the absent ones are
	// no-ops.
	ids := []string{"entry-e1"}
	for i := 0; i < 1200; i++ {
		ids = append(ids, fmt.Sprintf("entry-missing-%d", i))
	}
	ids = append(ids, "entry-e2")

	require.NoError(t, s.Delete(ctx, ids))

	_, err := s.Get(ctx, "entry-e1")
	require.ErrorIs(t, err, ErrEntryNotFound)
	_, err = s.Get(ctx, "entry-e2")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSQLiteStore_DeleteTenantAndStats(t *testing.T) {
	s := testSQLiteStore(t)
	ctx := context.Background()

	for _, eventID := range []string{"e1", "e2"} {
		require.NoError(t, s.Insert(ctx, sampleEntry(eventID, "acme", time.Now().UTC())))
	}
	require.NoError(t, s.Insert(ctx, sampleEntry("e3", "globex", time.Now().UTC())))

	stats, err := s.Stats(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.ByStatus[StatusPending])
	require.Equal(t, 2, stats.ByType["order.created"])

	removed, err := s.DeleteTenant(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	stats, err = s.Stats(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, stats.Total)
}
