package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vantagehq/eventcore/internal/database"
)

// SQLiteStore is a durable Store backed by the event_log table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on the given database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const logColumns = `id, event_id, tenant_id, type, source, schema_version,
	correlation_id, causation_id, metadata, payload, status, attempts,
	max_attempts, last_error, timestamp, delivered_at, expires_at`

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, entry *LogEntry) error {
	metadataJSON, err := json.Marshal(entry.Event.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	payloadJSON, err := json.Marshal(entry.Event.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var deliveredAt *string
	if entry.DeliveredAt != nil {
		t := entry.DeliveredAt.UTC().Format(time.RFC3339Nano)
		deliveredAt = &t
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_log (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Event.ID,
		entry.Event.TenantID,
		entry.Event.Type,
		entry.Event.Source,
		entry.Event.SchemaVersion,
		entry.Event.CorrelationID,
		entry.Event.CausationID,
		string(metadataJSON),
		string(payloadJSON),
		string(entry.Status),
		entry.Attempts,
		entry.MaxAttempts,
		entry.LastError,
		entry.Event.Timestamp.UTC().Format(time.RFC3339Nano),
		deliveredAt,
		entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}

	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, entryID string) (*LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM event_log WHERE id = ?`, entryID)

	entry, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return entry, err
}

// GetByEventID implements Store.
func (s *SQLiteStore) GetByEventID(ctx context.Context, eventID string) (*LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM event_log WHERE event_id = ? ORDER BY rowid DESC LIMIT 1`, eventID)

	entry, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", ErrEntryNotFound, eventID)
	}
	return entry, err
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, entry *LogEntry) error {
	var deliveredAt *string
	if entry.DeliveredAt != nil {
		t := entry.DeliveredAt.UTC().Format(time.RFC3339Nano)
		deliveredAt = &t
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE event_log
		SET status = ?, attempts = ?, last_error = ?, delivered_at = ?, expires_at = ?
		WHERE id = ?
	`,
		string(entry.Status),
		entry.Attempts,
		entry.LastError,
		deliveredAt,
		entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("updating log entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
	}

	return nil
}

// Query implements Store. The count and the page run in one
// transaction so total always matches the filter the page was cut from.
func (s *SQLiteStore) Query(ctx context.Context, opts QueryOptions) ([]*LogEntry, int, error) {
	where, args := buildWhere(opts)

	query := `SELECT ` + logColumns + ` FROM event_log` + where + ` ORDER BY timestamp DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	var total int
	var entries []*LogEntry
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		countQuery := `SELECT COUNT(*) FROM event_log` + where
		if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("counting log entries: %w", err)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying log entries: %w", err)
		}
		defer rows.Close()

		entries, err = scanLogEntries(rows)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func buildWhere(opts QueryOptions) (string, []any) {
	var clauses []string
	var args []any

	if opts.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, opts.TenantID)
	}
	if len(opts.Types) > 0 {
		placeholders := strings.Repeat("?, ", len(opts.Types))
		clauses = append(clauses, "type IN ("+placeholders[:len(placeholders)-2]+")")
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, opts.Source)
	}
	if opts.CorrelationID != "" {
		clauses = append(clauses, "correlation_id = ?")
		args = append(args, opts.CorrelationID)
	}
	if !opts.Start.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, opts.Start.UTC().Format(time.RFC3339Nano))
	}
	if !opts.End.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, opts.End.UTC().Format(time.RFC3339Nano))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListExpired implements Store.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+logColumns+` FROM event_log WHERE expires_at < ? LIMIT ?
	`, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired entries: %w", err)
	}
	defer rows.Close()

	return scanLogEntries(rows)
}

// Delete implements Store. Large id sets are chunked to stay under
// SQLite's bound-parameter limit; the chunks commit atomically.
func (s *SQLiteStore) Delete(ctx context.Context, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}

	const chunkSize = 500

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(entryIDs); start += chunkSize {
			end := start + chunkSize
			if end > len(entryIDs) {
				end = len(entryIDs)
			}
			chunk := entryIDs[start:end]

			placeholders := strings.Repeat("?, ", len(chunk))
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM event_log WHERE id IN (`+placeholders[:len(placeholders)-2]+`)`, args...); err != nil {
				return fmt.Errorf("deleting log entries: %w", err)
			}
		}
		return nil
	})
}

// DeleteTenant implements Store.
func (s *SQLiteStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM event_log WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("purging tenant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(affected), nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context, tenantID string) (*LogStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, type, COUNT(*) FROM event_log WHERE tenant_id = ? GROUP BY status, type
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	stats := &LogStats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[string]int),
	}

	for rows.Next() {
		var status, typ string
		var count int
		if err := rows.Scan(&status, &typ, &count); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += count
		stats.ByStatus[Status(status)] += count
		stats.ByType[typ] += count
	}

	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLogEntry(row rowScanner) (*LogEntry, error) {
	var entry LogEntry
	var metadataJSON, payloadJSON, status, timestamp, expiresAt string
	var deliveredAt sql.NullString

	err := row.Scan(
		&entry.ID,
		&entry.Event.ID,
		&entry.Event.TenantID,
		&entry.Event.Type,
		&entry.Event.Source,
		&entry.Event.SchemaVersion,
		&entry.Event.CorrelationID,
		&entry.Event.CausationID,
		&metadataJSON,
		&payloadJSON,
		&status,
		&entry.Attempts,
		&entry.MaxAttempts,
		&entry.LastError,
		&timestamp,
		&deliveredAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(payloadJSON), &entry.Event.Payload); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}

	entry.Status = Status(status)

	if entry.Event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	if entry.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if deliveredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing delivered_at: %w", err)
		}
		entry.DeliveredAt = &t
	}

	return &entry, nil
}

func scanLogEntries(rows *sql.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return entries, nil
}
