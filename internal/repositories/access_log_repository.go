package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vidfriends/streamgate/internal/audit"
	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/models"
)

// PostgresAccessLog is the append-only audit trail of access decisions.
type PostgresAccessLog struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresAccessLog constructs an access log backed by PostgreSQL.
func NewPostgresAccessLog(pool db.Pool) *PostgresAccessLog {
	return &PostgresAccessLog{pool: pool, now: time.Now}
}

// WithNowFunc allows tests to override the time source used for windowing.
func (r *PostgresAccessLog) WithNowFunc(now func() time.Time) *PostgresAccessLog {
	r.now = now
	return r
}

// Record inserts an entry. Missing ids and timestamps are filled in.
func (r *PostgresAccessLog) Record(ctx context.Context, entry models.AccessLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO access_log (id, user_id, module_id, occurred_at, granted, reason, ip_address, user_agent)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, entry.ID, entry.UserID, entry.ModuleID, entry.Timestamp.UTC(), entry.Granted, entry.Reason, entry.IPAddress, entry.UserAgent)
	if err != nil {
		return fmt.Errorf("insert access log entry: %w", err)
	}
	return nil
}

// CountFailedAttempts counts denied entries for userID within the trailing window.
func (r *PostgresAccessLog) CountFailedAttempts(ctx context.Context, userID string, window time.Duration) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int64
	err = conn.QueryRow(ctx, `
        SELECT count(*)
        FROM access_log
        WHERE user_id = $1 AND granted = FALSE AND occurred_at >= $2
    `, userID, r.now().Add(-window).UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return int(count), nil
}

// ListForUser returns the user's most recent entries, newest first.
func (r *PostgresAccessLog) ListForUser(ctx context.Context, userID string, limit int) ([]models.AccessLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, user_id, module_id, occurred_at, granted, reason, ip_address, user_agent
        FROM access_log
        WHERE user_id = $1
        ORDER BY occurred_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query access log: %w", err)
	}
	defer rows.Close()

	var entries []models.AccessLogEntry
	for rows.Next() {
		var entry models.AccessLogEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.ModuleID, &entry.Timestamp, &entry.Granted, &entry.Reason, &entry.IPAddress, &entry.UserAgent); err != nil {
			return nil, fmt.Errorf("scan access log entry: %w", err)
		}
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access log: %w", err)
	}
	return entries, nil
}

var _ audit.Log = (*PostgresAccessLog)(nil)
