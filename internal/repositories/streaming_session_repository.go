package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/sessions"
)

// PostgresSessionStore persists streaming sessions. State changes are
// conditional on the row still being active, so terminal states never revert.
// Insert does not enforce the active-session cap; that relies on the
// registry's per-user Locker, which must be Redis-backed when several
// replicas share this database.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Insert stores a new session.
func (s *PostgresSessionStore) Insert(ctx context.Context, session models.StreamingSession) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO streaming_sessions (id, user_id, module_id, state, started_at, last_heartbeat_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, session.ID, session.UserID, session.ModuleID, string(session.State), session.StartedAt.UTC(), session.LastHeartbeatAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return sessions.ErrSessionExists
		}
		return fmt.Errorf("insert streaming session: %w", err)
	}
	return nil
}

// Find loads a session by id.
func (s *PostgresSessionStore) Find(ctx context.Context, sessionID string) (models.StreamingSession, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.StreamingSession{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return findSession(ctx, conn, sessionID)
}

// ListActive returns the user's active sessions.
func (s *PostgresSessionStore) ListActive(ctx context.Context, userID string) ([]models.StreamingSession, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, user_id, module_id, state, started_at, last_heartbeat_at, ended_at
        FROM streaming_sessions
        WHERE user_id = $1 AND state = 'active'
        ORDER BY started_at
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var active []models.StreamingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan streaming session: %w", err)
		}
		active = append(active, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}
	return active, nil
}

// Transition moves an active session into a terminal state.
func (s *PostgresSessionStore) Transition(ctx context.Context, sessionID string, to models.SessionState, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("sessions: cannot transition to %q", to)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE streaming_sessions
        SET state = $2, ended_at = $3
        WHERE id = $1 AND state = 'active'
    `, sessionID, string(to), at.UTC())
	if err != nil {
		return fmt.Errorf("update streaming session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return explainNoUpdate(ctx, conn, sessionID)
	}
	return nil
}

// Touch records a heartbeat on an active session.
func (s *PostgresSessionStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE streaming_sessions
        SET last_heartbeat_at = $2
        WHERE id = $1 AND state = 'active'
    `, sessionID, at.UTC())
	if err != nil {
		return fmt.Errorf("update streaming session heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return explainNoUpdate(ctx, conn, sessionID)
	}
	return nil
}

// ExpireIdle expires every active session whose heartbeat is older than cutoff.
func (s *PostgresSessionStore) ExpireIdle(ctx context.Context, cutoff, at time.Time) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE streaming_sessions
        SET state = 'expired', ended_at = $2
        WHERE state = 'active' AND last_heartbeat_at < $1
    `, cutoff.UTC(), at.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (models.StreamingSession, error) {
	var (
		session models.StreamingSession
		state   string
		endedAt sql.NullTime
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.ModuleID, &state, &session.StartedAt, &session.LastHeartbeatAt, &endedAt); err != nil {
		return models.StreamingSession{}, err
	}
	session.State = models.SessionState(state)
	session.StartedAt = session.StartedAt.UTC()
	session.LastHeartbeatAt = session.LastHeartbeatAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		session.EndedAt = &t
	}
	return session, nil
}

func findSession(ctx context.Context, conn *pgxpool.Conn, sessionID string) (models.StreamingSession, error) {
	row := conn.QueryRow(ctx, `
        SELECT id, user_id, module_id, state, started_at, last_heartbeat_at, ended_at
        FROM streaming_sessions
        WHERE id = $1
    `, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if isNoRows(err) {
			return models.StreamingSession{}, sessions.ErrSessionNotFound
		}
		return models.StreamingSession{}, fmt.Errorf("select streaming session: %w", err)
	}
	return session, nil
}

// explainNoUpdate distinguishes a missing session from one already terminal.
func explainNoUpdate(ctx context.Context, conn *pgxpool.Conn, sessionID string) error {
	session, err := findSession(ctx, conn, sessionID)
	if err != nil {
		return err
	}
	if session.State != models.SessionActive {
		return sessions.ErrSessionNotActive
	}
	return fmt.Errorf("streaming session %s changed concurrently", sessionID)
}

var _ sessions.Store = (*PostgresSessionStore)(nil)
