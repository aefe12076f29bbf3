package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRecord is the persisted form of a broadcast session.
type SessionRecord struct {
	SessionID      string
	SourceLanguage string
	SpeakerConnID  string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// ConnectionRecord is the persisted form of a listener connection.
type ConnectionRecord struct {
	ConnectionID   string
	SessionID      string
	TargetLanguage string
	ConnectedAt    time.Time
	ExpiresAt      time.Time
}

// SessionStore persists sessions and listener connections so a restarted
// server can resume a broadcast fleet.
type SessionStore struct {
	pool *pgxpool.Pool
}

// SaveSession inserts or refreshes a session record.
func (s *SessionStore) SaveSession(ctx context.Context, r SessionRecord) error {
	const q = `
		INSERT INTO sessions
		    (session_id, source_language, speaker_conn_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
		    source_language = EXCLUDED.source_language,
		    speaker_conn_id = EXCLUDED.speaker_conn_id,
		    expires_at      = EXCLUDED.expires_at`

	_, err := s.pool.Exec(ctx, q,
		r.SessionID, r.SourceLanguage, r.SpeakerConnID, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session store: save %q: %w", r.SessionID, err)
	}
	return nil
}

// GetSession returns the session record, or nil when absent.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	const q = `
		SELECT session_id, source_language, speaker_conn_id, created_at, expires_at
		FROM sessions
		WHERE session_id = $1`

	var r SessionRecord
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&r.SessionID, &r.SourceLanguage, &r.SpeakerConnID, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get %q: %w", sessionID, err)
	}
	return &r, nil
}

// DeleteSession removes a session and its connections.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM connections WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("session store: delete connections for %q: %w", sessionID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("session store: delete %q: %w", sessionID, err)
	}
	return tx.Commit(ctx)
}

// SaveConnection inserts or refreshes a listener connection record.
func (s *SessionStore) SaveConnection(ctx context.Context, r ConnectionRecord) error {
	const q = `
		INSERT INTO connections
		    (connection_id, session_id, target_language, connected_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connection_id) DO UPDATE SET
		    session_id      = EXCLUDED.session_id,
		    target_language = EXCLUDED.target_language,
		    expires_at      = EXCLUDED.expires_at`

	_, err := s.pool.Exec(ctx, q,
		r.ConnectionID, r.SessionID, r.TargetLanguage, r.ConnectedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session store: save connection %q: %w", r.ConnectionID, err)
	}
	return nil
}

// DeleteConnection removes a listener connection record.
func (s *SessionStore) DeleteConnection(ctx context.Context, connectionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("session store: delete connection %q: %w", connectionID, err)
	}
	return nil
}

// ListConnections returns the listener connections of a session.
func (s *SessionStore) ListConnections(ctx context.Context, sessionID string) ([]ConnectionRecord, error) {
	const q = `
		SELECT connection_id, session_id, target_language, connected_at, expires_at
		FROM connections
		WHERE session_id = $1
		ORDER BY connected_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: list connections for %q: %w", sessionID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConnectionRecord, error) {
		var r ConnectionRecord
		err := row.Scan(&r.ConnectionID, &r.SessionID, &r.TargetLanguage, &r.ConnectedAt, &r.ExpiresAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: collect connections: %w", err)
	}
	return out, nil
}

// DeleteExpired reaps sessions and connections past their TTL.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("session store: delete expired connections: %w", err)
	}
	total += tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return total, fmt.Errorf("session store: delete expired sessions: %w", err)
	}
	return total + tag.RowsAffected(), nil
}
