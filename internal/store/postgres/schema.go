package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id       TEXT         PRIMARY KEY,
    source_language  TEXT         NOT NULL,
    speaker_conn_id  TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at       TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires_at
    ON sessions (expires_at);
`

const ddlConnections = `
CREATE TABLE IF NOT EXISTS connections (
    connection_id    TEXT         PRIMARY KEY,
    session_id       TEXT         NOT NULL,
    target_language  TEXT         NOT NULL,
    connected_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at       TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connections_session_id
    ON connections (session_id);
`

const ddlTranslationCache = `
CREATE TABLE IF NOT EXISTS translation_cache (
    cache_key         TEXT         PRIMARY KEY,
    source_text       TEXT         NOT NULL,
    translated_text   TEXT         NOT NULL,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_accessed_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at        TIMESTAMPTZ  NOT NULL,
    access_count      BIGINT       NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_translation_cache_expires_at
    ON translation_cache (expires_at);
`

// Migrate creates all required tables and indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSessions, ddlConnections, ddlTranslationCache} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
