package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxrelay/voxrelay/internal/cache"
)

// CacheStore persists translation cache entries. It satisfies [cache.Store],
// so the in-memory cache can read through and write through to it.
type CacheStore struct {
	pool *pgxpool.Pool
}

// Ensure CacheStore implements cache.Store at compile time.
var _ cache.Store = (*CacheStore)(nil)

// Get returns the entry for key, or nil when absent.
func (s *CacheStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	const q = `
		SELECT cache_key, source_text, translated_text,
		       created_at, last_accessed_at, expires_at, access_count
		FROM translation_cache
		WHERE cache_key = $1`

	var e cache.Entry
	err := s.pool.QueryRow(ctx, q, key).Scan(
		&e.Key, &e.SourceText, &e.TranslatedText,
		&e.CreatedAt, &e.LastAccessedAt, &e.ExpiresAt, &e.AccessCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache store: get %q: %w", key, err)
	}
	return &e, nil
}

// Put inserts or replaces an entry.
func (s *CacheStore) Put(ctx context.Context, e cache.Entry) error {
	const q = `
		INSERT INTO translation_cache
		    (cache_key, source_text, translated_text,
		     created_at, last_accessed_at, expires_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cache_key) DO UPDATE SET
		    source_text      = EXCLUDED.source_text,
		    translated_text  = EXCLUDED.translated_text,
		    created_at       = EXCLUDED.created_at,
		    last_accessed_at = EXCLUDED.last_accessed_at,
		    expires_at       = EXCLUDED.expires_at,
		    access_count     = EXCLUDED.access_count`

	_, err := s.pool.Exec(ctx, q,
		e.Key, e.SourceText, e.TranslatedText,
		e.CreatedAt, e.LastAccessedAt, e.ExpiresAt, e.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("cache store: put %q: %w", e.Key, err)
	}
	return nil
}

// Touch updates access metadata for key.
func (s *CacheStore) Touch(ctx context.Context, key string, at time.Time, accessCount int64) error {
	const q = `
		UPDATE translation_cache
		SET last_accessed_at = $2, access_count = $3
		WHERE cache_key = $1`

	if _, err := s.pool.Exec(ctx, q, key, at, accessCount); err != nil {
		return fmt.Errorf("cache store: touch %q: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (s *CacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `DELETE FROM translation_cache WHERE cache_key = ANY($1)`
	if _, err := s.pool.Exec(ctx, q, keys); err != nil {
		return fmt.Errorf("cache store: delete: %w", err)
	}
	return nil
}

// DeleteExpired reaps entries past their TTL and returns the count removed.
// Intended to run from a periodic janitor.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM translation_cache WHERE expires_at <= $1`
	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("cache store: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
