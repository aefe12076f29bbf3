// Package postgres provides PostgreSQL persistence for the three durable
// collections: sessions, listener connections, and translation cache
// entries.
//
// Persistence is optional; when no DSN is configured the server runs fully
// in-process. All operations share a single [pgxpool.Pool] and are safe for
// concurrent use.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed persistence layer. Construct with
// [NewStore].
type Store struct {
	pool     *pgxpool.Pool
	cache    *CacheStore
	sessions *SessionStore
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, and runs [Migrate] to ensure the required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		cache:    &CacheStore{pool: pool},
		sessions: &SessionStore{pool: pool},
	}, nil
}

// Cache returns the translation-cache backing store.
func (s *Store) Cache() *CacheStore { return s.cache }

// Sessions returns the session and connection store.
func (s *Store) Sessions() *SessionStore { return s.sessions }

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
