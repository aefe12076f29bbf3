// Package cache implements the process-wide translation cache shared by all
// sessions.
//
// The cache is content-addressed: entries are keyed by source language,
// target language, and the fingerprint of the normalized source text, so the
// same sentence spoken twice hits regardless of casing or spacing. Entries
// expire after a TTL and the cache is bounded; on overflow the least-used,
// least-recently-accessed tenth of the capacity is evicted in one scan.
//
// Caching is advisory. An optional persistent [Store] backs the in-memory
// map; its failures are swallowed — a lookup error is a miss, a write error
// is a log line.
//
// All methods are safe for concurrent use.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/pkg/clock"
	"github.com/voxrelay/voxrelay/pkg/textnorm"
)

// Entry is one cached translation with its access metadata.
type Entry struct {
	Key            string
	SourceText     string
	TranslatedText string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	AccessCount    int64
}

// Store is an optional persistent backing for cache entries. Implementations
// must be safe for concurrent use. All errors are treated as advisory by the
// cache.
type Store interface {
	// Get returns the entry for key, or nil when absent.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put inserts or replaces an entry.
	Put(ctx context.Context, e Entry) error

	// Touch updates access metadata for key. Best-effort.
	Touch(ctx context.Context, key string, at time.Time, accessCount int64) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error
}

// Key builds the cache key "{src}:{tgt}:{fingerprint16}".
func Key(src, tgt, text string) string {
	return src + ":" + tgt + ":" + textnorm.Fingerprint(text)
}

// Config holds cache tuning knobs.
type Config struct {
	// MaxEntries bounds the in-memory entry count. Default: 10000.
	MaxEntries int

	// TTL is the entry lifetime. Default: 1 hour.
	TTL time.Duration
}

// Option is a functional option for configuring a Cache.
type Option func(*Cache)

// WithStore attaches a persistent backing store.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithMetrics attaches a metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is the in-memory translation cache. Construct with [New].
type Cache struct {
	cfg     Config
	clk     clock.Clock
	store   Store
	metrics *observe.Metrics

	// mu also serializes eviction scans, so two overflowing writers never
	// evict the same batch twice.
	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates a Cache with the given config and clock. Zero-value config
// fields are replaced with defaults.
func New(cfg Config, clk clock.Clock, opts ...Option) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	c := &Cache{
		cfg:     cfg,
		clk:     clk,
		entries: make(map[string]*Entry),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Lookup returns the cached translation for (src, tgt, text), or ok=false on
// miss. A hit bumps the entry's access count and recency. Expired entries
// are evicted lazily here.
func (c *Cache) Lookup(ctx context.Context, src, tgt, text string) (string, bool) {
	key := Key(src, tgt, text)
	now := c.clk.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.ExpiresAt.After(now) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.metrics.CacheEvictions.Add(ctx, 1)
		c.metrics.CacheSize.Add(ctx, -1)
		c.metrics.RecordCacheLookup(ctx, false)
		return "", false
	}
	if ok {
		e.AccessCount++
		e.LastAccessedAt = now
		translated, count := e.TranslatedText, e.AccessCount
		c.mu.Unlock()

		c.metrics.RecordCacheLookup(ctx, true)
		if c.store != nil {
			// Best-effort metadata write; failures are non-fatal.
			if err := c.store.Touch(ctx, key, now, count); err != nil {
				slog.Debug("cache: touch failed", "key", key, "err", err)
			}
		}
		return translated, true
	}
	c.mu.Unlock()

	// Fall through to the persistent store; errors are a miss.
	if c.store != nil {
		stored, err := c.store.Get(ctx, key)
		if err != nil {
			slog.Warn("cache: backing lookup failed, treating as miss", "key", key, "err", err)
		} else if stored != nil && stored.ExpiresAt.After(now) {
			stored.AccessCount++
			stored.LastAccessedAt = now

			c.mu.Lock()
			c.entries[key] = stored
			evicted := c.evictLocked(ctx, now)
			c.mu.Unlock()

			c.metrics.CacheSize.Add(ctx, 1-int64(evicted))
			c.metrics.RecordCacheLookup(ctx, true)
			return stored.TranslatedText, true
		}
	}

	c.metrics.RecordCacheLookup(ctx, false)
	return "", false
}

// StoreTranslation inserts a translation for (src, tgt, text). Overflow
// triggers a capacity eviction before the call returns, so the new entry is
// never the one reported stored and immediately removed.
func (c *Cache) StoreTranslation(ctx context.Context, src, tgt, text, translation string) {
	key := Key(src, tgt, text)
	now := c.clk.Now()
	e := &Entry{
		Key:            key,
		SourceText:     text,
		TranslatedText: translation,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(c.cfg.TTL),
		AccessCount:    1,
	}

	c.mu.Lock()
	_, replacing := c.entries[key]
	c.entries[key] = e
	evicted := 0
	if !replacing && len(c.entries) > c.cfg.MaxEntries {
		evicted = c.evictLocked(ctx, now)
	}
	c.mu.Unlock()

	delta := int64(-evicted)
	if !replacing {
		delta++
	}
	if delta != 0 {
		c.metrics.CacheSize.Add(ctx, delta)
	}

	if c.store != nil {
		// Write-through is advisory: log and swallow failures.
		if err := c.store.Put(ctx, *e); err != nil {
			slog.Warn("cache: backing store failed", "key", key, "err", err)
		}
	}
}

// Len returns the current in-memory entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked removes expired entries, then — if still over capacity —
// the ceil(0.1·max) entries ranked lowest by (accessCount, lastAccessedAt).
// The new entry that triggered the eviction is protected only by its fresh
// recency, which suffices: it ranks above anything older with equal count.
// Returns the number of entries removed. Must be called with the lock held.
func (c *Cache) evictLocked(ctx context.Context, now time.Time) int {
	var removedKeys []string
	for k, e := range c.entries {
		if !e.ExpiresAt.After(now) {
			delete(c.entries, k)
			removedKeys = append(removedKeys, k)
		}
	}

	if len(c.entries) > c.cfg.MaxEntries {
		batch := (c.cfg.MaxEntries + 9) / 10

		victims := make([]*Entry, 0, len(c.entries))
		for _, e := range c.entries {
			victims = append(victims, e)
		}
		sort.Slice(victims, func(i, j int) bool {
			if victims[i].AccessCount != victims[j].AccessCount {
				return victims[i].AccessCount < victims[j].AccessCount
			}
			return victims[i].LastAccessedAt.Before(victims[j].LastAccessedAt)
		})
		if batch > len(victims) {
			batch = len(victims)
		}
		for _, e := range victims[:batch] {
			delete(c.entries, e.Key)
			removedKeys = append(removedKeys, e.Key)
		}
	}

	if len(removedKeys) > 0 {
		c.metrics.CacheEvictions.Add(ctx, int64(len(removedKeys)))
		if c.store != nil {
			if err := c.store.Delete(ctx, removedKeys...); err != nil {
				slog.Debug("cache: backing delete failed", "err", err)
			}
		}
	}
	return len(removedKeys)
}
