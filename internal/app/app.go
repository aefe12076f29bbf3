// Package app wires all VoxRelay subsystems into a running application.
//
// The App owns the process-wide pieces — session registry, translation
// cache, optional Postgres persistence — and the lifecycle of per-session
// runners. Each runner ties one upstream transcription stream through the
// partial-result gate into the fan-out pipeline.
//
// For testing, inject mock providers via the Providers struct; every
// external collaborator is an interface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/cache"
	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/internal/store/postgres"
	"github.com/voxrelay/voxrelay/pkg/clock"
	"github.com/voxrelay/voxrelay/pkg/provider/synthesize"
	"github.com/voxrelay/voxrelay/pkg/provider/transcribe"
	"github.com/voxrelay/voxrelay/pkg/provider/translate"
	"github.com/voxrelay/voxrelay/pkg/transport"
)

// Providers holds one interface value per external collaborator. Populated
// by main.go from the config; tests inject mocks.
type Providers struct {
	Transcriber transcribe.Provider
	Translator  translate.Provider
	Synthesizer synthesize.Provider
	Broadcaster transport.Broadcaster
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClock injects a clock. Default: clock.System.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithMetrics injects a metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithStore injects a persistence layer instead of connecting from config.
func WithStore(s *postgres.Store) Option {
	return func(a *App) { a.store = s }
}

// App owns all subsystem lifetimes. Construct with New, tear down with
// Shutdown.
type App struct {
	cfg       *config.Config
	providers *Providers
	clk       clock.Clock
	metrics   *observe.Metrics

	registry *registry.Registry
	cache    *cache.Cache
	store    *postgres.Store // nil without a DSN

	mu      sync.Mutex
	runners map[string]*SessionRunner

	closers  []func() error
	stopOnce sync.Once
}

// New creates an App by wiring the process-wide subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		runners:   make(map[string]*SessionRunner),
	}
	for _, o := range opts {
		o(a)
	}
	if a.clk == nil {
		a.clk = clock.System()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.store == nil && cfg.Store.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: init store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	cacheOpts := []cache.Option{cache.WithMetrics(a.metrics)}
	if a.store != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(a.store.Cache()))
	}
	a.cache = cache.New(cfg.CacheSettings(), a.clk, cacheOpts...)
	a.registry = registry.New(cfg.RegistryConfig(), a.clk)

	return a, nil
}

// Registry exposes the session registry to the control plane.
func (a *App) Registry() *registry.Registry { return a.registry }

// StartSession creates a session and its runner: an upstream transcription
// stream feeding the gate and the fan-out pipeline.
func (a *App) StartSession(ctx context.Context, sessionID, sourceLanguage, speakerConnID string) (*SessionRunner, error) {
	sess, err := a.registry.Create(sessionID, sourceLanguage, speakerConnID)
	if err != nil {
		return nil, err
	}

	r, err := newSessionRunner(ctx, a, sess)
	if err != nil {
		a.registry.Delete(sessionID)
		return nil, fmt.Errorf("app: start session %q: %w", sessionID, err)
	}

	a.mu.Lock()
	a.runners[sessionID] = r
	a.mu.Unlock()

	a.metrics.ActiveSessions.Add(ctx, 1)
	a.persistSession(ctx, sess)
	slog.Info("session started", "session_id", sessionID, "source_language", sourceLanguage)
	return r, nil
}

// Runner returns the live runner for a session, or nil.
func (a *App) Runner(sessionID string) *SessionRunner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runners[sessionID]
}

// EndSession deactivates a session: in-flight work is cancelled, listeners
// receive a sessionEnded control message, and the session is removed.
func (a *App) EndSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	r := a.runners[sessionID]
	delete(a.runners, sessionID)
	a.mu.Unlock()

	sess, err := a.registry.Get(sessionID)
	if err != nil {
		return err
	}
	sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Active = false })

	if r != nil {
		r.stop()
	}

	for _, l := range sess.ListListeners("") {
		msg := transport.ControlMessage{Type: transport.ControlSessionEnded, SessionID: sessionID}
		if err := a.providers.Broadcaster.SendControl(ctx, l.ConnectionID, msg); err != nil && !transport.IsGone(err) {
			slog.Warn("sessionEnded notify failed", "connection_id", l.ConnectionID, "err", err)
		}
		_ = a.providers.Broadcaster.Disconnect(l.ConnectionID)
	}

	a.registry.Delete(sessionID)
	a.metrics.ActiveSessions.Add(ctx, -1)
	if a.store != nil {
		if err := a.store.Sessions().DeleteSession(ctx, sessionID); err != nil {
			slog.Warn("session delete not persisted", "session_id", sessionID, "err", err)
		}
	}
	slog.Info("session ended", "session_id", sessionID)
	return nil
}

// AddListener subscribes a connection to a session with a target language.
func (a *App) AddListener(ctx context.Context, sessionID, connectionID, targetLanguage string) error {
	sess, err := a.registry.Get(sessionID)
	if err != nil {
		return err
	}
	l := sess.AddListener(connectionID, targetLanguage)
	a.metrics.ActiveListeners.Add(ctx, 1)

	if a.store != nil {
		rec := postgres.ConnectionRecord{
			ConnectionID:   connectionID,
			SessionID:      sessionID,
			TargetLanguage: targetLanguage,
			ConnectedAt:    l.ConnectedAt,
			ExpiresAt:      sess.ExpiresAt,
		}
		if err := a.store.Sessions().SaveConnection(ctx, rec); err != nil {
			slog.Warn("listener not persisted", "connection_id", connectionID, "err", err)
		}
	}
	slog.Info("listener joined", "session_id", sessionID,
		"connection_id", connectionID, "target_language", targetLanguage)
	return nil
}

// RemoveListener unsubscribes a connection from a session.
func (a *App) RemoveListener(ctx context.Context, sessionID, connectionID string) error {
	sess, err := a.registry.Get(sessionID)
	if err != nil {
		return err
	}
	sess.RemoveListener(connectionID)
	a.metrics.ActiveListeners.Add(ctx, -1)

	if a.store != nil {
		if err := a.store.Sessions().DeleteConnection(ctx, connectionID); err != nil {
			slog.Warn("listener removal not persisted", "connection_id", connectionID, "err", err)
		}
	}
	slog.Info("listener left", "session_id", sessionID, "connection_id", connectionID)
	return nil
}

// Shutdown stops all runners and tears subsystems down in order. Safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		ids := make([]string, 0, len(a.runners))
		for id := range a.runners {
			ids = append(ids, id)
		}
		a.mu.Unlock()

		for _, id := range ids {
			if e := a.EndSession(ctx, id); e != nil {
				slog.Warn("session teardown failed", "session_id", id, "err", e)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			if e := a.closers[i](); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}

// persistSession writes the session record; persistence is best-effort.
func (a *App) persistSession(ctx context.Context, sess *registry.Session) {
	if a.store == nil {
		return
	}
	rec := postgres.SessionRecord{
		SessionID:      sess.ID,
		SourceLanguage: sess.SourceLanguage,
		SpeakerConnID:  sess.SpeakerConnID,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
	}
	if err := a.store.Sessions().SaveSession(ctx, rec); err != nil {
		slog.Warn("session not persisted", "session_id", sess.ID, "err", err)
	}
}

// RunMaintenance drives TTL eviction and the connection-refresh heartbeat
// until the context is cancelled.
func (a *App) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.maintain(ctx)
		}
	}
}

func (a *App) maintain(ctx context.Context) {
	for _, id := range a.registry.EvictExpired() {
		slog.Info("session expired", "session_id", id)
		a.mu.Lock()
		r := a.runners[id]
		delete(a.runners, id)
		a.mu.Unlock()
		if r != nil {
			r.stop()
		}
	}

	// Long-held connections are told to refresh; the replacement joins
	// before the old connection drops, which the registry tolerates.
	for sessionID, conns := range a.registry.StaleListeners() {
		for _, connID := range conns {
			msg := transport.ControlMessage{Type: transport.ControlRefreshRequired, SessionID: sessionID}
			if err := a.providers.Broadcaster.SendControl(ctx, connID, msg); err != nil {
				if transport.IsGone(err) {
					_ = a.RemoveListener(ctx, sessionID, connID)
				}
			}
		}
	}

	if a.store != nil {
		now := a.clk.Now()
		if _, err := a.store.Sessions().DeleteExpired(ctx, now); err != nil {
			slog.Debug("expired session reap failed", "err", err)
		}
		if _, err := a.store.Cache().DeleteExpired(ctx, now); err != nil {
			slog.Debug("expired cache reap failed", "err", err)
		}
	}
}
