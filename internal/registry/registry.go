// Package registry holds the process-wide session map and the per-session
// listener set.
//
// A Session is one live speaker plus the listeners subscribed to it. The
// registry owns session lifecycle (create, TTL eviction, delete) while the
// Session owns its own broadcast state and listener membership. Listener
// count is tracked as an atomic counter floored at zero; during a connection
// refresh the new connection joins before the old one disconnects, so the
// counter may transiently exceed the listener-set size.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/clock"
)

var (
	// ErrSessionExists is returned by Create for a duplicate session ID.
	ErrSessionExists = errors.New("registry: session already exists")

	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("registry: session not found")
)

// BroadcastState is the mutable broadcast switchboard of a session.
type BroadcastState struct {
	Active bool
	Paused bool
	Muted  bool

	// Volume is the speaker-side gain in [0, 1].
	Volume float64
}

// Listener is one subscribed connection within a session.
type Listener struct {
	ConnectionID   string
	TargetLanguage string
	ConnectedAt    time.Time

	// Buffer is the per-listener outbound audio ring.
	Buffer *audio.Ring
}

// Session is a live broadcast: one speaker, many listeners.
type Session struct {
	ID             string
	SourceLanguage string
	SpeakerConnID  string
	CreatedAt      time.Time
	ExpiresAt      time.Time

	maxBufferBytes int
	clk            clock.Clock

	mu        sync.RWMutex
	state     BroadcastState
	listeners map[string]*Listener

	// count tracks live connections, not map entries: it is incremented
	// when a connection joins and decremented (floored at zero) when one
	// disconnects, which may overlap during a refresh handshake.
	count atomic.Int64
}

// Config holds registry tuning knobs.
type Config struct {
	// SessionTTL bounds an idle session's lifetime. Default: 4 hours.
	SessionTTL time.Duration

	// ListenerBufferBytes is the per-listener ring capacity.
	// Default: 10 s of 16 kHz 16-bit mono PCM.
	ListenerBufferBytes int

	// RefreshAge is the connection age after which a listener is told to
	// refresh. Default: 100 minutes.
	RefreshAge time.Duration
}

// Registry is the process-wide session map. Construct with New.
type Registry struct {
	cfg Config
	clk clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a Registry. Zero-value config fields are replaced with
// defaults.
func New(cfg Config, clk clock.Clock) *Registry {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 4 * time.Hour
	}
	if cfg.ListenerBufferBytes <= 0 {
		cfg.ListenerBufferBytes = 10 * audio.BytesPerSecond
	}
	if cfg.RefreshAge <= 0 {
		cfg.RefreshAge = 100 * time.Minute
	}
	return &Registry{
		cfg:      cfg,
		clk:      clk,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session under id. The session starts active,
// unpaused, unmuted, at full volume.
func (r *Registry) Create(id, sourceLanguage, speakerConnID string) (*Session, error) {
	now := r.clk.Now()
	s := &Session{
		ID:             id,
		SourceLanguage: sourceLanguage,
		SpeakerConnID:  speakerConnID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.cfg.SessionTTL),
		maxBufferBytes: r.cfg.ListenerBufferBytes,
		clk:            r.clk,
		state:          BroadcastState{Active: true, Volume: 1.0},
		listeners:      make(map[string]*Listener),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, id)
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete removes the session. Unknown IDs are a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictExpired removes sessions past their TTL and returns their IDs.
func (r *Registry) EvictExpired() []string {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// StaleListeners returns, per session, the connection IDs whose single
// connection has been held for at least the refresh age. The caller sends
// each one a refresh-required control message.
func (r *Registry) StaleListeners() map[string][]string {
	now := r.clk.Now()
	cutoff := now.Add(-r.cfg.RefreshAge)

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string)
	for id, s := range r.sessions {
		s.mu.RLock()
		for _, l := range s.listeners {
			if !l.ConnectedAt.After(cutoff) {
				out[id] = append(out[id], l.ConnectionID)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// ─── Session operations ─────────────────────────────────────────────────────

// AddListener subscribes a connection with a target language, allocating its
// audio ring. Re-adding an existing connection ID replaces the listener
// without growing the connection count. During a refresh handshake the new
// connection ID is added first, so the count transiently exceeds the set
// size until the old connection is removed.
func (s *Session) AddListener(connectionID, targetLanguage string) *Listener {
	l := &Listener{
		ConnectionID:   connectionID,
		TargetLanguage: targetLanguage,
		ConnectedAt:    s.clk.Now(),
		Buffer:         audio.NewRing(s.maxBufferBytes),
	}

	s.mu.Lock()
	_, replacing := s.listeners[connectionID]
	s.listeners[connectionID] = l
	s.mu.Unlock()

	if !replacing {
		s.count.Add(1)
	}
	return l
}

// RemoveListener unsubscribes a connection and clears its buffer. The count
// is decremented with a floor of zero; removing an unknown ID still counts
// as a disconnect of a connection the registry saw join.
func (s *Session) RemoveListener(connectionID string) {
	s.mu.Lock()
	l, ok := s.listeners[connectionID]
	delete(s.listeners, connectionID)
	s.mu.Unlock()

	if ok {
		l.Buffer.Clear()
	}

	for {
		cur := s.count.Load()
		if cur <= 0 {
			return
		}
		if s.count.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// ListenerCount returns the live connection counter. It may transiently
// exceed len(ListListeners("")) during a refresh handshake and is never
// negative.
func (s *Session) ListenerCount() int64 {
	return s.count.Load()
}

// Listener returns the listener for connectionID, or nil.
func (s *Session) Listener(connectionID string) *Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners[connectionID]
}

// ListListeners returns the listeners subscribed with targetLanguage, or all
// listeners when targetLanguage is empty.
func (s *Session) ListListeners(targetLanguage string) []*Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		if targetLanguage == "" || l.TargetLanguage == targetLanguage {
			out = append(out, l)
		}
	}
	return out
}

// TargetLanguages returns the distinct target languages across live
// listeners, sorted for deterministic fan-out order.
func (s *Session) TargetLanguages() []string {
	s.mu.RLock()
	seen := make(map[string]struct{}, len(s.listeners))
	for _, l := range s.listeners {
		seen[l.TargetLanguage] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// BroadcastState returns a snapshot of the session's broadcast state.
func (s *Session) BroadcastState() BroadcastState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UpdateBroadcastState applies fn to the broadcast state under the session
// lock and returns the resulting snapshot. Volume is clamped to [0, 1].
func (s *Session) UpdateBroadcastState(fn func(*BroadcastState)) BroadcastState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	if s.state.Volume < 0 {
		s.state.Volume = 0
	}
	if s.state.Volume > 1 {
		s.state.Volume = 1
	}
	return s.state
}

// Touch extends the session's TTL from now.
func (s *Session) Touch(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiresAt = s.clk.Now().Add(ttl)
}
