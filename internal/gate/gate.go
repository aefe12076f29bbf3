// Package gate turns the noisy stream of partial transcription results into
// a minimal, ordered sequence of stable utterances.
//
// The gate is a pure state machine: every transition is driven by an
// explicit timestamp, either the arrival time of an event ([Gate.Ingest]) or
// a timer tick ([Gate.Tick]). It never reads the wall clock, which makes its
// behaviour fully reproducible in tests.
//
// Internally it chains four stages:
//
//	rate limiter  → result buffer → boundary detection → deduplication
//
// The rate limiter collapses each 200 ms window of partials into one
// representative. The buffer holds results keyed by result ID with
// replace-on-same-id semantics and a word-capacity bound. Boundary detection
// decides when a buffered result is ready to leave (final, terminal
// punctuation, inter-forward pause, or age). Deduplication suppresses
// re-emission of fingerprint-identical text within a short window.
package gate

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/pkg/textnorm"
)

// Metric recording inside the state machine carries no request context.
var contextless = context.Background()

// Result is one upstream transcription event, partial or final.
//
// Stability is nil when the upstream carried no stability score; nil is
// distinct from 0.
type Result struct {
	ResultID  string
	Text      string
	Stability *float64
	IsFinal   bool

	// StartTime and EndTime are stream-relative offsets in seconds.
	StartTime float64
	EndTime   *float64

	ArrivedAt time.Time
}

// wellFormed reports whether the event carries the fields the gate requires.
func (r Result) wellFormed() bool {
	return r.ResultID != "" && strings.TrimSpace(r.Text) != ""
}

// score returns the stability score with nil treated as 0.
func (r Result) score() float64 {
	if r.Stability == nil {
		return 0
	}
	return *r.Stability
}

// Utterance is a stable, ready-to-translate unit of text.
type Utterance struct {
	ID             string
	SessionID      string
	SourceLanguage string
	Text           string

	// StartTime and EndTime are stream-relative offsets of the originating
	// result in seconds. EndTime is 0 when the upstream never reported one.
	StartTime float64
	EndTime   float64

	ProducedAt    time.Time
	CorrelationID string
}

// Config holds the gate's tuning knobs. Zero values select the defaults
// noted per field.
type Config struct {
	// Window is the rate-limiter window. Default: 200 ms.
	Window time.Duration

	// MaxPerSecond caps released results per second. Default: 5.
	MaxPerSecond int

	// StabilityThreshold is the minimum score for forwarding. Default: 0.7.
	StabilityThreshold float64

	// BlindTimeout makes a score-less result eligible after this long in the
	// buffer. Default: 3 s.
	BlindTimeout time.Duration

	// MaxBufferedWords bounds the total words across buffered results.
	// Default: 300 (30 words/s · 10 s).
	MaxBufferedWords int

	// ForwardTimeout forces a buffered entry out after this age. Default: 5 s.
	ForwardTimeout time.Duration

	// PauseThreshold is the inter-forward gap that forces a boundary.
	// Default: 2 s.
	PauseThreshold time.Duration

	// OrphanTimeout forwards an entry never paired with a final. Default: 15 s.
	OrphanTimeout time.Duration

	// DedupTTL is the fingerprint suppression window. Default: 10 s.
	DedupTTL time.Duration

	// DedupMaxEntries triggers a full clear of the dedup set. Default: 10000.
	DedupMaxEntries int
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 200 * time.Millisecond
	}
	if c.MaxPerSecond <= 0 {
		c.MaxPerSecond = 5
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = 0.7
	}
	if c.BlindTimeout <= 0 {
		c.BlindTimeout = 3 * time.Second
	}
	if c.MaxBufferedWords <= 0 {
		c.MaxBufferedWords = 300
	}
	if c.ForwardTimeout <= 0 {
		c.ForwardTimeout = 5 * time.Second
	}
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = 2 * time.Second
	}
	if c.OrphanTimeout <= 0 {
		c.OrphanTimeout = 15 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Second
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 10000
	}
}

// Option is a functional option for configuring a Gate.
type Option func(*Gate)

// WithMetrics attaches a metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger attaches a logger. Default: slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// Gate is the per-session partial-result gate. It is driven by a single
// goroutine (the session's gate worker) and is NOT safe for concurrent use.
type Gate struct {
	cfg            Config
	sessionID      string
	sourceLanguage string
	metrics        *observe.Metrics
	log            *slog.Logger

	limiter *windowLimiter
	buffer  *resultBuffer
	dedup   *dedupSet

	lastForwarded time.Time

	// finalized holds IDs terminated by a final or forwarded, so late
	// stragglers for the same ID are dropped. Pruned on tick.
	finalized map[string]time.Time
}

// New creates a Gate for one session.
func New(cfg Config, sessionID, sourceLanguage string, opts ...Option) *Gate {
	cfg.applyDefaults()
	// One representative leaves per window, so the release rate is bounded
	// by widening the window to at least 1/MaxPerSecond.
	if minWindow := time.Second / time.Duration(cfg.MaxPerSecond); cfg.Window < minWindow {
		cfg.Window = minWindow
	}
	g := &Gate{
		cfg:            cfg,
		sessionID:      sessionID,
		sourceLanguage: sourceLanguage,
		limiter:        newWindowLimiter(cfg.Window),
		buffer:         newResultBuffer(cfg.MaxBufferedWords),
		dedup:          newDedupSet(cfg.DedupTTL, cfg.DedupMaxEntries),
		finalized:      make(map[string]time.Time),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.log = g.log.With("session_id", sessionID)
	return g
}

// Ingest feeds one upstream event at the given timestamp and returns the
// utterances it unlocks, ordered by start time.
func (g *Gate) Ingest(r Result, now time.Time) []Utterance {
	ctx := contextless

	if !r.wellFormed() {
		g.metrics.GateMalformed.Add(ctx, 1)
		g.log.Warn("dropping malformed transcript event", "result_id", r.ResultID)
		return nil
	}
	if _, done := g.finalized[r.ResultID]; done {
		return nil
	}
	if r.ArrivedAt.IsZero() {
		r.ArrivedAt = now
	}

	// Finals bypass the rate limiter: each result ID sees at most one final
	// and it must not be lost to window representative selection.
	released, dropped := g.limiter.add(r, now)
	g.metrics.GateDropped.Add(ctx, int64(dropped))
	for _, rel := range released {
		g.admit(rel, now)
	}

	return g.collect(now)
}

// Tick advances time-driven transitions (window close, blind timeout, pause
// boundary, forward timeout, orphans) and returns any utterances released.
func (g *Gate) Tick(now time.Time) []Utterance {
	for _, rel := range g.limiter.tick(now) {
		g.admit(rel, now)
	}
	g.pruneFinalized(now)
	return g.collect(now)
}

// Flush terminates the session's stream: the limiter's open window is
// flushed and every buffered entry is forced out as if final. Call exactly
// once, after the last Ingest.
func (g *Gate) Flush(now time.Time) []Utterance {
	for _, rel := range g.limiter.flush() {
		g.admit(rel, now)
	}
	for _, e := range g.buffer.all() {
		e.forceFinal = true
	}
	return g.collect(now)
}

// admit moves a limiter-released result into the buffer.
func (g *Gate) admit(r Result, now time.Time) {
	if _, done := g.finalized[r.ResultID]; done {
		return
	}
	g.buffer.upsert(r, now)
}

// collect evaluates forwarding conditions across the buffer and emits, in
// ascending start-time order, every entry that is both eligible and at a
// boundary.
func (g *Gate) collect(now time.Time) []Utterance {
	entries := g.buffer.all()
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].result.StartTime < entries[j].result.StartTime
	})

	// A pause boundary fires once per quiet gap and releases only the
	// newest eligible entry; forwarding everything on a pause would flush
	// stale text that arrived long before the gap.
	pause := !g.lastForwarded.IsZero() && now.Sub(g.lastForwarded) >= g.cfg.PauseThreshold
	var newestEligible *bufferedResult
	if pause {
		for i := len(entries) - 1; i >= 0; i-- {
			if g.eligible(entries[i], now) {
				newestEligible = entries[i]
				break
			}
		}
	}

	var out []Utterance
	forward := func(e *bufferedResult, orphan bool) {
		g.buffer.remove(e.result.ResultID)
		g.finalized[e.result.ResultID] = now
		if orphan {
			g.metrics.GateOrphans.Add(contextless, 1)
		}
		if u, ok := g.emit(e, now); ok {
			out = append(out, u)
		}
	}

	for _, e := range entries {
		isFinal := e.result.IsFinal || e.forceFinal
		orphan := !isFinal && now.Sub(e.addedAt) >= g.cfg.OrphanTimeout
		switch {
		case isFinal:
			forward(e, false)
		case orphan:
			forward(e, true)
		case !g.eligible(e, now):
			// retained pending a better variant or a final
		case endsSentence(e.result.Text):
			forward(e, false)
		case now.Sub(e.addedAt) >= g.cfg.ForwardTimeout:
			forward(e, false)
		case pause && e == newestEligible:
			forward(e, false)
		}
	}

	// Capacity flush: oldest stable entries leave in batches until the word
	// bound holds again.
	for _, e := range g.buffer.overflowFlush() {
		g.finalized[e.result.ResultID] = now
		if u, ok := g.emit(e, now); ok {
			out = append(out, u)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// eligible applies the stability filter: score at or above the threshold, or
// the blind-timeout escape hatch for score-less results.
func (g *Gate) eligible(e *bufferedResult, now time.Time) bool {
	if e.result.Stability != nil {
		return *e.result.Stability >= g.cfg.StabilityThreshold
	}
	return now.Sub(e.addedAt) >= g.cfg.BlindTimeout
}

// emit runs deduplication and produces the utterance. ok=false means the
// text was suppressed as a duplicate.
func (g *Gate) emit(e *bufferedResult, now time.Time) (Utterance, bool) {
	g.lastForwarded = now

	fp := dedupKey(e.result.Text)
	if !g.dedup.insert(fp, now) {
		g.metrics.DedupSuppressed.Add(contextless, 1)
		g.log.Debug("suppressed duplicate utterance", "fingerprint", fp)
		return Utterance{}, false
	}
	if g.dedup.cleared {
		g.dedup.cleared = false
		g.log.Warn("dedup set overflowed, cleared", "cap", g.cfg.DedupMaxEntries)
	}

	u := Utterance{
		ID:             uuid.NewString(),
		SessionID:      g.sessionID,
		SourceLanguage: g.sourceLanguage,
		Text:           strings.TrimSpace(e.result.Text),
		StartTime:      e.result.StartTime,
		ProducedAt:     now,
		CorrelationID:  uuid.NewString(),
	}
	if e.result.EndTime != nil {
		u.EndTime = *e.result.EndTime
	}
	g.metrics.RecordUtterance(contextless, g.sessionID)
	g.log.Debug("utterance emitted",
		"utterance_id", u.ID,
		"correlation_id", u.CorrelationID,
		"start_time", u.StartTime,
	)
	return u, true
}

// pruneFinalized drops terminated-ID records old enough that no straggler
// can still reference them.
func (g *Gate) pruneFinalized(now time.Time) {
	cutoff := now.Add(-2 * g.cfg.OrphanTimeout)
	for id, at := range g.finalized {
		if at.Before(cutoff) {
			delete(g.finalized, id)
		}
	}
}

// dedupKey fingerprints text with terminal punctuation stripped, so
// "Hello everyone!" and "hello everyone" suppress each other.
func dedupKey(text string) string {
	return textnorm.Fingerprint(strings.TrimRight(strings.TrimSpace(text), ".?!"))
}

// endsSentence reports whether trimmed text ends with terminal punctuation.
func endsSentence(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}
