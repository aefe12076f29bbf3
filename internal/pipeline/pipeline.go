// Package pipeline runs the per-session fan-out: for every gated utterance
// it attaches vocal dynamics, translates into each listener language,
// synthesizes prosody-aware speech, and delivers the audio to every
// subscribed listener.
//
// Fan-out is structured concurrency: one parent context per utterance owns
// all per-language and per-listener work, so cancelling the utterance (or
// the session) cancels everything in flight. Per-language failures are
// contained — a translator timeout for French never affects the Spanish
// stream — and delivery concurrency is bounded by a per-session semaphore.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/voxrelay/voxrelay/internal/cache"
	"github.com/voxrelay/voxrelay/internal/dynamics"
	"github.com/voxrelay/voxrelay/internal/gate"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/internal/ssml"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/clock"
	"github.com/voxrelay/voxrelay/pkg/provider/synthesize"
	"github.com/voxrelay/voxrelay/pkg/provider/translate"
	"github.com/voxrelay/voxrelay/pkg/transport"
)

// Config holds the pipeline's tuning knobs. Zero values select the defaults
// noted per field.
type Config struct {
	// TranslateDeadline bounds one language's translation attempts.
	// Default: 2 s.
	TranslateDeadline time.Duration

	// SynthesizeDeadline bounds one language's synthesis attempts,
	// including the plain-text retry. Default: 5 s.
	SynthesizeDeadline time.Duration

	// MaxConcurrentBroadcasts caps parallel listener deliveries per
	// utterance. Default: 100.
	MaxConcurrentBroadcasts int64

	// DynamicsMaxAge is how fresh an observed dynamics sample must be to be
	// attached without re-extraction. Default: 1 s.
	DynamicsMaxAge time.Duration
}

func (c *Config) applyDefaults() {
	if c.TranslateDeadline <= 0 {
		c.TranslateDeadline = 2 * time.Second
	}
	if c.SynthesizeDeadline <= 0 {
		c.SynthesizeDeadline = 5 * time.Second
	}
	if c.MaxConcurrentBroadcasts <= 0 {
		c.MaxConcurrentBroadcasts = 100
	}
	if c.DynamicsMaxAge <= 0 {
		c.DynamicsMaxAge = time.Second
	}
}

// AudioWindowFunc returns the buffered mono speaker samples covering the
// stream-relative interval [startSec, endSec), or nil when unavailable.
type AudioWindowFunc func(startSec, endSec float64) []float64

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches a metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger attaches a logger. Default: slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithAudioWindow wires a source of buffered speaker audio for on-demand
// dynamics extraction.
func WithAudioWindow(fn AudioWindowFunc) Option {
	return func(p *Pipeline) { p.audioWindow = fn }
}

// Pipeline is the per-session fan-out orchestrator. Construct with New.
type Pipeline struct {
	cfg     Config
	session *registry.Session
	cache   *cache.Cache
	trans   translate.Provider
	synth   synthesize.Provider
	caster  transport.Broadcaster
	clk     clock.Clock

	metrics     *observe.Metrics
	log         *slog.Logger
	audioWindow AudioWindowFunc
	extractor   dynamics.Extractor
	sem         *semaphore.Weighted

	dyn *dynamicsBox
}

// New creates a Pipeline for one session.
func New(
	cfg Config,
	session *registry.Session,
	translationCache *cache.Cache,
	trans translate.Provider,
	synth synthesize.Provider,
	caster transport.Broadcaster,
	clk clock.Clock,
	opts ...Option,
) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:     cfg,
		session: session,
		cache:   translationCache,
		trans:   trans,
		synth:   synth,
		caster:  caster,
		clk:     clk,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentBroadcasts),
		dyn:     &dynamicsBox{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("session_id", session.ID)
	return p
}

// ObserveDynamics records a dynamics sample produced from the live speaker
// audio. Safe for concurrent use with Process.
func (p *Pipeline) ObserveDynamics(d dynamics.Dynamics) {
	p.dyn.put(d)
}

// Run consumes the gated utterance stream until the channel closes or the
// context is cancelled.
func (p *Pipeline) Run(ctx context.Context, utterances <-chan gate.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-utterances:
			if !ok {
				return nil
			}
			p.Process(ctx, u)
		}
	}
}

// Process fans one utterance out to every listener language. Failures are
// contained per language; the call returns once every language has either
// delivered or been omitted.
func (p *Pipeline) Process(ctx context.Context, u gate.Utterance) {
	ctx, span := observe.StartSpan(ctx, "pipeline.Process", trace.WithAttributes(
		observe.Attr("session_id", u.SessionID),
		observe.Attr("utterance_id", u.ID),
	))
	defer span.End()

	log := p.log.With("correlation_id", u.CorrelationID, "utterance_id", u.ID)
	started := p.clk.Now()

	if st := p.session.BroadcastState(); !st.Active || st.Paused || st.Muted {
		log.Debug("dropping utterance, broadcast inactive",
			"active", st.Active, "paused", st.Paused, "muted", st.Muted)
		return
	}

	langs := p.session.TargetLanguages()
	if len(langs) == 0 {
		log.Debug("dropping utterance, no listeners")
		return
	}

	dyn := p.dynamicsFor(ctx, u)

	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range langs {
		lang := lang
		g.Go(func() error {
			text, err := p.translateOne(gctx, u, lang)
			if err != nil {
				p.metrics.RecordLanguageFailure(gctx, "translate", lang)
				log.Warn("language omitted, translation failed", "language", lang, "err", err)
				return nil
			}

			doc := ssml.Build(text, &dyn)
			if doc == "" {
				return nil
			}

			pcm, err := p.synthesizeOne(gctx, doc, lang)
			if err != nil {
				p.metrics.RecordLanguageFailure(gctx, "synthesize", lang)
				log.Warn("language omitted, synthesis failed", "language", lang, "err", err)
				return nil
			}

			p.deliver(gctx, u, lang, pcm, log)
			return nil
		})
	}
	_ = g.Wait() // per-language errors never surface

	p.metrics.UtteranceDuration.Record(ctx, p.clk.Now().Sub(started).Seconds(),
		metric.WithAttributes(observe.Attr("session_id", u.SessionID)))
}

// translateOne produces the target-language text: same-language passthrough,
// cache, then the external translator with retries inside the deadline.
func (p *Pipeline) translateOne(ctx context.Context, u gate.Utterance, lang string) (string, error) {
	if lang == u.SourceLanguage {
		return u.Text, nil
	}
	if cached, ok := p.cache.Lookup(ctx, u.SourceLanguage, lang, u.Text); ok {
		return cached, nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.TranslateDeadline)
	defer cancel()

	started := p.clk.Now()
	var out string
	err := retryTransient(cctx, p.clk, retryAttempts, retryBase, func(ctx context.Context) error {
		var terr error
		out, terr = p.trans.Translate(ctx, u.SourceLanguage, lang, u.Text)
		return terr
	})
	p.metrics.TranslateDuration.Record(ctx, p.clk.Now().Sub(started).Seconds(),
		metric.WithAttributes(observe.Attr("language", lang)))
	if err != nil {
		return "", err
	}

	p.cache.StoreTranslation(ctx, u.SourceLanguage, lang, u.Text, out)
	return out, nil
}

// synthesizeOne turns an SSML document into PCM audio. An invalid-SSML
// rejection triggers a one-shot plain-text fallback within the same deadline
// budget.
func (p *Pipeline) synthesizeOne(ctx context.Context, doc, lang string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.SynthesizeDeadline)
	defer cancel()

	voice := p.synth.VoiceForLanguage(lang)
	started := p.clk.Now()
	var out []byte
	err := retryTransient(cctx, p.clk, retryAttempts, retryBase, func(ctx context.Context) error {
		pcm, serr := p.synth.Synthesize(ctx, synthesize.Request{
			SSML:       doc,
			Voice:      voice,
			SampleRate: audio.SampleRate,
		})
		if synthesize.IsInvalidSSML(serr) {
			pcm, serr = p.synth.Synthesize(ctx, synthesize.Request{
				SSML:       ssml.StripTags(doc),
				PlainText:  true,
				Voice:      voice,
				SampleRate: audio.SampleRate,
			})
		}
		if serr != nil {
			return serr
		}
		out = pcm
		return nil
	})
	p.metrics.SynthesizeDuration.Record(ctx, p.clk.Now().Sub(started).Seconds(),
		metric.WithAttributes(observe.Attr("language", lang)))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// deliver enqueues the audio for every listener of lang and drains each
// listener's ring through the transport, bounded by the session semaphore.
// A gone signal removes the listener from the session.
func (p *Pipeline) deliver(ctx context.Context, u gate.Utterance, lang string, pcm []byte, log *slog.Logger) {
	listeners := p.session.ListListeners(lang)
	if len(listeners) == 0 {
		return
	}

	chunk := audio.Chunk{
		Data:           pcm,
		SampleRate:     audio.SampleRate,
		Encoding:       audio.EncodingPCM16,
		Duration:       audio.PCMDuration(len(pcm)),
		UtteranceID:    u.ID,
		TargetLanguage: lang,
	}

	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return nil // cancelled mid-utterance
			}
			defer p.sem.Release(1)

			if dropped := l.Buffer.Append(chunk); dropped > 0 {
				p.metrics.BufferOverflowDrops.Add(ctx, int64(dropped))
			}
			p.metrics.BufferUtilization.Record(ctx, l.Buffer.Utilization(),
				metric.WithAttributes(observe.Attr("connection_id", l.ConnectionID)))

			p.drain(ctx, l, log)
			return nil
		})
	}
	_ = g.Wait()
}

// drain sends the listener's buffered chunks in FIFO order until the ring is
// empty or a send fails.
func (p *Pipeline) drain(ctx context.Context, l *registry.Listener, log *slog.Logger) {
	for {
		c, ok := l.Buffer.Pop()
		if !ok {
			return
		}
		if err := p.caster.Send(ctx, l.ConnectionID, c.Data); err != nil {
			if transport.IsGone(err) {
				p.session.RemoveListener(l.ConnectionID)
				_ = p.caster.Disconnect(l.ConnectionID)
				p.metrics.ListenersGone.Add(ctx, 1)
				log.Info("listener removed, connection gone", "connection_id", l.ConnectionID)
			} else {
				log.Warn("send failed", "connection_id", l.ConnectionID, "err", err)
			}
			return
		}
		p.metrics.BroadcastSends.Add(ctx, 1)
	}
}

// dynamicsFor attaches prosody: a fresh observed sample, on-demand
// extraction from buffered audio, or the neutral fallback.
func (p *Pipeline) dynamicsFor(ctx context.Context, u gate.Utterance) dynamics.Dynamics {
	now := p.clk.Now()
	if d, ok := p.dyn.fresh(now, p.cfg.DynamicsMaxAge); ok {
		return d
	}

	if p.audioWindow != nil && u.EndTime > u.StartTime {
		if samples := p.audioWindow(u.StartTime, u.EndTime); len(samples) > 0 {
			if d, ok := p.extractor.Extract(samples, 1, audio.SampleRate, now); ok {
				return d
			}
		}
	}

	p.metrics.DynamicsFallbacks.Add(ctx, 1)
	return dynamics.Fallback(now)
}
