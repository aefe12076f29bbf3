package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/dynamics"
	"github.com/voxrelay/voxrelay/internal/gate"
	"github.com/voxrelay/voxrelay/internal/pipeline"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/provider/transcribe"
)

// gateTick is how often the runner advances the gate's time-based boundaries
// (pause detection, forward timeout, orphan reaping) between upstream events.
const gateTick = 50 * time.Millisecond

// utteranceBacklog bounds gated utterances awaiting pipeline fan-out.
const utteranceBacklog = 16

// SessionRunner drives one live session: it owns the upstream transcription
// stream, shadows the speaker audio for dynamics analysis, advances the gate,
// and feeds gated utterances into the fan-out pipeline.
//
// The gate itself is single-threaded; the runner's event loop is the only
// goroutine that touches it.
type SessionRunner struct {
	app    *App
	sess   *registry.Session
	gate   *gate.Gate
	pipe   *pipeline.Pipeline
	tap    *audioTap
	stream transcribe.SessionHandle

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newSessionRunner(ctx context.Context, a *App, sess *registry.Session) (*SessionRunner, error) {
	stream, err := a.providers.Transcriber.StartStream(ctx, transcribe.StreamConfig{
		SampleRate: audio.SampleRate,
		Channels:   1,
		Language:   sess.SourceLanguage,
	})
	if err != nil {
		return nil, fmt.Errorf("start transcription stream: %w", err)
	}

	r := &SessionRunner{
		app:    a,
		sess:   sess,
		stream: stream,
		done:   make(chan struct{}),
	}
	r.tap = newAudioTap(a.clk, func(d dynamics.Dynamics) { r.pipe.ObserveDynamics(d) })
	r.gate = gate.New(a.cfg.GateConfig(), sess.ID, sess.SourceLanguage,
		gate.WithMetrics(a.metrics))
	r.pipe = pipeline.New(a.cfg.PipelineConfig(), sess, a.cache,
		a.providers.Translator, a.providers.Synthesizer, a.providers.Broadcaster,
		a.clk,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithAudioWindow(r.tap.window))

	// The runner outlives the request that started the session; only stop()
	// or app shutdown cancels it.
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	go r.run(rctx)
	return r, nil
}

// SendAudio forwards a chunk of speaker PCM to the recognizer and taps it for
// prosody analysis.
func (r *SessionRunner) SendAudio(chunk []byte) error {
	if err := r.stream.SendAudio(chunk); err != nil {
		return fmt.Errorf("app: send audio: %w", err)
	}
	r.tap.ingest(chunk)
	return nil
}

// Done is closed once the runner's loops have exited.
func (r *SessionRunner) Done() <-chan struct{} { return r.done }

// run is the single-threaded gate loop: upstream events and the periodic tick
// are serialized here, and gated utterances flow to the pipeline.
func (r *SessionRunner) run(ctx context.Context) {
	defer close(r.done)

	utterances := make(chan gate.Utterance, utteranceBacklog)

	var pipeDone sync.WaitGroup
	pipeDone.Add(1)
	go func() {
		defer pipeDone.Done()
		_ = r.pipe.Run(ctx, utterances)
	}()
	defer pipeDone.Wait()
	defer close(utterances)

	ticker := time.NewTicker(gateTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.forward(ctx, r.gate.Flush(r.app.clk.Now()), utterances)
			return
		case ev, ok := <-r.stream.Events():
			if !ok {
				// Upstream closed: release everything still buffered.
				r.forward(ctx, r.gate.Flush(r.app.clk.Now()), utterances)
				return
			}
			now := r.app.clk.Now()
			r.forward(ctx, r.gate.Ingest(resultFromEvent(ev, now), now), utterances)
		case <-ticker.C:
			r.forward(ctx, r.gate.Tick(r.app.clk.Now()), utterances)
		}
	}
}

func (r *SessionRunner) forward(ctx context.Context, us []gate.Utterance, out chan<- gate.Utterance) {
	for _, u := range us {
		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
}

// stop cancels the runner, closes the upstream stream, and waits for the
// loops to drain.
func (r *SessionRunner) stop() {
	r.stopOnce.Do(func() {
		_ = r.stream.Close()
		r.cancel()
		<-r.done
	})
}

// resultFromEvent maps an upstream transcription event into the gate's input
// schema. Malformed events are rejected by the gate itself.
func resultFromEvent(ev transcribe.Event, now time.Time) gate.Result {
	return gate.Result{
		ResultID:  ev.ResultID,
		Text:      ev.BestTranscript(),
		Stability: ev.StabilityScore(),
		IsFinal:   !ev.IsPartial,
		StartTime: ev.StartTime,
		EndTime:   ev.EndTime,
		ArrivedAt: now,
	}
}
