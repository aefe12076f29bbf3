// Package aws provides an Amazon Transcribe streaming-backed transcription
// provider. It implements the transcribe.Provider interface with partial
// results stabilization enabled so downstream gating sees stability scores.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	tstypes "github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/voxrelay/voxrelay/pkg/provider/transcribe"
)

const (
	defaultSampleRate = 16000

	// audioBuf is the buffer depth of the outgoing audio channel. Sized to
	// absorb roughly two seconds of 100 ms chunks without blocking capture.
	audioBuf = 32

	// eventBuf is the buffer depth of the event channel handed to the gate.
	eventBuf = 64
)

// languageCodes maps ISO 639-1 codes to the regional codes the service
// expects. Unlisted codes are passed through unchanged.
var languageCodes = map[string]tstypes.LanguageCode{
	"en": tstypes.LanguageCodeEnUs,
	"es": tstypes.LanguageCodeEsUs,
	"fr": tstypes.LanguageCodeFrFr,
	"de": tstypes.LanguageCodeDeDe,
	"it": tstypes.LanguageCodeItIt,
	"pt": tstypes.LanguageCodePtBr,
	"ja": tstypes.LanguageCodeJaJp,
	"ko": tstypes.LanguageCodeKoKr,
	"zh": tstypes.LanguageCodeZhCn,
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithStability sets the partial results stability level ("low", "medium",
// "high"). Default is "high".
func WithStability(level string) Option {
	return func(p *Provider) {
		p.stability = tstypes.PartialResultsStability(level)
	}
}

// Provider implements transcribe.Provider backed by Amazon Transcribe
// streaming.
type Provider struct {
	client    *transcribestreaming.Client
	stability tstypes.PartialResultsStability
}

// New creates a Provider from an AWS SDK config.
func New(cfg aws.Config, opts ...Option) *Provider {
	p := &Provider{
		client:    transcribestreaming.NewFromConfig(cfg),
		stability: tstypes.PartialResultsStabilityHigh,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartStream opens a streaming transcription session.
func (p *Provider) StartStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.SessionHandle, error) {
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	lang, ok := languageCodes[cfg.Language]
	if !ok {
		lang = tstypes.LanguageCode(cfg.Language)
	}

	out, err := p.client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:                      lang,
		MediaEncoding:                     tstypes.MediaEncodingPcm,
		MediaSampleRateHertz:              aws.Int32(int32(sr)),
		EnablePartialResultsStabilization: true,
		PartialResultsStability:           p.stability,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: start stream: %w", err)
	}

	sess := &session{
		stream: out.GetStream(),
		events: make(chan transcribe.Event, eventBuf),
		audio:  make(chan []byte, audioBuf),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// session adapts the SDK's event stream to transcribe.SessionHandle.
type session struct {
	stream *transcribestreaming.StartStreamTranscriptionEventStream
	events chan transcribe.Event
	audio  chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// SendAudio queues a PCM chunk for delivery to the service.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("transcribe: session closed")
	}

	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("transcribe: session closed")
	}
}

// Events returns the channel of mapped transcription events.
func (s *session) Events() <-chan transcribe.Event {
	return s.events
}

// Close terminates the session and waits for both loops to exit.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	err := s.stream.Close()
	s.wg.Wait()
	return err
}

// writeLoop forwards queued audio chunks to the service.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case chunk := <-s.audio:
			event := &tstypes.AudioStreamMemberAudioEvent{
				Value: tstypes.AudioEvent{AudioChunk: chunk},
			}
			if err := s.stream.Send(ctx, event); err != nil {
				slog.Warn("transcribe: audio send failed", "err", err)
				return
			}
		}
	}
}

// readLoop maps service transcript events to transcribe.Event values.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for raw := range s.stream.Events() {
		te, ok := raw.(*tstypes.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || te.Value.Transcript == nil {
			continue
		}
		for _, r := range te.Value.Transcript.Results {
			ev := mapResult(r)
			select {
			case s.events <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		slog.Warn("transcribe: event stream error", "err", err)
	}
}

// mapResult converts an SDK result into the pipeline's event schema.
func mapResult(r tstypes.Result) transcribe.Event {
	ev := transcribe.Event{
		IsPartial: r.IsPartial,
		ResultID:  aws.ToString(r.ResultId),
		StartTime: r.StartTime,
	}
	if r.EndTime > 0 {
		end := r.EndTime
		ev.EndTime = &end
	}
	for _, alt := range r.Alternatives {
		ev.Alternatives = append(ev.Alternatives, transcribe.Alternative{
			Transcript: aws.ToString(alt.Transcript),
		})
	}
	if len(r.Alternatives) > 0 {
		for _, item := range r.Alternatives[0].Items {
			ev.Items = append(ev.Items, transcribe.Item{
				Stability: item.Confidence,
				Content:   aws.ToString(item.Content),
			})
		}
	}
	return ev
}
