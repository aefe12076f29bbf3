// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Event values and inspect which
// audio chunks were delivered.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/provider/transcribe"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg transcribe.StreamConfig
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session with a buffered channel.
	Session transcribe.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Ensure Provider implements transcribe.Provider at compile time.
var _ transcribe.Provider = (*Provider)(nil)

// Session is a mock implementation of transcribe.SessionHandle. Feed events
// through EventsCh and close the session with Close.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events.
	EventsCh chan transcribe.Event

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// AudioChunks records copies of every chunk passed to SendAudio.
	AudioChunks [][]byte

	closed bool
}

// NewSession creates a Session whose event channel has the given buffer depth.
func NewSession(buf int) *Session {
	return &Session{EventsCh: make(chan transcribe.Event, buf)}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.AudioChunks = append(s.AudioChunks, cp)
	return nil
}

// ChunkCount returns the number of recorded audio chunks. Thread-safe.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.AudioChunks)
}

// Events returns the mock event channel.
func (s *Session) Events() <-chan transcribe.Event {
	return s.EventsCh
}

// Close closes the event channel. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.EventsCh)
	return nil
}

// Ensure Session implements transcribe.SessionHandle at compile time.
var _ transcribe.SessionHandle = (*Session)(nil)
