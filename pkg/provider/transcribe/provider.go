// Package transcribe defines the Provider interface for streaming
// speech-to-text backends and the upstream event schema the gate consumes.
//
// A transcribe provider wraps a real-time recognition service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw PCM audio and emits a stream of [Event]
// values — unstable partial results followed by an authoritative final result
// per result ID.
//
// Implementations must be safe for concurrent use. Audio input and event
// output channels are goroutine-safe by construction.
package transcribe

import "context"

// StreamConfig describes the audio format and recognition settings for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the pipeline default.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// recognizers). Implementors may downmix internally.
	Channels int

	// Language is the ISO 639-1 source language code (e.g., "en", "de").
	Language string
}

// SessionHandle represents an open streaming transcription session. It is an
// interface so that test code can provide mock implementations without a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate and Channels agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel emitting transcription events in
	// arrival order. Partial events for a result ID may be superseded; a
	// final event terminates its result ID. The channel is closed when the
	// session ends.
	Events() <-chan Event

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Events channel will
	// be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming transcription backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per broadcast session).
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
