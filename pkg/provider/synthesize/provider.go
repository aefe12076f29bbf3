// Package synthesize defines the Provider interface for speech synthesis
// backends.
//
// A synthesis provider converts an SSML document into raw PCM audio in a
// single call. The pipeline wraps every call in a per-call deadline; on an
// invalid-SSML error it retries once with plain text derived from the SSML
// by stripping tags, within the same deadline budget.
//
// Implementations must be safe for concurrent use: the fan-out stage calls
// Synthesize for several target languages in parallel.
package synthesize

import (
	"context"
	"errors"
)

// ErrInvalidSSML is returned (possibly wrapped) when the backend rejects the
// document as malformed SSML. Callers use [IsInvalidSSML] to detect it.
var ErrInvalidSSML = errors.New("synthesize: invalid ssml")

// IsInvalidSSML reports whether err indicates a rejected SSML document.
func IsInvalidSSML(err error) bool {
	return errors.Is(err, ErrInvalidSSML)
}

// Request describes one synthesis call.
type Request struct {
	// SSML is the document to synthesize. When PlainText is true, SSML holds
	// plain text instead.
	SSML string

	// PlainText selects plain-text input mode (the invalid-SSML fallback).
	PlainText bool

	// Voice is the provider-specific voice identifier for the target language.
	Voice string

	// SampleRate in Hz. The pipeline requests 16000.
	SampleRate int
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders the request to 16-bit little-endian mono PCM at the
	// requested sample rate. Returns the audio bytes or an error; invalid
	// SSML must be reported via an error matching [IsInvalidSSML].
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// VoiceForLanguage returns the voice identifier used for an ISO 639-1
	// language code, or "" when the language is not supported.
	VoiceForLanguage(lang string) string
}
