// Package mock provides a test double for the synthesize.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/provider/synthesize"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Req synthesize.Request
}

// Provider is a mock implementation of synthesize.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned from Synthesize when Fn is nil. When nil, Synthesize
	// returns the request document's bytes so tests can trace provenance.
	Audio []byte

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// InvalidSSMLOnce makes the first SSML-mode call fail with an
	// invalid-SSML error; the plain-text retry then succeeds.
	InvalidSSMLOnce bool

	// Voices maps ISO 639-1 codes to voice IDs. Nil means every language maps
	// to "voice-" + lang.
	Voices map[string]string

	// Fn, if non-nil, overrides all other behaviour.
	Fn func(ctx context.Context, req synthesize.Request) ([]byte, error)

	// Calls records every invocation.
	Calls []SynthesizeCall

	failedOnce bool
}

// Ensure Provider implements synthesize.Provider at compile time.
var _ synthesize.Provider = (*Provider)(nil)

// Synthesize records the call and replies per the configured fixtures.
func (p *Provider) Synthesize(ctx context.Context, req synthesize.Request) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Req: req})
	fn := p.Fn
	err := p.Err
	audio := p.Audio
	failInvalid := p.InvalidSSMLOnce && !p.failedOnce && !req.PlainText
	if failInvalid {
		p.failedOnce = true
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if failInvalid {
		return nil, synthesize.ErrInvalidSSML
	}
	if err != nil {
		return nil, err
	}
	if audio != nil {
		return audio, nil
	}
	return []byte(req.SSML), nil
}

// VoiceForLanguage returns the configured or derived voice ID.
func (p *Provider) VoiceForLanguage(lang string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Voices != nil {
		return p.Voices[lang]
	}
	return "voice-" + lang
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
