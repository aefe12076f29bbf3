// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/provider/translate"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	Src  string
	Tgt  string
	Text string
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Results maps "src:tgt:text" to the returned translation. When a key is
	// absent and Fn is nil, Translate returns "[tgt] text".
	Results map[string]string

	// Errs maps a target language to an error returned for that target.
	Errs map[string]error

	// Fn, if non-nil, overrides all other behaviour.
	Fn func(ctx context.Context, src, tgt, text string) (string, error)

	// Calls records every invocation.
	Calls []TranslateCall
}

// Ensure Provider implements translate.Provider at compile time.
var _ translate.Provider = (*Provider)(nil)

// Translate records the call and replies per the configured fixtures.
func (p *Provider) Translate(ctx context.Context, src, tgt, text string) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranslateCall{Src: src, Tgt: tgt, Text: text})
	fn := p.Fn
	var err error
	if p.Errs != nil {
		err = p.Errs[tgt]
	}
	result, ok := "", false
	if p.Results != nil {
		result, ok = p.Results[src+":"+tgt+":"+text]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, src, tgt, text)
	}
	if err != nil {
		return "", err
	}
	if ok {
		return result, nil
	}
	return fmt.Sprintf("[%s] %s", tgt, text), nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
