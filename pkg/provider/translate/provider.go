// Package translate defines the Provider interface for text translation
// backends.
//
// A translation provider wraps a machine translation service behind a single
// synchronous call. The pipeline wraps every call in a per-call deadline and
// treats any failure as an absent translation for that target language, so
// implementations should return errors rather than retry internally beyond
// what their SDK already does.
//
// Implementations must be safe for concurrent use: the fan-out stage calls
// Translate for several target languages in parallel.
package translate

import "context"

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate converts text from the src language to the tgt language,
	// both ISO 639-1 codes. Returns the translated text or an error.
	Translate(ctx context.Context, src, tgt, text string) (string, error)
}
