package transcribe

// Event is a single transcription result pushed by the upstream recognizer.
// Partial events with the same ResultID supersede each other; a final event
// terminates the ResultID. At most one final is ever observed per ResultID.
type Event struct {
	// IsPartial is true for interim results that may still change.
	IsPartial bool

	// ResultID identifies the recognition result. Monotone within a stream.
	ResultID string

	// StartTime and EndTime are offsets from stream start, in seconds.
	// EndTime is nil while the recognizer has not committed an end boundary.
	StartTime float64
	EndTime   *float64

	// Items carries per-token detail. Items[0].Stability, when present, is
	// the overall stability score of a partial result.
	Items []Item

	// Alternatives holds candidate transcripts, best first.
	Alternatives []Alternative
}

// Item is a recognized token with optional stability.
type Item struct {
	// Stability is the recognizer's confidence that this token will not
	// change, in [0, 1]. Nil when the recognizer does not report stability —
	// distinct from 0.
	Stability *float64

	// Content is the token text.
	Content string
}

// Alternative is one candidate transcript for a result.
type Alternative struct {
	Transcript string
}

// BestTranscript returns the top-ranked transcript, or "" when the event
// carries no alternatives.
func (e Event) BestTranscript() string {
	if len(e.Alternatives) == 0 {
		return ""
	}
	return e.Alternatives[0].Transcript
}

// StabilityScore returns the overall stability of a partial result: the first
// item's stability when present, else nil. Final results have no stability.
func (e Event) StabilityScore() *float64 {
	if len(e.Items) == 0 {
		return nil
	}
	return e.Items[0].Stability
}

// WellFormed reports whether the event carries the fields the gate requires.
// Ill-formed events are dropped by the core.
func (e Event) WellFormed() bool {
	return e.ResultID != "" && e.BestTranscript() != ""
}
