package gate

import (
	"sort"
	"strings"
	"time"
)

// stableFlushScore is the stability bar for capacity-flush candidates.
const stableFlushScore = 0.85

// flushBatch is how many entries leave per capacity-flush round.
const flushBatch = 5

// bufferedResult wraps a Result with buffer bookkeeping.
type bufferedResult struct {
	result  Result
	addedAt time.Time
	words   int

	// forceFinal marks the entry for unconditional forwarding, set when the
	// session's stream terminates.
	forceFinal bool
}

// stable reports whether the entry qualifies for a capacity flush: score at
// or above the flush bar, or no score at all.
func (e *bufferedResult) stable() bool {
	return e.result.Stability == nil || *e.result.Stability >= stableFlushScore
}

// resultBuffer holds results keyed by result ID with replace-on-same-id
// semantics and a total word-count bound.
type resultBuffer struct {
	maxWords int

	entries map[string]*bufferedResult
	words   int
}

func newResultBuffer(maxWords int) *resultBuffer {
	return &resultBuffer{
		maxWords: maxWords,
		entries:  make(map[string]*bufferedResult),
	}
}

// upsert adds a result or, for a known ID, replaces the buffered text and
// score while preserving addedAt.
func (b *resultBuffer) upsert(r Result, now time.Time) {
	w := len(strings.Fields(r.Text))
	if e, ok := b.entries[r.ResultID]; ok {
		b.words += w - e.words
		e.result = r
		e.words = w
		return
	}
	b.entries[r.ResultID] = &bufferedResult{result: r, addedAt: now, words: w}
	b.words += w
}

func (b *resultBuffer) remove(resultID string) {
	if e, ok := b.entries[resultID]; ok {
		b.words -= e.words
		delete(b.entries, resultID)
	}
}

// all returns the buffered entries in unspecified order.
func (b *resultBuffer) all() []*bufferedResult {
	out := make([]*bufferedResult, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}

// wordCount returns the total buffered words.
func (b *resultBuffer) wordCount() int { return b.words }

// overflowFlush evicts entries while the word bound is exceeded: oldest
// stable entries first, in batches, falling back to oldest-regardless when
// no stable candidate remains. Evicted entries are returned for emission.
func (b *resultBuffer) overflowFlush() []*bufferedResult {
	var flushed []*bufferedResult
	for b.words > b.maxWords && len(b.entries) > 0 {
		candidates := make([]*bufferedResult, 0, len(b.entries))
		for _, e := range b.entries {
			if e.stable() {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) == 0 {
			for _, e := range b.entries {
				candidates = append(candidates, e)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].addedAt.Before(candidates[j].addedAt)
		})

		n := flushBatch
		if n > len(candidates) {
			n = len(candidates)
		}
		for _, e := range candidates[:n] {
			b.remove(e.result.ResultID)
			flushed = append(flushed, e)
		}
	}
	return flushed
}
