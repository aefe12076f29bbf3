package audio

import (
	"fmt"
	"testing"
)

func chunk(id string, n int) Chunk {
	return Chunk{
		Data:           make([]byte, n),
		SampleRate:     SampleRate,
		Encoding:       EncodingPCM16,
		UtteranceID:    id,
		TargetLanguage: "es",
	}
}

func TestRingFIFO(t *testing.T) {
	t.Parallel()

	r := NewRing(1000)
	r.Append(chunk("a", 100))
	r.Append(chunk("b", 100))
	r.Append(chunk("c", 100))

	for _, want := range []string{"a", "b", "c"} {
		c, ok := r.Pop()
		if !ok {
			t.Fatalf("expected chunk %q, ring empty", want)
		}
		if c.UtteranceID != want {
			t.Fatalf("got %q, want %q", c.UtteranceID, want)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty ring")
	}
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	r := NewRing(300)
	r.Append(chunk("a", 100))
	r.Append(chunk("b", 100))
	r.Append(chunk("c", 100))

	dropped := r.Append(chunk("d", 200))
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if r.Bytes() > 300 {
		t.Fatalf("bytes = %d exceeds bound 300", r.Bytes())
	}

	c, _ := r.Pop()
	if c.UtteranceID != "c" {
		t.Fatalf("oldest surviving chunk = %q, want c", c.UtteranceID)
	}
	c, _ = r.Pop()
	if c.UtteranceID != "d" {
		t.Fatalf("next chunk = %q, want d", c.UtteranceID)
	}
}

func TestRingNeverExceedsBound(t *testing.T) {
	t.Parallel()

	// 10 s of 16 kHz 16-bit mono.
	const maxBytes = 10 * BytesPerSecond
	r := NewRing(maxBytes)

	// Produce 15 s of audio in 100 ms chunks while the consumer is stalled.
	chunkBytes := BytesPerSecond / 10
	for i := 0; i < 150; i++ {
		r.Append(chunk(fmt.Sprintf("u%d", i), chunkBytes))
		if r.Bytes() > maxBytes {
			t.Fatalf("ring holds %d bytes, bound is %d", r.Bytes(), maxBytes)
		}
	}
	if r.Dropped() == 0 {
		t.Fatal("expected overflow drops")
	}

	// After the stall, remaining chunks drain newest-first ordering preserved.
	prev := -1
	for {
		c, ok := r.Pop()
		if !ok {
			break
		}
		var n int
		fmt.Sscanf(c.UtteranceID, "u%d", &n)
		if n <= prev {
			t.Fatalf("out-of-order drain: u%d after u%d", n, prev)
		}
		prev = n
	}
}

func TestRingOversizedChunkRejected(t *testing.T) {
	t.Parallel()

	r := NewRing(100)
	r.Append(chunk("a", 50))
	dropped := r.Append(chunk("big", 500))
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2 (existing + oversized)", dropped)
	}
	if r.Len() != 0 || r.Bytes() != 0 {
		t.Fatalf("ring not empty after oversized append: len=%d bytes=%d", r.Len(), r.Bytes())
	}
}

func TestRingUtilization(t *testing.T) {
	t.Parallel()

	r := NewRing(200)
	if u := r.Utilization(); u != 0 {
		t.Fatalf("empty utilization = %f, want 0", u)
	}
	r.Append(chunk("a", 100))
	if u := r.Utilization(); u != 50 {
		t.Fatalf("utilization = %f, want 50", u)
	}
	r.Clear()
	if u := r.Utilization(); u != 0 {
		t.Fatalf("cleared utilization = %f, want 0", u)
	}
}

func TestPCMDuration(t *testing.T) {
	t.Parallel()

	if d := PCMDuration(BytesPerSecond); d.Seconds() != 1 {
		t.Fatalf("PCMDuration(1s of bytes) = %v", d)
	}
}
