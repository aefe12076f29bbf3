package audio

import "sync"

// Ring is a bounded FIFO of audio chunks for a single listener connection.
// The bound is expressed in bytes of buffered PCM. When an append would
// exceed the bound, the oldest chunks are dropped one at a time until the new
// chunk fits; the producer is never blocked.
//
// All methods are safe for concurrent use.
type Ring struct {
	mu       sync.Mutex
	chunks   []Chunk
	bytes    int
	maxBytes int
	dropped  uint64
}

// NewRing creates a ring bounded at maxBytes of buffered audio. A chunk
// larger than maxBytes is truncated to nothing: it evicts the entire buffer
// and is then itself rejected (counted as a drop).
func NewRing(maxBytes int) *Ring {
	return &Ring{maxBytes: maxBytes}
}

// Append adds a chunk, dropping oldest chunks as needed to stay within the
// byte bound. It returns the number of chunks dropped by this call.
func (r *Ring) Append(c Chunk) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(c.Data) > r.maxBytes {
		// The chunk alone exceeds the whole budget. Flush everything and
		// count the oversized chunk itself as dropped.
		n := len(r.chunks) + 1
		r.dropped += uint64(n)
		r.chunks = nil
		r.bytes = 0
		return n
	}

	dropped := 0
	for r.bytes+len(c.Data) > r.maxBytes {
		old := r.chunks[0]
		r.chunks = r.chunks[1:]
		r.bytes -= len(old.Data)
		dropped++
	}
	r.dropped += uint64(dropped)
	r.chunks = append(r.chunks, c)
	r.bytes += len(c.Data)
	return dropped
}

// Pop removes and returns the oldest chunk. ok is false when the ring is empty.
func (r *Ring) Pop() (c Chunk, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return Chunk{}, false
	}
	c = r.chunks[0]
	// Copy the tail to a fresh slice so popped chunks do not pin memory.
	rest := make([]Chunk, len(r.chunks)-1)
	copy(rest, r.chunks[1:])
	r.chunks = rest
	r.bytes -= len(c.Data)
	return c, true
}

// Len returns the number of buffered chunks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Bytes returns the number of buffered PCM bytes.
func (r *Ring) Bytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Utilization returns the buffered fraction of capacity in percent [0, 100].
func (r *Ring) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxBytes == 0 {
		return 0
	}
	return float64(r.bytes) / float64(r.maxBytes) * 100
}

// Dropped returns the total number of chunks dropped over the ring's lifetime.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Clear discards all buffered chunks. Used on listener disconnect.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
	r.bytes = 0
}
