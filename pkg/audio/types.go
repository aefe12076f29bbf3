// Package audio defines the audio chunk type flowing through the broadcast
// pipeline and the bounded per-listener ring buffer that absorbs delivery
// jitter without ever blocking the producer.
package audio

import "time"

// Default PCM format for synthesized audio: 16 kHz, 16-bit, mono.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	EncodingPCM16  = "pcm_s16le"

	// BytesPerSecond is the byte rate of the default PCM format.
	BytesPerSecond = SampleRate * BytesPerSample
)

// Chunk is an opaque span of synthesized audio for one utterance in one
// target language. Chunks for a single utterance/language are produced in
// order and must reach each listener in that order.
type Chunk struct {
	// Data is raw PCM audio. Never mutated after construction.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Encoding identifies the sample format (e.g., "pcm_s16le").
	Encoding string

	// Duration is the playback length of Data.
	Duration time.Duration

	// UtteranceID links the chunk back to the gate output that produced it.
	UtteranceID string

	// TargetLanguage is the ISO 639-1 code the audio was synthesized for.
	TargetLanguage string
}

// PCMDuration returns the playback duration of n bytes of the default
// 16 kHz 16-bit mono PCM format.
func PCMDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / BytesPerSecond
}
