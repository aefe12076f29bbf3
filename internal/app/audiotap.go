package app

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/dynamics"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/clock"
)

// tapRetention bounds how much speaker audio the tap keeps for on-demand
// utterance analysis.
const tapRetention = 30 * time.Second

// audioTap shadows the speaker's PCM stream on its way to the recognizer.
// It keeps a rolling sample window for per-utterance dynamics extraction and
// pushes a fresh dynamics sample downstream once per second of audio.
type audioTap struct {
	clk       clock.Clock
	extractor dynamics.Extractor
	observe   func(dynamics.Dynamics)

	mu           sync.Mutex
	samples      []float64
	offsetSec    float64 // stream time of samples[0]
	maxSamples   int
	sinceExtract int
}

func newAudioTap(clk clock.Clock, observe func(dynamics.Dynamics)) *audioTap {
	return &audioTap{
		clk:        clk,
		observe:    observe,
		maxSamples: int(tapRetention.Seconds()) * audio.SampleRate,
	}
}

// ingest decodes a chunk of 16 kHz mono s16le PCM into the rolling window.
// Every full second of new audio triggers a dynamics extraction over the most
// recent second.
func (t *audioTap) ingest(pcm []byte) {
	t.mu.Lock()
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		t.samples = append(t.samples, float64(s)/32768)
	}
	if excess := len(t.samples) - t.maxSamples; excess > 0 {
		t.samples = append(t.samples[:0], t.samples[excess:]...)
		t.offsetSec += float64(excess) / audio.SampleRate
	}
	t.sinceExtract += len(pcm) / 2

	var window []float64
	if t.sinceExtract >= audio.SampleRate && len(t.samples) >= audio.SampleRate {
		t.sinceExtract = 0
		window = append([]float64(nil), t.samples[len(t.samples)-audio.SampleRate:]...)
	}
	t.mu.Unlock()

	if window == nil || t.observe == nil {
		return
	}
	if d, ok := t.extractor.Extract(window, 1, audio.SampleRate, t.clk.Now()); ok {
		t.observe(d)
	}
}

// window returns a copy of the buffered samples between two stream offsets in
// seconds, clamped to what the tap still retains.
func (t *audioTap) window(startSec, endSec float64) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	lo := int((startSec - t.offsetSec) * audio.SampleRate)
	hi := int((endSec - t.offsetSec) * audio.SampleRate)
	if lo < 0 {
		lo = 0
	}
	if hi > len(t.samples) {
		hi = len(t.samples)
	}
	if lo >= hi {
		return nil
	}
	return append([]float64(nil), t.samples[lo:hi]...)
}
