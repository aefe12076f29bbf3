// Package dynamics extracts vocal dynamics — loudness and speaking rate —
// from short windows of raw speech audio.
//
// Loudness is derived from short-frame RMS averaged across the window and
// expressed in dBFS. Speaking rate is estimated from perceptual onsets found
// by spectral-flux peak picking; the onset count over the window duration
// approximates words per minute closely enough to pick a prosody class.
package dynamics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// VolumeClass buckets window loudness for prosody mapping.
type VolumeClass string

const (
	VolumeWhisper VolumeClass = "whisper"
	VolumeSoft    VolumeClass = "soft"
	VolumeMedium  VolumeClass = "medium"
	VolumeLoud    VolumeClass = "loud"
)

// RateClass buckets speaking rate for prosody mapping.
type RateClass string

const (
	RateVerySlow RateClass = "very_slow"
	RateSlow     RateClass = "slow"
	RateMedium   RateClass = "medium"
	RateFast     RateClass = "fast"
	RateVeryFast RateClass = "very_fast"
)

// Dynamics holds the extracted vocal parameters for one audio window.
// Immutable once produced; attached to exactly one utterance.
type Dynamics struct {
	Volume     VolumeClass
	DBValue    float64
	Rate       RateClass
	WPM        float64
	OnsetCount int
	DetectedAt time.Time
}

const (
	frameLen = 2048
	hopLen   = 512

	// silenceFloorDB is reported for windows with no measurable energy.
	silenceFloorDB = -100

	// Window duration bounds accepted by Extract.
	minWindow = 100 * time.Millisecond
	maxWindow = 30 * time.Second
)

// Fallback returns the neutral dynamics used when extraction is impossible.
func Fallback(now time.Time) Dynamics {
	return Dynamics{
		Volume:     VolumeMedium,
		DBValue:    -15,
		Rate:       RateMedium,
		WPM:        145,
		OnsetCount: 0,
		DetectedAt: now,
	}
}

// Extractor computes Dynamics from mono or multi-channel PCM sample buffers.
// The zero value is ready to use.
type Extractor struct{}

// Extract analyses samples at the given sample rate. Multi-channel input is
// downmixed by averaging; channels is treated as 1 when non-positive.
//
// Invalid input — empty buffer, non-finite samples, zero sample rate, or a
// window outside [100 ms, 30 s] — yields Fallback dynamics and ok=false.
// Extract never panics.
func (Extractor) Extract(samples []float64, channels, sampleRate int, now time.Time) (Dynamics, bool) {
	if channels > 1 {
		samples = downmix(samples, channels)
	}
	if !usable(samples, sampleRate) {
		return Fallback(now), false
	}

	db := loudnessDB(samples)
	onsets := countOnsets(samples)
	minutes := float64(len(samples)) / float64(sampleRate) / 60
	wpm := 0.0
	if minutes > 0 {
		wpm = float64(onsets) / minutes
	}

	return Dynamics{
		Volume:     classifyVolume(db),
		DBValue:    db,
		Rate:       classifyRate(wpm),
		WPM:        wpm,
		OnsetCount: onsets,
		DetectedAt: now,
	}, true
}

// usable validates the mono buffer against the extractor's input contract.
func usable(samples []float64, sampleRate int) bool {
	if len(samples) == 0 || sampleRate <= 0 {
		return false
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	if dur < minWindow || dur > maxWindow {
		return false
	}
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}

// downmix averages interleaved channels into mono.
func downmix(samples []float64, channels int) []float64 {
	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// loudnessDB computes the mean short-frame RMS of the buffer in dBFS.
func loudnessDB(samples []float64) float64 {
	var rmsSum float64
	var frames int
	for start := 0; start < len(samples); start += hopLen {
		end := start + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		frame := samples[start:end]
		var e float64
		for _, s := range frame {
			e += s * s
		}
		rmsSum += math.Sqrt(e / float64(len(frame)))
		frames++
		if end == len(samples) {
			break
		}
	}
	rmsAvg := rmsSum / float64(frames)
	if rmsAvg <= 0 {
		return silenceFloorDB
	}
	db := 20 * math.Log10(rmsAvg)
	if db < silenceFloorDB {
		return silenceFloorDB
	}
	return db
}

func classifyVolume(db float64) VolumeClass {
	switch {
	case db > -10:
		return VolumeLoud
	case db > -20:
		return VolumeMedium
	case db > -30:
		return VolumeSoft
	default:
		return VolumeWhisper
	}
}

func classifyRate(wpm float64) RateClass {
	switch {
	case wpm < 100:
		return RateVerySlow
	case wpm < 130:
		return RateSlow
	case wpm < 160:
		return RateMedium
	case wpm < 190:
		return RateFast
	default:
		return RateVeryFast
	}
}

// countOnsets detects perceptual transients via spectral-flux peak picking:
// frame the signal, take magnitude spectra, accumulate positive spectral
// differences between consecutive frames, then count peaks that rise above an
// adaptive threshold with a minimum separation of two hops.
func countOnsets(samples []float64) int {
	if len(samples) < frameLen {
		return 0
	}

	fft := fourier.NewFFT(frameLen)
	window := hann(frameLen)
	coeffs := make([]complex128, frameLen/2+1)
	frame := make([]float64, frameLen)

	var prevMag []float64
	var flux []float64
	for start := 0; start+frameLen <= len(samples); start += hopLen {
		for i := range frame {
			frame[i] = samples[start+i] * window[i]
		}
		fft.Coefficients(coeffs, frame)

		mag := make([]float64, len(coeffs))
		for i, c := range coeffs {
			mag[i] = math.Hypot(real(c), imag(c))
		}
		if prevMag != nil {
			var f float64
			for i := range mag {
				if d := mag[i] - prevMag[i]; d > 0 {
					f += d
				}
			}
			flux = append(flux, f)
		}
		prevMag = mag
	}
	if len(flux) == 0 {
		return 0
	}

	// Adaptive threshold: mean + one standard deviation of the flux curve.
	mean := floats.Sum(flux) / float64(len(flux))
	var variance float64
	for _, f := range flux {
		variance += (f - mean) * (f - mean)
	}
	std := math.Sqrt(variance / float64(len(flux)))
	threshold := mean + std

	const minSeparation = 2 // hops
	count := 0
	last := -minSeparation
	for i := 1; i < len(flux)-1; i++ {
		if flux[i] <= threshold {
			continue
		}
		if flux[i] < flux[i-1] || flux[i] < flux[i+1] {
			continue
		}
		if i-last < minSeparation {
			continue
		}
		count++
		last = i
	}
	return count
}

// hann returns an n-point Hann window.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
