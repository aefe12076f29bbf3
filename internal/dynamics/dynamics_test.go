package dynamics

import (
	"math"
	"testing"
	"time"
)

var now = time.Unix(1700000000, 0)

// tone generates a sine burst with the given amplitude.
func tone(amp float64, seconds float64, sr int) []float64 {
	n := int(seconds * float64(sr))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*220*float64(i)/float64(sr))
	}
	return out
}

func TestExtractLoudClassification(t *testing.T) {
	t.Parallel()

	var ex Extractor
	// A full-scale sine has RMS ~0.707 → about -3 dB.
	d, ok := ex.Extract(tone(1.0, 1, 16000), 1, 16000, now)
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if d.Volume != VolumeLoud {
		t.Fatalf("volume = %s (%.1f dB), want loud", d.Volume, d.DBValue)
	}
	if d.DetectedAt != now {
		t.Fatalf("DetectedAt = %v, want %v", d.DetectedAt, now)
	}
}

func TestExtractWhisperClassification(t *testing.T) {
	t.Parallel()

	var ex Extractor
	// Amplitude 0.01 → RMS ~0.007 → about -43 dB.
	d, ok := ex.Extract(tone(0.01, 1, 16000), 1, 16000, now)
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if d.Volume != VolumeWhisper {
		t.Fatalf("volume = %s (%.1f dB), want whisper", d.Volume, d.DBValue)
	}
}

func TestExtractSilenceFloor(t *testing.T) {
	t.Parallel()

	var ex Extractor
	d, ok := ex.Extract(make([]float64, 16000), 1, 16000, now)
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if d.DBValue != -100 {
		t.Fatalf("silence dB = %.1f, want -100", d.DBValue)
	}
	if d.Volume != VolumeWhisper {
		t.Fatalf("silence volume = %s, want whisper", d.Volume)
	}
}

func TestExtractInvalidInputFallsBack(t *testing.T) {
	t.Parallel()

	var ex Extractor
	cases := []struct {
		name    string
		samples []float64
		sr      int
	}{
		{"empty", nil, 16000},
		{"zero sample rate", tone(0.5, 1, 16000), 0},
		{"too short", tone(0.5, 0.05, 16000), 16000},
		{"too long", make([]float64, 31*16000), 16000},
		{"nan sample", []float64{0, math.NaN(), 0, 0}, 16000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, ok := ex.Extract(tc.samples, 1, tc.sr, now)
			if ok {
				t.Fatal("expected fallback")
			}
			want := Fallback(now)
			if d != want {
				t.Fatalf("fallback dynamics = %+v, want %+v", d, want)
			}
		})
	}
}

func TestExtractDownmix(t *testing.T) {
	t.Parallel()

	var ex Extractor
	mono := tone(0.5, 1, 16000)
	stereo := make([]float64, 2*len(mono))
	for i, s := range mono {
		stereo[2*i] = s
		stereo[2*i+1] = s
	}

	dm, _ := ex.Extract(mono, 1, 16000, now)
	ds, _ := ex.Extract(stereo, 2, 16000, now)
	if math.Abs(dm.DBValue-ds.DBValue) > 0.5 {
		t.Fatalf("downmixed dB %.2f differs from mono %.2f", ds.DBValue, dm.DBValue)
	}
}

func TestExtractOnsetsCountBursts(t *testing.T) {
	t.Parallel()

	// Alternate 150 ms bursts with 150 ms silence: clear transients.
	const sr = 16000
	var samples []float64
	for i := 0; i < 8; i++ {
		samples = append(samples, tone(0.8, 0.15, sr)...)
		samples = append(samples, make([]float64, sr*15/100)...)
	}

	var ex Extractor
	d, ok := ex.Extract(samples, 1, sr, now)
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if d.OnsetCount == 0 {
		t.Fatal("expected onsets for burst signal")
	}
}

func TestClassifyRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		wpm  float64
		want RateClass
	}{
		{50, RateVerySlow},
		{99.9, RateVerySlow},
		{100, RateSlow},
		{130, RateMedium},
		{160, RateFast},
		{190, RateVeryFast},
		{400, RateVeryFast},
	}
	for _, tc := range cases {
		if got := classifyRate(tc.wpm); got != tc.want {
			t.Fatalf("classifyRate(%.1f) = %s, want %s", tc.wpm, got, tc.want)
		}
	}
}

func TestClassifyVolumeBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		db   float64
		want VolumeClass
	}{
		{-5, VolumeLoud},
		{-10, VolumeMedium},
		{-20, VolumeSoft},
		{-30, VolumeWhisper},
		{-100, VolumeWhisper},
	}
	for _, tc := range cases {
		if got := classifyVolume(tc.db); got != tc.want {
			t.Fatalf("classifyVolume(%.1f) = %s, want %s", tc.db, got, tc.want)
		}
	}
}
