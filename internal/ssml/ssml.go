// Package ssml builds SSML documents from translated text and vocal dynamics.
//
// The mapping from dynamics classes to prosody attributes is deterministic and
// total: every volume and rate class has exactly one SSML value. A built
// document is validated by parsing it back as XML; if validation fails the
// builder falls back to the plain no-prosody form so synthesis is never
// blocked by a malformed document.
package ssml

import (
	"encoding/xml"
	"strings"

	"github.com/voxrelay/voxrelay/internal/dynamics"
)

// Prosody attribute values allowed in built documents.
var (
	volumeAttr = map[dynamics.VolumeClass]string{
		dynamics.VolumeLoud:    "x-loud",
		dynamics.VolumeMedium:  "medium",
		dynamics.VolumeSoft:    "soft",
		dynamics.VolumeWhisper: "x-soft",
	}

	rateAttr = map[dynamics.RateClass]string{
		dynamics.RateVerySlow: "x-slow",
		dynamics.RateSlow:     "slow",
		dynamics.RateMedium:   "medium",
		dynamics.RateFast:     "fast",
		dynamics.RateVeryFast: "x-fast",
	}
)

// escaper applies the five XML escapes in the required order. strings.Replacer
// performs a single pass, so '&' produced by later escapes is never re-escaped.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Build renders text as SSML. When dyn is nil the result carries no prosody
// element. Empty text yields the empty string.
func Build(text string, dyn *dynamics.Dynamics) string {
	if text == "" {
		return ""
	}
	if dyn == nil {
		return plain(text)
	}

	rate, okR := rateAttr[dyn.Rate]
	vol, okV := volumeAttr[dyn.Volume]
	if !okR || !okV {
		return plain(text)
	}

	var sb strings.Builder
	sb.WriteString(`<speak><prosody rate="`)
	sb.WriteString(rate)
	sb.WriteString(`" volume="`)
	sb.WriteString(vol)
	sb.WriteString(`">`)
	sb.WriteString(escaper.Replace(text))
	sb.WriteString(`</prosody></speak>`)

	out := sb.String()
	if !Valid(out) {
		return plain(text)
	}
	return out
}

// plain renders the no-prosody fallback form.
func plain(text string) string {
	return "<speak>" + escaper.Replace(text) + "</speak>"
}

// document mirrors the structure accepted by synthesizers.
type document struct {
	XMLName xml.Name  `xml:"speak"`
	Prosody []prosody `xml:"prosody"`
}

type prosody struct {
	Rate   string `xml:"rate,attr"`
	Volume string `xml:"volume,attr"`
}

// Valid reports whether s parses as XML with root element "speak" and every
// prosody element carries both rate and volume attributes drawn from the
// allowed sets.
func Valid(s string) bool {
	var doc document
	if err := xml.Unmarshal([]byte(s), &doc); err != nil {
		return false
	}
	for _, p := range doc.Prosody {
		if !allowedRate(p.Rate) || !allowedVolume(p.Volume) {
			return false
		}
	}
	return true
}

func allowedRate(v string) bool {
	for _, a := range rateAttr {
		if a == v {
			return true
		}
	}
	return false
}

func allowedVolume(v string) bool {
	for _, a := range volumeAttr {
		if a == v {
			return true
		}
	}
	return false
}

// StripTags converts an SSML document back to plain text: tags removed and
// XML entities decoded. Used for the one-shot plain-text retry when a
// synthesizer rejects a document as invalid SSML.
func StripTags(s string) string {
	var sb strings.Builder
	dec := xml.NewDecoder(strings.NewReader(s))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			sb.Write(cd)
		}
	}
	return sb.String()
}
