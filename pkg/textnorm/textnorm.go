// Package textnorm provides text normalization and content fingerprinting.
//
// The normalization rules are a wire contract: the translation cache keys and
// the gate's deduplication set are both addressed by [Fingerprint] values, and
// those values must be stable across processes and releases. Do not change
// [Normalize] without a cache migration plan.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen is the number of hex characters kept from the SHA-256 digest.
const fingerprintLen = 16

// Normalize returns the canonical form of s: leading and trailing whitespace
// stripped, internal whitespace runs collapsed to a single space, and the
// result lowercased. Normalizing an already-normalized string is a no-op.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Fingerprint returns the first 16 hex characters of the SHA-256 digest of
// the UTF-8 encoding of Normalize(s). It is deterministic across runs and
// processes.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
