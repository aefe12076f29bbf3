package gate

import "time"

// dedupSet suppresses re-emission of fingerprint-identical utterances
// within a TTL window. It is bounded: on overflow the whole set is cleared,
// which trades a brief dedup gap for bounded memory.
type dedupSet struct {
	ttl time.Duration
	cap int

	entries map[string]time.Time // fingerprint -> expiry

	// cleared is set by an overflow clear so the owner can log it once.
	cleared bool
}

func newDedupSet(ttl time.Duration, capacity int) *dedupSet {
	return &dedupSet{
		ttl:     ttl,
		cap:     capacity,
		entries: make(map[string]time.Time),
	}
}

// insert records the fingerprint and reports true, or reports false when an
// unexpired duplicate is present. Expired entries are reaped lazily.
func (d *dedupSet) insert(fp string, now time.Time) bool {
	if exp, ok := d.entries[fp]; ok {
		if exp.After(now) {
			return false
		}
		delete(d.entries, fp)
	}

	if len(d.entries) >= d.cap {
		// Reap expired entries first; clear everything only if that does
		// not make room.
		for k, exp := range d.entries {
			if !exp.After(now) {
				delete(d.entries, k)
			}
		}
		if len(d.entries) >= d.cap {
			d.entries = make(map[string]time.Time)
			d.cleared = true
		}
	}

	d.entries[fp] = now.Add(d.ttl)
	return true
}

// len returns the current entry count.
func (d *dedupSet) len() int { return len(d.entries) }
