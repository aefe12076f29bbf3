package pipeline

import (
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/dynamics"
)

// dynamicsBox holds the most recent dynamics sample observed from the live
// speaker audio. The audio tap writes, Process reads; a stale sample is
// simply ignored by the reader.
type dynamicsBox struct {
	mu   sync.Mutex
	d    dynamics.Dynamics
	seen bool
}

func (b *dynamicsBox) put(d dynamics.Dynamics) {
	b.mu.Lock()
	b.d = d
	b.seen = true
	b.mu.Unlock()
}

// fresh returns the stored sample if it was detected within maxAge of now.
func (b *dynamicsBox) fresh(now time.Time, maxAge time.Duration) (dynamics.Dynamics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.seen || now.Sub(b.d.DetectedAt) >= maxAge {
		return dynamics.Dynamics{}, false
	}
	return b.d, true
}
