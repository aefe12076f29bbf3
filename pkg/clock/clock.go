// Package clock abstracts time for the VoxRelay pipeline.
//
// Every component that ages state — the partial-result gate, the dedup set,
// the translation cache, orphan detection — reads time through [Clock] so that
// tests can drive a [Fake] deterministically while production uses the
// monotonic system clock.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and timer primitives.
type Clock interface {
	// Now returns the current time. The system implementation includes a
	// monotonic reading, so durations derived from two Now calls are safe
	// against wall-clock adjustments.
	Now() time.Time

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// System returns a Clock backed by the runtime's monotonic clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually-advanced Clock for tests. The zero value is not usable;
// construct with [NewFake]. All methods are safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

// NewFake creates a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires when the fake clock is advanced past d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	t := &fakeTimer{at: f.now.Add(d), ch: ch}
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.timers = append(f.timers, t)
	return ch
}

// Advance moves the fake clock forward by d, firing any timers whose deadline
// is reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.at.After(f.now) {
			t.ch <- f.now
		} else {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
}
