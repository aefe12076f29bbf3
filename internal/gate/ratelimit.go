package gate

import "time"

// windowLimiter is the gate's sliding-window rate limiter. Incoming partials
// accumulate into the current window; when the window closes, exactly one
// representative is released — the highest stability score, ties broken by
// the most recent arrival. Finals bypass the window entirely: each result ID
// sees at most one final and losing it to representative selection would
// strand the ID forever.
//
// The outgoing window is always flushed before a new one opens, including
// when the triggering event lands several windows later.
type windowLimiter struct {
	window time.Duration

	windowStart time.Time
	pending     []Result
}

func newWindowLimiter(window time.Duration) *windowLimiter {
	return &windowLimiter{window: window}
}

// add feeds one event. It returns the results released by any window that
// closed, plus the count of partials dropped as non-representatives.
func (l *windowLimiter) add(r Result, now time.Time) (released []Result, dropped int) {
	released, dropped = l.tickCount(now)

	if r.IsFinal {
		released = append(released, r)
		return released, dropped
	}

	if l.pending == nil {
		l.windowStart = now
	}
	l.pending = append(l.pending, r)
	return released, dropped
}

// tick closes the current window if its boundary has passed.
func (l *windowLimiter) tick(now time.Time) []Result {
	released, _ := l.tickCount(now)
	return released
}

func (l *windowLimiter) tickCount(now time.Time) (released []Result, dropped int) {
	if l.pending == nil || now.Sub(l.windowStart) < l.window {
		return nil, 0
	}
	return l.close()
}

// flush releases the open window unconditionally. Used on session
// termination so the last window's best partial is never lost.
func (l *windowLimiter) flush() []Result {
	released, _ := l.close()
	return released
}

// close picks the window representative and resets the window.
func (l *windowLimiter) close() (released []Result, dropped int) {
	if len(l.pending) == 0 {
		l.pending = nil
		return nil, 0
	}

	best := l.pending[0]
	for _, r := range l.pending[1:] {
		if r.score() > best.score() ||
			(r.score() == best.score() && r.ArrivedAt.After(best.ArrivedAt)) {
			best = r
		}
	}
	dropped = len(l.pending) - 1
	l.pending = nil
	return []Result{best}, dropped
}
