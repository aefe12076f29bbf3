package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresTimers(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Unix(1000, 0))
	ch := f.After(2 * time.Second)

	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	f.Advance(1 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired too early")
	default:
	}

	f.Advance(1 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestFakeNow(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	f := NewFake(start)
	f.Advance(90 * time.Millisecond)
	if got := f.Now().Sub(start); got != 90*time.Millisecond {
		t.Fatalf("Now advanced by %v, want 90ms", got)
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Unix(0, 0))
	select {
	case <-f.After(0):
	default:
		t.Fatal("After(0) must fire immediately")
	}
}
