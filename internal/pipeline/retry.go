package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/voxrelay/voxrelay/pkg/clock"
)

// Default retry parameters for transient external failures. The per-call
// deadline bounds the whole attempt sequence, so backoff never extends a
// stage past its budget.
const (
	retryAttempts = 3
	retryBase     = 100 * time.Millisecond
)

// retryTransient runs fn up to attempts times with exponential backoff and
// jitter. Context cancellation and deadline expiry stop the sequence
// immediately; the last error is returned on exhaustion.
func retryTransient(ctx context.Context, clk clock.Clock, attempts int, base time.Duration, fn func(context.Context) error) error {
	backoff := base
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if i == attempts-1 {
			break
		}

		// Full jitter in [backoff/2, backoff*1.5).
		delay := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
		select {
		case <-clk.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
