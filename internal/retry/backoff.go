package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Jitter       bool
}

// DefaultPolicy suits short-lived I/O such as opening the store or a
// single outbound HTTP call.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned when every attempt fails.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return p.DoIf(ctx, op, func(error) bool { return true })
}

// DoIf is Do with a predicate: a non-retryable error aborts immediately.
func (p Policy) DoIf(ctx context.Context, op func() error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}

	return lastErr
}

// Delay returns the wait before the attempt following the given one.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}

	if p.Jitter {
		// Spread by up to a quarter of the base delay in either direction.
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		if delay < float64(p.InitialDelay) {
			delay = float64(p.InitialDelay)
		}
		if delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
	}

	return time.Duration(delay)
}
