package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls backoff behavior.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig provides the defaults used across the service.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Delay computes the jittered exponential backoff delay for a 0-indexed
// attempt: base * 2^attempt, scaled by a uniform factor in [0.75, 1.25],
// capped at maxDelay.
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base < 0 {
		base = 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	d *= 1 + (rand.Float64()-0.5)/2
	if maxDelay > 0 && d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Sleep waits for the given delay or until the context is cancelled.
// Returns the context error on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn up to cfg.MaxRetries+1 times, sleeping a jittered backoff
// between attempts. Only transient errors are retried. Returns the last error
// and whether any attempt succeeded.
func Do[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, bool, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}

		result, err := fn(attempt)
		if err == nil {
			return result, true, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == cfg.MaxRetries {
			break
		}
		if err := Sleep(ctx, Delay(attempt, cfg.InitialDelay, cfg.MaxDelay)); err != nil {
			return zero, false, err
		}
	}

	return zero, false, lastErr
}
