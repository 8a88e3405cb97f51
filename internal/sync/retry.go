package sync

import (
	"context"
	"net/http"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/retry"
	"go.uber.org/zap"
)

// Executor retries high-level sync actions (create/update bookmark, attach
// tags) to mask brief remote outages. Wire-level retries inside a single
// HTTP call are the client's concern; this layer re-runs the whole action.
type Executor struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// NewExecutor builds an executor; zero values fall back to the defaults
// (3 retries, 500ms base, 5s cap).
func NewExecutor(maxRetries int, baseDelay, maxDelay time.Duration, logger *zap.Logger) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Executor{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger.With(zap.String("component", "sync-retry")),
	}
}

// Do runs the action with backoff on transient failures. It reports whether
// the action eventually succeeded and, when it did not, whether the last
// error was retryable.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) (success, retryable bool, err error) {
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return true, false, nil
		}
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}

		retryable = isRetryable(err)
		if !retryable || attempt == e.maxRetries {
			break
		}

		delay := retry.Delay(attempt, e.baseDelay, e.maxDelay)
		e.logger.Warn("sync action failed, retrying",
			zap.String("action", name), zap.Int("attempt", attempt),
			zap.Duration("delay", delay), zap.Error(err))
		if serr := retry.Sleep(ctx, delay); serr != nil {
			return false, false, serr
		}
	}
	return false, retryable, err
}

// DoValue is Do for actions that produce a value.
func DoValue[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context) (T, error)) (result T, success, retryable bool, err error) {
	success, retryable, err = e.Do(ctx, name, func(ctx context.Context) error {
		var ferr error
		result, ferr = fn(ctx)
		return ferr
	})
	return result, success, retryable, err
}

// isRetryable classifies an action failure: HTTP 408/429/5xx and the shared
// transient heuristics count as retryable.
func isRetryable(err error) bool {
	if status := karakeep.StatusCode(err); status != 0 {
		return status == http.StatusRequestTimeout ||
			status == http.StatusTooManyRequests ||
			status >= 500
	}
	return retry.IsTransient(err)
}
