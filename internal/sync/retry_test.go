package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"go.uber.org/zap"
)

func newTestExecutor() *Executor {
	return &Executor{
		maxRetries: 2,
		baseDelay:  time.Millisecond,
		maxDelay:   5 * time.Millisecond,
		logger:     zap.NewNop(),
	}
}

func statusError(status int) error {
	return apperrors.New(apperrors.CodeServiceUnavail, "remote failed").
		WithContext("status_code", status)
}

func TestExecutorDo_SucceedsAfterTransientFailure(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	success, retryable, err := e.Do(context.Background(), "create_bookmark", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return statusError(503)
		}
		return nil
	})

	if !success || err != nil {
		t.Fatalf("expected success, got success=%v err=%v", success, err)
	}
	if retryable {
		t.Error("retryable should be false on success")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecutorDo_PermanentErrorStopsImmediately(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	success, retryable, err := e.Do(context.Background(), "attach_tags", func(ctx context.Context) error {
		calls++
		return statusError(404)
	})

	if success {
		t.Error("expected failure")
	}
	if retryable {
		t.Error("a 404 must not be marked retryable")
	}
	if err == nil {
		t.Error("expected the last error back")
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

func TestExecutorDo_ExhaustsRetries(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	success, retryable, err := e.Do(context.Background(), "update_bookmark", func(ctx context.Context) error {
		calls++
		return statusError(429)
	})

	if success {
		t.Error("expected failure after exhausting retries")
	}
	if !retryable {
		t.Error("a 429 should surface as retryable")
	}
	if err == nil {
		t.Error("expected the last error back")
	}
	if calls != e.maxRetries+1 {
		t.Errorf("expected %d calls, got %d", e.maxRetries+1, calls)
	}
}

func TestExecutorDo_ContextCancellation(t *testing.T) {
	e := newTestExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	success, _, err := e.Do(ctx, "create_bookmark", func(ctx context.Context) error {
		calls++
		cancel()
		return statusError(503)
	})

	if success {
		t.Error("expected failure")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("cancellation should stop retries, got %d calls", calls)
	}
}

func TestDoValue(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	got, success, _, err := DoValue(context.Background(), e, "create_bookmark", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset by peer")
		}
		return "bm_123", nil
	})

	if !success || err != nil {
		t.Fatalf("expected success, got success=%v err=%v", success, err)
	}
	if got != "bm_123" {
		t.Errorf("DoValue result = %q", got)
	}
}

func TestNewExecutorDefaults(t *testing.T) {
	e := NewExecutor(0, 0, 0, zap.NewNop())
	if e.maxRetries != 3 {
		t.Errorf("default maxRetries = %d", e.maxRetries)
	}
	if e.baseDelay != 500*time.Millisecond {
		t.Errorf("default baseDelay = %v", e.baseDelay)
	}
	if e.maxDelay != 5*time.Second {
		t.Errorf("default maxDelay = %v", e.maxDelay)
	}
}
