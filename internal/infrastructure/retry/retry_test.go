package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDelay_ExponentialWithJitter(t *testing.T) {
	base := time.Second
	for attempt := 0; attempt < 4; attempt++ {
		expected := float64(base) * float64(int(1)<<attempt)
		lo := time.Duration(expected * 0.75)
		hi := time.Duration(expected * 1.25)
		for i := 0; i < 50; i++ {
			d := Delay(attempt, base, 0)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDelay_CappedAtMax(t *testing.T) {
	max := 2 * time.Second
	for i := 0; i < 50; i++ {
		if d := Delay(10, time.Second, max); d > max {
			t.Fatalf("delay %s exceeds cap %s", d, max)
		}
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	result, ok, err := Do(context.Background(), cfg, func(attempt int) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "done", nil
	})
	if !ok || err != nil {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if result != "done" {
		t.Errorf("unexpected result %q", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond}

	calls := 0
	_, ok, err := Do(context.Background(), cfg, func(attempt int) (int, error) {
		calls++
		return 0, errors.New("invalid request body")
	})
	if ok {
		t.Fatal("expected failure")
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	cfg := Config{MaxRetries: 2, InitialDelay: time.Millisecond}

	calls := 0
	_, ok, err := Do(context.Background(), cfg, func(attempt int) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d: service unavailable", attempt)
	})
	if ok {
		t.Fatal("expected failure after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", calls)
	}
	if err == nil || err.Error() != "attempt 2: service unavailable" {
		t.Errorf("expected last error to surface, got %v", err)
	}
}

func TestIsTransientStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   bool
	}{
		{408, "", true},
		{429, "", true},
		{500, "", true},
		{503, "", true},
		{400, "", false},
		{400, "Bad Request: message is not modified", false},
		{404, "", false},
		{200, "", false},
	}
	for _, tt := range tests {
		if got := IsTransientStatus(tt.status, tt.body); got != tt.want {
			t.Errorf("IsTransientStatus(%d, %q) = %v, want %v", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("Too Many Requests: retry after 5"), true},
		{errors.New("message is not modified"), false},
		{errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsTransientText(t *testing.T) {
	if !IsTransientText("upstream Gateway Timeout") {
		t.Error("gateway timeout should be transient")
	}
	if IsTransientText("message_not_modified") {
		t.Error("not-modified is a benign no-op, not transient")
	}
	if IsTransientText("model not found") {
		t.Error("not-found should be permanent")
	}
}
