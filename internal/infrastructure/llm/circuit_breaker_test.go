package llm

import (
	"testing"
	"time"

	apperrors "github.com/bsrbot/bsr/pkg/errors"
)

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, 100*time.Millisecond)
	if cb.State() != CircuitClosed {
		t.Fatal("expected closed state by default")
	}
	if !cb.Allow() {
		t.Fatal("expected allow in closed state")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed after 2 failures")
	}

	cb.RecordFailure() // 3rd failure
	if cb.State() != CircuitOpen {
		t.Fatal("should be open after 3 failures")
	}
	if cb.Allow() {
		t.Fatal("should not allow when open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // Resets failure count
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed, success resets the failure count")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure() // Opens
	if cb.State() != CircuitOpen {
		t.Fatal("should be open")
	}

	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("should allow probe after recovery timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatal("should be half-open after recovery timeout")
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 2, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow() // Transitions to half-open

	cb.RecordSuccess()
	if cb.State() != CircuitHalfOpen {
		t.Fatal("should still be half-open after 1 of 2 required successes")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatal("should be closed after reaching the success threshold")
	}
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow() // half-open

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("failure during half-open should re-open immediately")
	}
	if cb.Allow() {
		t.Fatal("should reject calls after re-opening")
	}
}

func TestCircuitBreaker_CallReturnsCircuitOpenError(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, time.Minute)

	err := cb.Call(func() error { return apperrors.NewInternalError("boom") })
	if err == nil {
		t.Fatal("expected error from failing call")
	}

	err = cb.Call(func() error { return nil })
	if !apperrors.IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, time.Minute)
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open")
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Fatal("reset should force closed state")
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}
