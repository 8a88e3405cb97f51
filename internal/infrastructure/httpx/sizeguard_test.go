package httpx

import (
	"net/http"
	"testing"

	apperrors "github.com/bsrbot/bsr/pkg/errors"
)

func TestCheckResponseSize_ContentLengthWithinBudget(t *testing.T) {
	resp := &http.Response{ContentLength: 100}
	if err := CheckResponseSize(resp, -1, 1000, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckResponseSize_ContentLengthOverBudget(t *testing.T) {
	resp := &http.Response{ContentLength: 2000}
	err := CheckResponseSize(resp, -1, 1000, nil)
	if err == nil {
		t.Fatal("expected size error")
	}
	if !apperrors.IsResponseTooLarge(err) {
		t.Errorf("expected RESPONSE_TOO_LARGE, got %v", err)
	}
}

func TestCheckResponseSize_UnknownLengthUsesBufferedLen(t *testing.T) {
	resp := &http.Response{ContentLength: -1}
	if err := CheckResponseSize(resp, 500, 1000, nil); err != nil {
		t.Fatalf("buffered body within budget: %v", err)
	}
	if err := CheckResponseSize(resp, 1500, 1000, nil); err == nil {
		t.Fatal("buffered body over budget should fail")
	}
}

func TestCheckResponseSize_ZeroBudgetFallsBackToHardCap(t *testing.T) {
	resp := &http.Response{ContentLength: 1 << 20}
	if err := CheckResponseSize(resp, -1, 0, nil); err != nil {
		t.Fatalf("zero budget should use hard cap: %v", err)
	}
	resp = &http.Response{ContentLength: MaxSizeBudget + 1}
	if err := CheckResponseSize(resp, -1, 0, nil); err == nil {
		t.Fatal("hard cap should still apply")
	}
}
