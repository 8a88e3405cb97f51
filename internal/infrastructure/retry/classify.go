package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// transientMarkers are substrings of error text that indicate a failure worth
// retrying. Matching is case-insensitive.
var transientMarkers = []string{
	"timeout",
	"connection",
	"network",
	"rate limit",
	"too many requests",
	"temporary",
	"unavailable",
	"gateway",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"try again",
	"retry",
	"deadline exceeded",
	"flood",
	"retry after",
}

// benignMarkers identify errors that look like failures but are no-ops; the
// edit endpoint of the bot API reports an unchanged message as HTTP 400.
var benignMarkers = []string{
	"message is not modified",
	"message_not_modified",
}

// IsTransientStatus classifies an HTTP status code.
// bodyText refines the 400 case: "not modified" responses are benign no-ops.
func IsTransientStatus(status int, bodyText string) bool {
	switch {
	case status == 408, status == 429:
		return true
	case status >= 500:
		return true
	case status == 400 && strings.Contains(strings.ToLower(bodyText), "not modified"):
		return false
	default:
		return false
	}
}

// IsTransient classifies an error as retryable from its type and message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range benignMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTransientText applies the message heuristics to raw text (error bodies,
// provider messages) without an error value.
func IsTransientText(text string) bool {
	msg := strings.ToLower(text)
	for _, marker := range benignMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
