package httpx

import (
	"net/http"

	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"go.uber.org/zap"
)

// MaxSizeBudget is the hard cap on any configured response budget.
const MaxSizeBudget = 1 << 30 // 1 GiB

// CheckResponseSize enforces a response-size budget before the body is parsed.
// Content-Length is consulted first; when absent, bufferedLen (the length of
// any already-buffered body, -1 for none) is checked instead. A budget between
// 50% and 100% usage emits a warning.
func CheckResponseSize(resp *http.Response, bufferedLen int64, budget int64, logger *zap.Logger) error {
	if budget <= 0 || budget > MaxSizeBudget {
		budget = MaxSizeBudget
	}

	if resp != nil && resp.ContentLength >= 0 {
		if resp.ContentLength > budget {
			return apperrors.NewSizeError(resp.ContentLength, budget)
		}
		if resp.ContentLength*2 >= budget && logger != nil {
			logger.Warn("Response size approaching budget",
				zap.Int64("content_length", resp.ContentLength),
				zap.Int64("budget", budget),
			)
		}
		return nil
	}

	if bufferedLen > budget {
		return apperrors.NewSizeError(bufferedLen, budget)
	}
	return nil
}
