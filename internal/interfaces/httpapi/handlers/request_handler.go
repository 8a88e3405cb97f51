package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bsrbot/bsr/internal/application/usecase"
	apperrors "github.com/bsrbot/bsr/pkg/errors"
)

// RequestHandler accepts URL submissions.
type RequestHandler struct {
	summarizer *usecase.Summarizer
	logger     *zap.Logger
}

func NewRequestHandler(summarizer *usecase.Summarizer, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		summarizer: summarizer,
		logger:     logger,
	}
}

type SubmitRequest struct {
	URL    string `json:"url" binding:"required"`
	UserID int64  `json:"user_id"`
}

// Submit ingests one URL and returns the stored summary.
func (h *RequestHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.summarizer.SummarizeURL(c.Request.Context(), req.URL, req.UserID)
	if err != nil {
		h.logger.Error("Failed to process request", zap.String("url", req.URL), zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	if outcome.Cached {
		status = http.StatusOK
	}
	c.JSON(status, outcome)
}

func statusForError(err error) int {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeServiceUnavail, apperrors.CodeCircuitOpen, apperrors.CodeStorageExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
