package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	syncsvc "github.com/bsrbot/bsr/internal/sync"
)

// SyncHandler exposes the bookmark sync facade.
type SyncHandler struct {
	service *syncsvc.Service
	logger  *zap.Logger
}

func NewSyncHandler(service *syncsvc.Service, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		service: service,
		logger:  logger,
	}
}

// Status reports linkage statistics.
func (h *SyncHandler) Status(c *gin.Context) {
	stats, err := h.service.GetSyncStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load sync status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Preview reports what a sync run would do without mutating anything.
func (h *SyncHandler) Preview(c *gin.Context) {
	userID := parseUserID(c.Query("user_id"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	preview, err := h.service.PreviewSync(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Sync preview failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, preview)
}

type RunSyncRequest struct {
	UserID *int64 `json:"user_id"`
	Limit  int    `json:"limit"`
	Force  bool   `json:"force"`
}

// Run triggers a full sync and returns the per-phase results.
func (h *SyncHandler) Run(c *gin.Context) {
	var req RunSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	full := h.service.RunFullSync(c.Request.Context(), req.UserID, req.Limit, req.Force)
	c.JSON(http.StatusOK, full)
}

func parseUserID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
