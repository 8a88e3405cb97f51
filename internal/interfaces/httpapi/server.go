package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bsrbot/bsr/internal/application/usecase"
	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/interfaces/httpapi/handlers"
	syncsvc "github.com/bsrbot/bsr/internal/sync"
)

// Server is the HTTP ingress.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the gin router and wraps it in an http.Server.
func NewServer(cfg config.APIConfig, summarizer *usecase.Summarizer, syncService *syncsvc.Service, store *persistence.Store, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(ginLogger(logger))

	requestHandler := handlers.NewRequestHandler(summarizer, logger)
	syncHandler := handlers.NewSyncHandler(syncService, logger)

	setupRoutes(router, requestHandler, syncHandler, store)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, requestHandler *handlers.RequestHandler, syncHandler *handlers.SyncHandler, store *persistence.Store) {
	router.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/requests", requestHandler.Submit)

		v1.GET("/sync/status", syncHandler.Status)
		v1.GET("/sync/preview", syncHandler.Preview)
		v1.POST("/sync/run", syncHandler.Run)
	}
}

// requestID tags every request with a correlation id, honoring one supplied
// by the caller.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
