// Package http assembles the gin router: the query/stream/cancel surface,
// health check, and debug endpoint, with Basic auth gating everything but
// health (spec §4.5).
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/config"
	"github.com/llmcompare/core/internal/interfaces/http/handlers"
	"github.com/llmcompare/core/internal/orchestrator"
	"github.com/llmcompare/core/internal/session"
)

// Server wraps the underlying net/http server so main can Start/Stop it
// without reaching into gin directly.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds the gin router and HTTP server for the given dependencies.
func New(cfg *config.Config, store *session.Store, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	queryHandler := handlers.NewQueryHandler(store, orch, logger)
	debugHandler := handlers.NewDebugHandler(store, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	authed := router.Group("/")
	authed.Use(basicAuth(cfg))
	{
		api := authed.Group("/api")
		api.POST("/query", queryHandler.Query)
		api.GET("/stream/:session_id", queryHandler.Stream)
		api.POST("/cancel/:session_id", queryHandler.Cancel)

		authed.GET("/debug/memory", debugHandler.Memory)
	}

	return &Server{
		httpServer: &http.Server{Addr: cfg.ListenAddr, Handler: router},
		logger:     logger,
	}
}

// Start begins serving in the background; errors after a successful start
// are logged rather than returned, matching the teacher's listen-and-serve
// pattern.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, refusing new connections while
// letting in-flight ones drain until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
