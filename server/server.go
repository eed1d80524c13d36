// Package server exposes the administrative HTTP API of the proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/x-08/agentcloud/ingest"
	"github.com/x-08/agentcloud/usage"
	"github.com/x-08/agentcloud/vectorstores"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultPromptResults   = 4
	MaxScrollLimit         = 1000
	maxBulkRecords         = 500
)

// QueueStatus reports the state of the embedding queue.
type QueueStatus interface {
	Len() int
	Cap() int
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Addr            string
	WebappURL       string
	ShutdownTimeout time.Duration
}

type Deps struct {
	Store     vectorstores.VectorStore
	Writer    *ingest.WritePath
	Embedders ingest.EmbedderSource
	Usage     usage.Tracker
	Queue     QueueStatus
	// Stats returns extra counters shown on /health, keyed by name.
	Stats  func() map[string]any
	Checks map[string]HealthCheck
	Logger *slog.Logger
}

type Server struct {
	cfg    Config
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "http_server"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if s.cfg.WebappURL != "" {
		corsConfig.AllowOrigins = []string{s.cfg.WebappURL}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/usage", s.handleUsage)

	collections := api.Group("/collections")
	collections.GET("", s.handleListCollections)
	collections.POST("/:name", s.handleCreateCollection)
	collections.DELETE("/:name", s.handleDeleteCollection)
	collections.GET("/:name/points/:id", s.handleGetPoint)
	collections.POST("/:name/scroll", s.handleScroll)

	// Writes and prompts resolve the collection from the datasource config.
	datasources := api.Group("/datasources")
	datasources.POST("/:datasource/points", s.handleUpsertPoint)
	datasources.POST("/:datasource/points/bulk", s.handleBulkUpsert)
	datasources.POST("/:datasource/prompt", s.handlePrompt)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "HTTP server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
