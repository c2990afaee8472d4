package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/pkg/api/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports store reachability for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	store        Pinger
	gatherer     prometheus.Gatherer
	environment  string
	maxSpeed     float64
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port           int
	Orchestrator   *orchestrator.Manager
	Store          Pinger
	Gatherer       prometheus.Gatherer
	Environment    string
	AllowedOrigins []string
	MaxReplaySpeed float64
	Logger         *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware(cors.NewPolicy(cfg.Environment, cfg.AllowedOrigins)))

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		gatherer:     cfg.Gatherer,
		environment:  cfg.Environment,
		maxSpeed:     cfg.MaxReplaySpeed,
		logger:       cfg.Logger,
	}
	if s.maxSpeed <= 0 {
		s.maxSpeed = 10
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	tasks := s.router.Group("/tasks")
	{
		tasks.POST("/submit", s.handleSubmitTask)
		tasks.GET("/:id", s.handleGetTask)
		tasks.GET("/:id/logs", s.handleGetLogs)
		tasks.GET("/:id/replay", s.handleGetReplay)
		tasks.DELETE("/:id", s.handleDeleteTask)
	}

	s.router.GET("/api/tasks", s.handleListTasks)
}

// StreamHandler serves the WebSocket endpoints
type StreamHandler interface {
	HandleTaskUpdates(c *gin.Context)
	HandleTaskLogs(c *gin.Context)
	HandleReplay(c *gin.Context)
}

// SetupWebSocket adds the WebSocket routes to the server
func (s *Server) SetupWebSocket(h StreamHandler) {
	s.router.GET("/ws/:id", h.HandleTaskUpdates)
	s.router.GET("/ws/:id/logs", h.HandleTaskLogs)
	s.router.GET("/ws/:id/replay", h.HandleReplay)
	s.router.GET("/api/ws/:id/replay", h.HandleReplay)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
