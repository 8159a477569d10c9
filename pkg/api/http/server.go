package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RelayHandler serves requests under the relay prefix
type RelayHandler interface {
	HandleRelay(c *gin.Context)
}

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	server *http.Server
	relay  RelayHandler
	logger *zap.Logger

	port        int
	relayPath   string
	metricsPath string
	staticFile  string

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// Config holds HTTP server configuration
type Config struct {
	// Port to listen on; 0 picks a free port
	Port int
	// RelayPath is the path prefix handed to Relay
	RelayPath string
	// MetricsPath serves Prometheus metrics; empty disables it
	MetricsPath string
	// StaticFile replaces the embedded page and is re-read on every request
	StaticFile string
	Relay      RelayHandler
	// Gatherer backs the metrics endpoint; defaults to the global registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server. Nothing listens until Start is called.
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	// Only the exact /health and metrics paths are routes; "/health/" is a page
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:      router,
		relay:       cfg.Relay,
		logger:      logger,
		port:        cfg.Port,
		relayPath:   cfg.RelayPath,
		metricsPath: cfg.MetricsPath,
		staticFile:  cfg.StaticFile,
		serveErr:    make(chan error, 1),
	}
	if s.relayPath == "" {
		s.relayPath = "/gun"
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health check
	s.router.Any("/health", s.handleHealth)

	// Metrics
	if s.metricsPath != "" {
		handler := promhttp.Handler()
		if gatherer != nil {
			handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		}
		s.router.GET(s.metricsPath, gin.WrapH(handler))
	}

	// Relay prefix and the static page
	s.router.NoRoute(s.handleFallback)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in the background.
// Calling Start on a server that is already listening is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Info(fmt.Sprintf("Overlap running on port %d", port), zap.Int("port", port))
	s.logger.Info(fmt.Sprintf("Gun relay active at %s", s.relayPath), zap.String("path", s.relayPath))

	return nil
}

// IsListening reports whether Start has bound the port
func (s *Server) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listener != nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors delivers a serve failure after Start; it is closed when serving stops
func (s *Server) Errors() <-chan error {
	return s.serveErr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.IsListening() {
		return nil
	}

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

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
