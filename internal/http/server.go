// Package http serves the operational endpoints of a kgraph daemon.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/cache"
	"github.com/fyrsmithlabs/kgraph/internal/knowledge"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// DefaultHealthTimeout bounds the vector store ping behind GET /health.
const DefaultHealthTimeout = 5 * time.Second

// Backend is the part of the knowledge store the ops surface reads.
type Backend interface {
	Health(ctx context.Context) error
	Counts(ctx context.Context) (*knowledge.Counts, error)
}

// CacheStats reports cache effectiveness.
type CacheStats interface {
	Stats() cache.Stats
}

// Server provides the operational HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	backend  Backend
	cache    CacheStats
	gatherer prometheus.Gatherer
	metrics  *HTTPMetrics
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host          string
	Port          int
	Version       string
	HealthTimeout time.Duration
}

// Deps are the collaborators a Server reports on. Cache and Gatherer are
// optional; Gatherer defaults to prometheus.DefaultGatherer.
type Deps struct {
	Backend  Backend
	Cache    CacheStats
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	logger := deps.Logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		backend:  deps.Backend,
		cache:    deps.Cache,
		gatherer: deps.Gatherer,
		metrics:  NewHTTPMetrics(logger),
		logger:   logger,
		config:   cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()

	return s, nil
}

// requestLogger tags the request context with its id and logs the outcome.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), rid)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			// Let echo write the error response so the logged status is final.
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// handleHealth pings the vector store.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.HealthTimeout)
	defer cancel()

	if err := s.backend.Health(ctx); err != nil {
		s.logger.Warn(ctx, "health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status: StatusUnavailable,
			Error:  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: StatusOK})
}

// handleStats reports cache effectiveness and object counts. A failed count
// degrades the response instead of failing it.
func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatsResponse{
		Status:  StatusOK,
		Version: s.config.Version,
		Counts:  CountObjects(ctx, s.backend, s.logger),
	}
	if s.cache != nil {
		st := s.cache.Stats()
		resp.Cache = &st
	}
	if resp.Counts.Entities < 0 {
		resp.Status = StatusDegraded
	}
	return c.JSON(http.StatusOK, resp)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
