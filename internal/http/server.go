// Package http provides the HTTP API of scriptorium.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// Library is the engine surface served over HTTP.
type Library interface {
	Ingest(ctx context.Context, data []byte, filename string) (engine.IngestResult, error)
	Query(ctx context.Context, req engine.QueryRequest) (engine.QueryResult, error)
	ListDocuments(ctx context.Context) ([]library.Document, error)
	DeleteDocument(ctx context.Context, filename string) error
	Summary(ctx context.Context, filename string) (generate.Summary, error)
	Statistics(ctx context.Context) (engine.Statistics, error)
	SearchByTerm(ctx context.Context, term string, limit int) ([]library.Citation, error)
	Health(ctx context.Context) engine.Health
	ProviderStatus(ctx context.Context) providers.Status
	SetProviderConfig(ctx context.Context, req engine.ProviderConfigRequest) error
	ValidateCredentials(ctx context.Context, credentials map[string]string) []providers.Validation
}

var _ Library = (*engine.Engine)(nil)

// Server provides HTTP endpoints for scriptorium.
type Server struct {
	echo    *echo.Echo
	library Library
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// MaxUploadMB bounds request bodies. Defaults to 100.
	MaxUploadMB int
}

// NewServer creates a new HTTP server.
func NewServer(lib Library, logger *zap.Logger, cfg *Config) (*Server, error) {
	if lib == nil {
		return nil, fmt.Errorf("library cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8765,
		}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 100
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:    e,
		library: lib,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleUpload)
	v1.GET("/documents", s.handleListDocuments)
	v1.DELETE("/documents/:filename", s.handleDeleteDocument)
	v1.GET("/documents/:filename/summary", s.handleSummary)
	v1.POST("/query", s.handleQuery)
	v1.GET("/stats", s.handleStats)
	v1.GET("/terms/:term", s.handleTerm)
	v1.GET("/providers", s.handleProviderStatus)
	v1.PUT("/providers", s.handleSetProvider)
	v1.POST("/providers/validate", s.handleValidate)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
