package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Library is the part of the engine the MCP tools call.
type Library interface {
	Query(ctx context.Context, req engine.QueryRequest) (engine.QueryResult, error)
	SearchByTerm(ctx context.Context, term string, limit int) ([]library.Citation, error)
	ListDocuments(ctx context.Context) ([]library.Document, error)
	Summary(ctx context.Context, filename string) (generate.Summary, error)
}

var _ Library = (*engine.Engine)(nil)

// Server is an MCP server backed by a Library.
type Server struct {
	mcp     *mcp.Server
	library Library
	metrics *Metrics
	answers *AnswerMetrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "scriptorium")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "scriptorium",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server with the library tools registered.
func NewServer(cfg *Config, lib Library) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if lib == nil {
		return nil, fmt.Errorf("library is required")
	}
	if cfg.Name == "" {
		cfg.Name = "scriptorium"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		library: lib,
		metrics: NewMetrics(logger),
		answers: GetAnswerMetrics(logger),
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session over transport. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
