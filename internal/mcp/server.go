package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/session"
)

// Server exposes a session over MCP.
type Server struct {
	mcp     *mcp.Server
	session *session.Service
	metrics *Metrics
	logger  *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "repochat")
	Name string

	// Version is the server version (default: "dev")
	Version string
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{Name: "repochat", Version: "dev"}
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics replaces the metrics recorded on the global meter provider.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server whose tools act on sess.
func NewServer(sess *session.Service, cfg Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if sess == nil {
		return nil, errors.New("session is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		session: sess,
		logger:  logger.Named("mcp"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(logger)
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves on t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info(ctx, "starting MCP server")
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
