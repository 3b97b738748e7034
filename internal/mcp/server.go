// Package mcp provides an MCP (Model Context Protocol) server for pathsim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/pathsim/internal/config"
	"github.com/nvandessel/pathsim/internal/ratelimit"
	"github.com/nvandessel/pathsim/internal/store"
	"go.uber.org/multierr"
)

// Server wraps the MCP SDK server and exposes the simulator as tools.
type Server struct {
	server   *sdk.Server
	root     string
	settings *config.PathsimConfig
	logger   *slog.Logger

	// store is nil unless output.database is configured.
	store *store.SQLiteStore

	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger

	closeOnce sync.Once
	closeErr  error
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "pathsim")
	Version string // Server version
	Root    string // Project root directory; snapshots may be read from it

	// Settings defaults to config.Default().
	Settings *config.PathsimConfig

	// Logger receives operational logs. It must not write to stdout,
	// which carries the protocol.
	Logger *slog.Logger
}

// NewServer creates a new MCP server with pathsim tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		root:         cfg.Root,
		settings:     settings,
		logger:       logger,
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	if settings.Output.Database != "" {
		st, err := store.Open(settings.Output.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open run database: %w", err)
		}
		s.store = st
	}

	if dir, err := config.Dir(); err == nil {
		s.auditLogger = NewAuditLogger(dir)
	}

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	return multierr.Append(err, s.Close())
}

// Close releases the run database and audit log. It is safe to call more
// than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.store != nil {
			s.closeErr = multierr.Append(s.closeErr, s.store.Close())
		}
		s.closeErr = multierr.Append(s.closeErr, s.auditLogger.Close())
	})
	return s.closeErr
}
