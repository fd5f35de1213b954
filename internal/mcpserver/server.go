// Package mcpserver is the protocol-facing boundary of the adapter.
//
// It wraps the official MCP SDK server and registers the tool surface:
// create_script, create_function, execute_script, call_function, and
// execute_command. Tool parameters are validated before anything reaches
// the execution layer, and every adapter error is converted into a
// structured tool error payload (kind + message) instead of terminating
// the process.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/numlab/matlab-mcp-go/internal/artifact"
	"github.com/numlab/matlab-mcp-go/internal/run"
)

// Config holds MCP server configuration.
type Config struct {
	// Name is the server name advertised during MCP initialization.
	Name string

	// Version is the server version string.
	Version string

	// Store persists script and function artifacts. Required.
	Store *artifact.Store

	// Runner executes scripts and functions. Required.
	Runner *run.Runner

	// Logger receives server operation logs. Required.
	Logger *slog.Logger
}

// Server wraps the MCP SDK server and the adapter's tool surface.
type Server struct {
	mcpServer *mcp.Server
	store     *artifact.Store
	runner    *run.Runner
	log       *slog.Logger
}

// NewServer creates an MCP server exposing the adapter tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}

	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}

	if cfg.Store == nil || cfg.Runner == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("store, runner, and logger are required")
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:  cfg.Store,
		runner: cfg.Runner,
		log:    cfg.Logger.With("component", "mcp_server"),
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return s, nil
}

// Run serves the MCP protocol on the given transport. Blocking; returns
// when the transport closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}
