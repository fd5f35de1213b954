package matlabmcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/numlab/matlab-mcp-go/internal/artifact"
	"github.com/numlab/matlab-mcp-go/internal/config"
	"github.com/numlab/matlab-mcp-go/internal/engine"
	"github.com/numlab/matlab-mcp-go/internal/mcpserver"
	"github.com/numlab/matlab-mcp-go/internal/run"
	"github.com/numlab/matlab-mcp-go/internal/session"
)

const (
	defaultServerName    = "matlab-mcp"
	defaultServerVersion = "0.1.0"
)

// Server is a fully wired MCP server bridging MCP clients to a MATLAB
// session. Create one with New, serve it with Run, and always Close it so
// the MATLAB process is terminated.
//
// Servers are single-use: after Close, create a new one with New.
type Server struct {
	session *session.Manager
	srv     *mcpserver.Server

	closeOnce sync.Once
	closeErr  error
}

// New assembles a Server from the given options. The MATLAB process is not
// started here; it launches lazily on the first execution request.
func New(opts ...Option) (*Server, error) {
	o := applyOptions(opts)

	log := o.Logger
	if log == nil {
		log = NopLogger()
	}

	scriptsDir := o.ScriptsDir
	if scriptsDir == "" {
		scriptsDir = config.DefaultScriptsDir
	}

	startupTimeout := o.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = config.DefaultStartupTimeout
	}

	name := o.ServerName
	if name == "" {
		name = defaultServerName
	}

	version := o.ServerVersion
	if version == "" {
		version = defaultServerVersion
	}

	store := artifact.NewStore(scriptsDir, log)

	eng := o.engine
	if eng == nil {
		eng = engine.NewProcess(engine.ProcessConfig{
			MatlabPath:     o.MatlabPath,
			StartupTimeout: startupTimeout,
			Logger:         log,
		})
	}

	sess := session.NewManager(log, eng)
	runner := run.NewRunner(log, sess, store, o.EvalTimeout)

	srv, err := mcpserver.NewServer(mcpserver.Config{
		Name:    name,
		Version: version,
		Store:   store,
		Runner:  runner,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble server: %w", err)
	}

	return &Server{session: sess, srv: srv}, nil
}

// Run serves the MCP protocol over stdio. Blocking; returns when the
// client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, &mcp.StdioTransport{})
}

// Serve runs the MCP protocol over the given transport.
func (s *Server) Serve(ctx context.Context, transport mcp.Transport) error {
	return s.srv.Run(ctx, transport)
}

// Close shuts down the MATLAB session. Idempotent; subsequent calls return
// the first error.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Shutdown()
	})

	return s.closeErr
}
