package matlabmcp

import (
	"log/slog"
	"time"

	"github.com/numlab/matlab-mcp-go/internal/engine"
)

// Options configures a Server using the functional options pattern.
type Options struct {
	// Logger receives operational logs. If nil, logging is disabled.
	Logger *slog.Logger

	// MatlabPath is the root of a MATLAB installation. If empty, the
	// installation is discovered from MATLAB_PATH, the system PATH, and
	// conventional install locations.
	MatlabPath string

	// ScriptsDir is where script and function files are stored.
	ScriptsDir string

	// StartupTimeout bounds how long the MATLAB process may take to
	// become interactive.
	StartupTimeout time.Duration

	// EvalTimeout bounds a single execution request. Zero disables the
	// bound.
	EvalTimeout time.Duration

	// ServerName and ServerVersion are advertised during MCP
	// initialization.
	ServerName    string
	ServerVersion string

	// engine overrides the MATLAB process for tests.
	engine engine.Engine
}

// Option configures a Server.
type Option func(*Options)

func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for operational output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMatlabPath sets the explicit root of the MATLAB installation to use.
// If not set, the installation is discovered automatically.
func WithMatlabPath(path string) Option {
	return func(o *Options) {
		o.MatlabPath = path
	}
}

// WithScriptsDir sets the directory where script and function files are
// stored.
func WithScriptsDir(dir string) Option {
	return func(o *Options) {
		o.ScriptsDir = dir
	}
}

// WithStartupTimeout bounds how long MATLAB may take to start.
func WithStartupTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.StartupTimeout = d
	}
}

// WithEvalTimeout bounds a single execution request. Zero, the default,
// lets user code run arbitrarily long.
func WithEvalTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.EvalTimeout = d
	}
}

// WithServerInfo overrides the name and version advertised during MCP
// initialization.
func WithServerInfo(name, version string) Option {
	return func(o *Options) {
		o.ServerName = name
		o.ServerVersion = version
	}
}

// withEngine injects an engine implementation, replacing the MATLAB
// process. Test seam.
func withEngine(eng engine.Engine) Option {
	return func(o *Options) {
		o.engine = eng
	}
}
