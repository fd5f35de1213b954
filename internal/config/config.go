// Package config loads adapter configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (MATLAB_PATH, MATLAB_MCP_*)
//  2. Config file (~/.matlab-mcp/config.yaml or ./config.yaml)
//  3. Default values
//
// A missing or wrong MATLAB installation path is deliberately not a load
// error: it surfaces as an engine start failure on first use, so the server
// can start and report the problem through the protocol.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidScriptsDir indicates the scripts directory setting is unusable.
var ErrInvalidScriptsDir = errors.New("invalid scripts directory")

// Default configuration values.
const (
	// DefaultScriptsDir is where script and function artifacts are stored.
	DefaultScriptsDir = "matlab_scripts"

	// DefaultStartupTimeout bounds how long the first engine start may take.
	DefaultStartupTimeout = 120 * time.Second

	// DefaultEvalTimeout is zero: user code may run arbitrarily long and
	// cancellation is the caller's concern.
	DefaultEvalTimeout = 0 * time.Second
)

// Config stores adapter configuration.
type Config struct {
	// MatlabPath is the MATLAB installation root (the directory containing
	// bin/matlab). Empty means discover via PATH and common locations.
	MatlabPath string `mapstructure:"matlab_path"`

	// ScriptsDir is the artifact store directory, created on demand.
	ScriptsDir string `mapstructure:"scripts_dir"`

	// StartupTimeout bounds engine startup. Zero disables the bound.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// EvalTimeout bounds a single evaluation. Zero (the default) disables
	// the bound; long-running numerical code is expected.
	EvalTimeout time.Duration `mapstructure:"eval_timeout"`

	// LogLevel is the slog level name: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load loads configuration from defaults, an optional config file, and
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".matlab-mcp"))
	}

	v.AddConfigPath(".")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		slog.Debug("no config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("matlab_path", "")
	v.SetDefault("scripts_dir", DefaultScriptsDir)
	v.SetDefault("startup_timeout", DefaultStartupTimeout)
	v.SetDefault("eval_timeout", DefaultEvalTimeout)
	v.SetDefault("log_level", "info")
}

// bindEnv binds environment variables. MATLAB_PATH keeps its historical
// unprefixed name; everything else uses the MATLAB_MCP_ prefix.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MATLAB_MCP")
	v.AutomaticEnv()

	// Bound explicitly so MATLAB_PATH works without the prefix.
	_ = v.BindEnv("matlab_path", "MATLAB_PATH", "MATLAB_MCP_MATLAB_PATH")
	_ = v.BindEnv("scripts_dir", "MATLAB_MCP_SCRIPTS_DIR")
	_ = v.BindEnv("startup_timeout", "MATLAB_MCP_STARTUP_TIMEOUT")
	_ = v.BindEnv("eval_timeout", "MATLAB_MCP_EVAL_TIMEOUT")
	_ = v.BindEnv("log_level", "MATLAB_MCP_LOG_LEVEL")
}

// Validate checks settings that must be usable at load time. The MATLAB
// installation path is intentionally not checked here.
func (c *Config) Validate() error {
	if c.ScriptsDir == "" {
		return fmt.Errorf("%w: scripts_dir must not be empty", ErrInvalidScriptsDir)
	}

	return nil
}

// SlogLevel converts the configured level name to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
