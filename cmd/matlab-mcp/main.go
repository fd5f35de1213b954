// Command matlab-mcp serves a local MATLAB installation over MCP stdio.
//
// Configuration comes from ~/.matlab-mcp/config.yaml, the working
// directory, and MATLAB_MCP_* environment variables. MATLAB_PATH points at
// the installation root when it cannot be discovered automatically.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	matlabmcp "github.com/numlab/matlab-mcp-go"
	"github.com/numlab/matlab-mcp-go/internal/config"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "matlab-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries the MCP protocol; logs must go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := matlabmcp.New(
		matlabmcp.WithLogger(log),
		matlabmcp.WithMatlabPath(cfg.MatlabPath),
		matlabmcp.WithScriptsDir(cfg.ScriptsDir),
		matlabmcp.WithStartupTimeout(cfg.StartupTimeout),
		matlabmcp.WithEvalTimeout(cfg.EvalTimeout),
		matlabmcp.WithServerInfo("matlab-mcp", version),
	)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Warn("shutdown error", "error", closeErr)
		}
	}()

	log.Info("MCP server ready", "name", "matlab-mcp", "version", version, "transport", "stdio", "scripts_dir", cfg.ScriptsDir)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	log.Info("MCP server shut down gracefully")
	return nil
}
