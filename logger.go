package matlabmcp

import (
	"io"
	"log/slog"
)

// NopLogger returns a logger that drops every record. Servers built
// without WithLogger use it, so the adapter is silent by default.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
