// Package matlabmcp exposes a local MATLAB installation as an MCP server.
//
// The server manages a single long-lived MATLAB process and offers tools to
// create script and function files, execute them, call functions with JSON
// arguments, and run raw commands. Console output, return values, requested
// workspace variables, and figures created during a call are captured and
// returned in the tool results.
//
// The MATLAB process starts lazily on the first execution request and is
// reused for every request after that, so workspace state persists across
// tool calls for the lifetime of the server.
//
// Typical usage:
//
//	srv, err := matlabmcp.New(
//	    matlabmcp.WithLogger(slog.Default()),
//	    matlabmcp.WithScriptsDir("matlab_scripts"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package matlabmcp
