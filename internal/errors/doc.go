// Package errors defines error types for the MATLAB MCP adapter.
//
// This package provides structured error types for the failure paths of the
// adapter: engine startup, artifact validation, artifact lookup, and script
// or function execution inside the engine. All error types support error
// unwrapping and can be checked using errors.Is and errors.As. Kind maps an
// error to the stable kind string reported across the protocol boundary.
package errors
