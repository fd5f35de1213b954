package errors

import (
	"errors"
	"fmt"
	"strings"
)

// AdapterError is the base interface for all errors raised by this module.
type AdapterError interface {
	error
	IsAdapterError() bool
}

// Compile-time verification that all error types implement AdapterError.
var (
	_ AdapterError = (*EngineStartError)(nil)
	_ AdapterError = (*ExecutionError)(nil)
	_ AdapterError = (*InvalidNameError)(nil)
	_ AdapterError = (*InvalidDefinitionError)(nil)
	_ AdapterError = (*NotFoundError)(nil)
	_ AdapterError = (*InvalidRequestError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionClosed indicates the engine session has been shut down and
	// cannot be reused.
	ErrSessionClosed = errors.New("engine session closed")

	// ErrSessionNotStarted indicates an execution was attempted before the
	// session reached the ready state.
	ErrSessionNotStarted = errors.New("engine session not started")
)

// Error kinds reported to the protocol boundary.
const (
	KindEngineStart       = "engine_start"
	KindExecution         = "execution"
	KindInvalidName       = "invalid_name"
	KindInvalidDefinition = "invalid_definition"
	KindNotFound          = "not_found"
	KindInvalidRequest    = "invalid_request"
	KindSessionClosed     = "session_closed"
	KindInternal          = "internal"
)

// EngineStartError indicates the MATLAB engine could not be located or
// initialized.
type EngineStartError struct {
	SearchedPaths []string
	Err           error
}

func (e *EngineStartError) Error() string {
	if len(e.SearchedPaths) > 0 {
		return fmt.Sprintf("MATLAB engine not available (searched: %s)",
			strings.Join(e.SearchedPaths, ", "))
	}

	return fmt.Sprintf("MATLAB engine failed to start: %v", e.Err)
}

func (e *EngineStartError) Unwrap() error {
	return e.Err
}

// IsAdapterError implements AdapterError.
func (e *EngineStartError) IsAdapterError() bool { return true }

// ExecutionError indicates user code failed inside the engine. It carries
// the engine's own diagnostic text verbatim. The session remains live and
// usable after this error.
type ExecutionError struct {
	// Identifier is the engine's error identifier (e.g.
	// "MATLAB:undefinedVarOrFunction"), if one was reported.
	Identifier string

	// Diagnostic is the engine's own error message, verbatim.
	Diagnostic string

	// Output is any console output captured before the failure.
	Output string
}

func (e *ExecutionError) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("engine execution failed [%s]: %s", e.Identifier, e.Diagnostic)
	}

	return fmt.Sprintf("engine execution failed: %s", e.Diagnostic)
}

// IsAdapterError implements AdapterError.
func (e *ExecutionError) IsAdapterError() bool { return true }

// InvalidNameError indicates an artifact name is not a legal MATLAB
// identifier.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid artifact name %q: %s", e.Name, e.Reason)
}

// IsAdapterError implements AdapterError.
func (e *InvalidNameError) IsAdapterError() bool { return true }

// InvalidDefinitionError indicates a function body does not contain a
// parseable function definition matching the artifact name.
type InvalidDefinitionError struct {
	Name   string
	Reason string
}

func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("invalid function definition for %q: %s", e.Name, e.Reason)
}

// IsAdapterError implements AdapterError.
func (e *InvalidDefinitionError) IsAdapterError() bool { return true }

// NotFoundError indicates a named artifact does not exist in the store.
type NotFoundError struct {
	Name string
	Dir  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q not found in %s", e.Name, e.Dir)
}

// IsAdapterError implements AdapterError.
func (e *NotFoundError) IsAdapterError() bool { return true }

// InvalidRequestError indicates malformed tool parameters. It is raised at
// the protocol boundary before any engine or store work happens.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: field %q %s", e.Field, e.Reason)
}

// IsAdapterError implements AdapterError.
func (e *InvalidRequestError) IsAdapterError() bool { return true }

// Kind classifies an error into the structured kind reported to the calling
// protocol. Unknown errors classify as KindInternal.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrSessionClosed) {
		return KindSessionClosed
	}

	var (
		startErr   *EngineStartError
		execErr    *ExecutionError
		nameErr    *InvalidNameError
		defErr     *InvalidDefinitionError
		nfErr      *NotFoundError
		requestErr *InvalidRequestError
	)

	switch {
	case errors.As(err, &startErr):
		return KindEngineStart
	case errors.As(err, &execErr):
		return KindExecution
	case errors.As(err, &nameErr):
		return KindInvalidName
	case errors.As(err, &defErr):
		return KindInvalidDefinition
	case errors.As(err, &nfErr):
		return KindNotFound
	case errors.As(err, &requestErr):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}
