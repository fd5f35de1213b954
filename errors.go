package matlabmcp

import (
	"github.com/numlab/matlab-mcp-go/internal/errors"
)

// AdapterError is the base interface for all errors raised by this module.
type AdapterError = errors.AdapterError

// Error types surfaced through the public API. Tool callers see these as
// kind-tagged error payloads; Go callers can match them with errors.As.
type (
	// EngineStartError indicates the MATLAB engine could not be located
	// or initialized.
	EngineStartError = errors.EngineStartError

	// ExecutionError indicates user code failed inside the engine. The
	// session remains live and usable after this error.
	ExecutionError = errors.ExecutionError

	// InvalidNameError indicates an artifact name is not a legal MATLAB
	// identifier.
	InvalidNameError = errors.InvalidNameError

	// InvalidDefinitionError indicates a function body does not declare
	// the named function.
	InvalidDefinitionError = errors.InvalidDefinitionError

	// NotFoundError indicates a named artifact does not exist.
	NotFoundError = errors.NotFoundError

	// InvalidRequestError indicates malformed tool parameters.
	InvalidRequestError = errors.InvalidRequestError
)

// ErrSessionClosed indicates the engine session has been shut down and
// cannot be reused.
var ErrSessionClosed = errors.ErrSessionClosed

// Error kinds as they appear in tool error payloads.
const (
	KindEngineStart       = errors.KindEngineStart
	KindExecution         = errors.KindExecution
	KindInvalidName       = errors.KindInvalidName
	KindInvalidDefinition = errors.KindInvalidDefinition
	KindNotFound          = errors.KindNotFound
	KindInvalidRequest    = errors.KindInvalidRequest
	KindSessionClosed     = errors.KindSessionClosed
	KindInternal          = errors.KindInternal
)

// ErrorKind classifies an error into the kind string used in tool error
// payloads. Unknown errors classify as KindInternal.
func ErrorKind(err error) string {
	return errors.Kind(err)
}
