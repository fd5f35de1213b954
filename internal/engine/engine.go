package engine

import "context"

// Engine is the capability boundary to the numerical engine. It is passed
// explicitly to the execution layer rather than reached through ambient
// state, so tests can substitute a fake.
//
// Contract:
//   - Eval, CallFunction, ReadVariable, ListFigures, and ExportFigure may
//     only be called after a successful Start and must be serialized by the
//     caller; the engine is not safe for concurrent invocation.
//   - A failure of user code inside the engine is reported as
//     *errors.ExecutionError and leaves the engine alive and usable.
//   - Close is idempotent.
type Engine interface {
	// Start launches the engine process and waits until it accepts
	// commands. Returns *errors.EngineStartError if the engine cannot be
	// located or initialized.
	Start(ctx context.Context) error

	// Eval evaluates engine-language statements in the session workspace
	// and returns the captured console output.
	Eval(ctx context.Context, code string) (string, error)

	// CallFunction invokes a function on the engine path with positional
	// arguments and returns its output along with captured console
	// output. nargout selects how many outputs to request: zero yields a
	// nil value, one yields the value itself, more yields an array of
	// values.
	CallFunction(ctx context.Context, name string, args []any, nargout int) (any, string, error)

	// ReadVariable returns the value of a workspace variable in
	// language-neutral form: scalars as float64 or bool, arrays as nested
	// []any, char and string data as string.
	ReadVariable(ctx context.Context, name string) (any, error)

	// ListFigures returns the numbers of all currently open figure windows.
	ListFigures(ctx context.Context) ([]int, error)

	// ExportFigure writes the given figure as a PNG file at path.
	ExportFigure(ctx context.Context, handle int, path string) error

	// Close terminates the engine process. Safe to call multiple times.
	Close() error
}
