// Package run translates tool invocations into engine calls.
//
// The Runner is the execution adapter: it resolves artifacts, injects
// arguments into the engine workspace, captures console output, exports the
// figures created by the call, and reads back requested workspace
// variables. Every engine interaction for one request happens under the
// session's exclusive execution lock, so concurrent requests never
// interleave their engine evaluation.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/numlab/matlab-mcp-go/internal/artifact"
	"github.com/numlab/matlab-mcp-go/internal/engine"
	"github.com/numlab/matlab-mcp-go/internal/errors"
	"github.com/numlab/matlab-mcp-go/internal/session"
)

// Figure is one graphical output exported from the engine.
type Figure struct {
	// Handle is the engine-side figure number.
	Handle int

	// MIMEType is the encoding of Data, always image/png.
	MIMEType string

	// Data is the encoded image.
	Data []byte
}

// Result is the outcome of a single execution request. It is ephemeral:
// nothing here is persisted beyond the response.
type Result struct {
	// ID uniquely identifies this invocation in logs.
	ID string

	// Output is the captured console output.
	Output string

	// Value is the function return value; nil for scripts and commands.
	Value any

	// Variables maps requested workspace variable names to their values.
	Variables map[string]any

	// Figures holds the figures created during this call, in handle order.
	Figures []Figure

	// Duration is the total execution time.
	Duration time.Duration
}

// Runner executes scripts, functions, and raw commands through the engine
// session.
type Runner struct {
	log     *slog.Logger
	session *session.Manager
	store   *artifact.Store

	// timeout bounds a single execution. Zero means no bound.
	timeout time.Duration
}

// NewRunner creates an execution adapter bound to a session and a store.
func NewRunner(log *slog.Logger, sess *session.Manager, store *artifact.Store, timeout time.Duration) *Runner {
	return &Runner{
		log:     log.With("component", "runner"),
		session: sess,
		store:   store,
		timeout: timeout,
	}
}

// boundCtx applies the configured execution timeout, if any.
func (r *Runner) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// RunScript executes a stored script. Named args are injected into the
// engine workspace before the script runs; capture lists workspace
// variables to read back afterwards.
//
// Fails with *errors.NotFoundError if no artifact named name exists, and
// with *errors.ExecutionError if the script raises inside the engine. An
// execution failure leaves the session live and ready for the next call.
func (r *Runner) RunScript(ctx context.Context, name string, args map[string]any, capture []string) (Result, error) {
	path, err := r.store.Resolve(name)
	if err != nil {
		return Result{}, err
	}

	code, err := scriptPreamble(args)
	if err != nil {
		return Result{}, err
	}

	for _, varName := range capture {
		if err := artifact.ValidateName(varName); err != nil {
			return Result{}, &errors.InvalidRequestError{
				Field:  "capture",
				Reason: fmt.Sprintf("%q is not a valid variable name", varName),
			}
		}
	}

	code += fmt.Sprintf("run(%s);\n", engine.Quote(path))

	ctx, cancel := r.boundCtx(ctx)
	defer cancel()

	res := Result{ID: ulid.Make().String()}
	start := time.Now()

	err = r.session.Do(ctx, func(eng engine.Engine) error {
		before, err := eng.ListFigures(ctx)
		if err != nil {
			return err
		}

		if err := r.enterStoreDir(ctx, eng); err != nil {
			return err
		}

		output, err := eng.Eval(ctx, code)
		if err != nil {
			return err
		}

		res.Output = output

		if len(capture) > 0 {
			res.Variables = make(map[string]any, len(capture))

			for _, varName := range capture {
				value, err := eng.ReadVariable(ctx, varName)
				if err != nil {
					return err
				}

				res.Variables[varName] = value
			}
		}

		figures, err := r.exportNewFigures(ctx, eng, before)
		if err != nil {
			return err
		}

		res.Figures = figures

		return nil
	})

	res.Duration = time.Since(start)
	r.logOutcome("script", name, res, err)

	if err != nil {
		return Result{}, err
	}

	return res, nil
}

// CallFunction invokes a stored function with positional arguments and
// captures its return value along with output and figures. nargout below
// one defaults to one.
func (r *Runner) CallFunction(ctx context.Context, name string, args []any, nargout int) (Result, error) {
	if _, err := r.store.Resolve(name); err != nil {
		return Result{}, err
	}

	if nargout < 1 {
		nargout = 1
	}

	ctx, cancel := r.boundCtx(ctx)
	defer cancel()

	res := Result{ID: ulid.Make().String()}
	start := time.Now()

	err := r.session.Do(ctx, func(eng engine.Engine) error {
		before, err := eng.ListFigures(ctx)
		if err != nil {
			return err
		}

		// The store directory must be current so the engine resolves the
		// artifact as a function on its path.
		if err := r.enterStoreDir(ctx, eng); err != nil {
			return err
		}

		value, output, err := eng.CallFunction(ctx, name, args, nargout)
		if err != nil {
			return err
		}

		res.Value = value
		res.Output = output

		figures, err := r.exportNewFigures(ctx, eng, before)
		if err != nil {
			return err
		}

		res.Figures = figures

		return nil
	})

	res.Duration = time.Since(start)
	r.logOutcome("function", name, res, err)

	if err != nil {
		return Result{}, err
	}

	return res, nil
}

// RunCommand evaluates raw engine-language statements in the session
// workspace and captures output and figures.
func (r *Runner) RunCommand(ctx context.Context, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, &errors.InvalidRequestError{Field: "command", Reason: "must not be empty"}
	}

	ctx, cancel := r.boundCtx(ctx)
	defer cancel()

	res := Result{ID: ulid.Make().String()}
	start := time.Now()

	err := r.session.Do(ctx, func(eng engine.Engine) error {
		before, err := eng.ListFigures(ctx)
		if err != nil {
			return err
		}

		output, err := eng.Eval(ctx, command)
		if err != nil {
			return err
		}

		res.Output = output

		figures, err := r.exportNewFigures(ctx, eng, before)
		if err != nil {
			return err
		}

		res.Figures = figures

		return nil
	})

	res.Duration = time.Since(start)
	r.logOutcome("command", "", res, err)

	if err != nil {
		return Result{}, err
	}

	return res, nil
}

// enterStoreDir points the engine's working directory at the artifact
// store so scripts can call sibling functions.
func (r *Runner) enterStoreDir(ctx context.Context, eng engine.Engine) error {
	dir, err := filepath.Abs(r.store.Dir())
	if err != nil {
		return fmt.Errorf("resolve store dir: %w", err)
	}

	_, err = eng.Eval(ctx, fmt.Sprintf("cd(%s);\n", engine.Quote(dir)))

	return err
}

// exportNewFigures exports every figure created since the before snapshot.
// Only the delta is returned, so figures left open by earlier calls never
// leak into this response.
func (r *Runner) exportNewFigures(ctx context.Context, eng engine.Engine, before []int) ([]Figure, error) {
	after, err := eng.ListFigures(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(before))
	for _, h := range before {
		seen[h] = struct{}{}
	}

	var created []int

	for _, h := range after {
		if _, ok := seen[h]; !ok {
			created = append(created, h)
		}
	}

	if len(created) == 0 {
		return nil, nil
	}

	sort.Ints(created)

	exportDir, err := os.MkdirTemp("", "matlab-mcp-figs-")
	if err != nil {
		return nil, fmt.Errorf("create figure export dir: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(exportDir)
	}()

	figures := make([]Figure, 0, len(created))

	for _, handle := range created {
		path := filepath.Join(exportDir, fmt.Sprintf("figure_%d.png", handle))

		if err := eng.ExportFigure(ctx, handle, path); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path) //nolint:gosec // path is built above
		if err != nil {
			return nil, fmt.Errorf("read exported figure %d: %w", handle, err)
		}

		figures = append(figures, Figure{
			Handle:   handle,
			MIMEType: "image/png",
			Data:     data,
		})
	}

	return figures, nil
}

// logOutcome records one invocation at debug level, errors at warn.
func (r *Runner) logOutcome(kind, name string, res Result, err error) {
	if err != nil {
		r.log.Warn("Execution failed",
			"kind", kind, "name", name, "id", res.ID,
			"duration", res.Duration, "error", err)

		return
	}

	r.log.Debug("Execution finished",
		"kind", kind, "name", name, "id", res.ID,
		"duration", res.Duration, "figures", len(res.Figures))
}

// scriptPreamble renders workspace assignments for named script arguments,
// in sorted order for determinism. Values cross into the engine as JSON.
func scriptPreamble(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}

	sort.Strings(names)

	var b strings.Builder

	for _, name := range names {
		if err := artifact.ValidateName(name); err != nil {
			return "", &errors.InvalidRequestError{
				Field:  "args",
				Reason: fmt.Sprintf("%q is not a valid variable name", name),
			}
		}

		encoded, err := json.Marshal(args[name])
		if err != nil {
			return "", fmt.Errorf("encode argument %q: %w", name, err)
		}

		fmt.Fprintf(&b, "%s = jsondecode(%s);\n", name, engine.Quote(string(encoded)))
	}

	return b.String(), nil
}
