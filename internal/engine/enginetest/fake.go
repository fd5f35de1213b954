// Package enginetest provides a scriptable in-memory Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/numlab/matlab-mcp-go/internal/engine"
)

// Fake implements engine.Engine without a MATLAB process. Behavior is
// scripted through the function fields; unset fields fall back to benign
// defaults. Fake also records calls so tests can assert on ordering and
// serialization.
type Fake struct {
	// StartErr, when set, makes Start fail.
	StartErr error

	// StartDelay makes Start block before returning, to widen races.
	StartDelay time.Duration

	// EvalFn handles Eval calls. Nil means empty output, no error.
	EvalFn func(code string) (string, error)

	// CallFn handles CallFunction calls. Nil means nil value, empty
	// output, no error.
	CallFn func(name string, args []any, nargout int) (any, string, error)

	// Vars backs ReadVariable. Reading a name not present fails.
	Vars map[string]any

	// FigureHandles backs ListFigures. Tests mutate it between calls to
	// simulate figures created during execution.
	FigureHandles []int

	// PNG is the payload ExportFigure writes. Defaults to a placeholder.
	PNG []byte

	mu      sync.Mutex
	started int
	closed  int
	active  int
	overlap bool
	evals   []string
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) Start(ctx context.Context) error {
	if f.StartDelay > 0 {
		select {
		case <-time.After(f.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.started++
	f.mu.Unlock()

	return f.StartErr
}

func (f *Fake) Eval(ctx context.Context, code string) (string, error) {
	defer f.enter()()

	f.mu.Lock()
	f.evals = append(f.evals, code)
	f.mu.Unlock()

	if f.EvalFn == nil {
		return "", nil
	}
	return f.EvalFn(code)
}

func (f *Fake) CallFunction(ctx context.Context, name string, args []any, nargout int) (any, string, error) {
	defer f.enter()()

	if f.CallFn == nil {
		return nil, "", nil
	}
	return f.CallFn(name, args, nargout)
}

func (f *Fake) ReadVariable(ctx context.Context, name string) (any, error) {
	defer f.enter()()

	f.mu.Lock()
	value, ok := f.Vars[name]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("undefined variable %q", name)
	}
	return value, nil
}

func (f *Fake) ListFigures(ctx context.Context) ([]int, error) {
	defer f.enter()()

	f.mu.Lock()
	handles := make([]int, len(f.FigureHandles))
	copy(handles, f.FigureHandles)
	f.mu.Unlock()

	return handles, nil
}

func (f *Fake) ExportFigure(ctx context.Context, handle int, path string) error {
	defer f.enter()()

	data := f.PNG
	if data == nil {
		data = []byte("png-placeholder")
	}
	return os.WriteFile(path, data, 0644)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()

	return nil
}

// SetFigures replaces the handle list, simulating figures appearing in the
// engine mid-test.
func (f *Fake) SetFigures(handles ...int) {
	f.mu.Lock()
	f.FigureHandles = append([]int(nil), handles...)
	f.mu.Unlock()
}

// Started reports how many times Start ran.
func (f *Fake) Started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Closed reports how many times Close ran.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Evals returns every Eval payload in call order.
func (f *Fake) Evals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evals...)
}

// Overlapped reports whether any two engine calls ran concurrently. The
// session contract requires callers to serialize, so this should stay
// false.
func (f *Fake) Overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

func (f *Fake) enter() func() {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}
}
