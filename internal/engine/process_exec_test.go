package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/numlab/matlab-mcp-go/internal/errors"
)

// fakeREPL is a shell stand-in for the engine process. It answers each
// command line with the marker lines a real session would print: scratch
// scripts are echoed back as console output, a script containing
// raise_error produces an error marker, one containing stream_forever
// prints output endlessly without ever completing, and value markers are
// answered with the number 42.
const fakeREPL = `#!/bin/sh
while IFS= read -r line; do
  if [ "$line" = "exit" ]; then
    exit 0
  fi

  end_mark=$(printf '%s\n' "$line" | grep -o '<<<matlab-mcp:end:[^>]*>>>' | head -n 1)
  err_mark=$(printf '%s\n' "$line" | grep -o '<<<matlab-mcp:err:[^>]*>>>' | head -n 1)
  val_mark=$(printf '%s\n' "$line" | grep -o '<<<matlab-mcp:val:[^>]*>>>' | head -n 1)
  script=$(printf '%s\n' "$line" | sed -n "s/.*run('\([^']*\)').*/\1/p")

  if [ -n "$script" ] && [ -f "$script" ]; then
    if grep -q stream_forever "$script"; then
      n=0
      while :; do
        echo "tick $n"
        n=$((n+1))
      done
    fi
    if grep -q raise_error "$script"; then
      printf '%s\n' "${err_mark}Fake:badThing|something went wrong"
      printf '%s\n' "$end_mark"
      continue
    fi
    cat "$script"
  elif [ -n "$val_mark" ]; then
    printf '%s\n' "${val_mark}42"
  fi

  printf '%s\n' "$end_mark"
done
`

// silentREPL consumes commands without ever answering, so startup can
// never complete.
const silentREPL = `#!/bin/sh
while IFS= read -r line; do
  :
done
`

// installFakeEngine lays out <root>/bin/matlab running the given script.
func installFakeEngine(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("harness needs a POSIX shell")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(binaryPath(root), []byte(script), 0o755))

	return root
}

func startFakeEngine(t *testing.T) *Process {
	t.Helper()

	p := NewProcess(ProcessConfig{
		MatlabPath:     installFakeEngine(t, fakeREPL),
		StartupTimeout: 30 * time.Second,
	})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Close() })

	return p
}

func TestProcessEval(t *testing.T) {
	p := startFakeEngine(t)

	t.Run("captures console output", func(t *testing.T) {
		out, err := p.Eval(context.Background(), "disp('hello')\ndisp('world')")
		require.NoError(t, err)
		require.Equal(t, "disp('hello')\ndisp('world')\n", out)
	})

	t.Run("engine error surfaces and session survives", func(t *testing.T) {
		_, err := p.Eval(context.Background(), "raise_error")

		var execErr *errors.ExecutionError
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, "Fake:badThing", execErr.Identifier)
		require.Equal(t, "something went wrong", execErr.Diagnostic)

		out, err := p.Eval(context.Background(), "disp('still alive')")
		require.NoError(t, err)
		require.Equal(t, "disp('still alive')\n", out)
	})
}

func TestProcessValueRoundTrip(t *testing.T) {
	p := startFakeEngine(t)

	t.Run("read variable", func(t *testing.T) {
		value, err := p.ReadVariable(context.Background(), "x")
		require.NoError(t, err)
		require.Equal(t, float64(42), value)
	})

	t.Run("call function", func(t *testing.T) {
		value, _, err := p.CallFunction(context.Background(), "square", []any{float64(3)}, 1)
		require.NoError(t, err)
		require.Equal(t, float64(42), value)
	})
}

func TestProcessCancelledEvalUnblocks(t *testing.T) {
	p := startFakeEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// The command keeps printing and never completes; abandoning it must
	// tear the engine down within the close grace instead of wedging.
	done := make(chan error, 1)
	go func() {
		_, err := p.Eval(ctx, "stream_forever")
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(20 * time.Second):
		t.Fatal("Eval did not return after cancellation")
	}

	_, err := p.Eval(context.Background(), "disp('x')")
	require.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestProcessStartFailureCleansUp(t *testing.T) {
	t.Run("spawn failure removes the eval dir", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("relies on POSIX execute permissions")
		}

		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
		// Present but not executable, so the spawn itself fails.
		require.NoError(t, os.WriteFile(binaryPath(root), []byte("#!/bin/sh\n"), 0o644))

		tmp := t.TempDir()
		t.Setenv("TMPDIR", tmp)

		p := NewProcess(ProcessConfig{MatlabPath: root})

		err := p.Start(context.Background())
		require.ErrorAs(t, err, new(*errors.EngineStartError))

		entries, readErr := os.ReadDir(tmp)
		require.NoError(t, readErr)
		require.Empty(t, entries)
	})

	t.Run("startup timeout removes the eval dir", func(t *testing.T) {
		root := installFakeEngine(t, silentREPL)

		tmp := t.TempDir()
		t.Setenv("TMPDIR", tmp)

		p := NewProcess(ProcessConfig{
			MatlabPath:     root,
			StartupTimeout: 500 * time.Millisecond,
		})

		err := p.Start(context.Background())
		require.ErrorAs(t, err, new(*errors.EngineStartError))

		entries, readErr := os.ReadDir(tmp)
		require.NoError(t, readErr)
		require.Empty(t, entries)
	})
}
