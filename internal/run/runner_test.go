package run

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/numlab/matlab-mcp-go/internal/artifact"
	"github.com/numlab/matlab-mcp-go/internal/engine/enginetest"
	"github.com/numlab/matlab-mcp-go/internal/errors"
	"github.com/numlab/matlab-mcp-go/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, fake *enginetest.Fake) (*Runner, *artifact.Store) {
	t.Helper()

	log := discardLogger()
	store := artifact.NewStore(t.TempDir(), log)
	sess := session.NewManager(log, fake)
	t.Cleanup(func() { _ = sess.Shutdown() })

	return NewRunner(log, sess, store, 0), store
}

// isUserEval filters out the working directory change the runner issues
// before running user code.
func isUserEval(code string) bool {
	return !strings.HasPrefix(code, "cd(")
}

func TestRunScript(t *testing.T) {
	t.Run("injects args and captures variables", func(t *testing.T) {
		fake := &enginetest.Fake{
			EvalFn: func(code string) (string, error) {
				if !isUserEval(code) {
					return "", nil
				}
				return "y =\n     5\n", nil
			},
			Vars: map[string]any{"y": float64(5)},
		}
		runner, store := newTestRunner(t, fake)

		_, err := store.WriteScript("add_one", "y = x + 1;\n")
		require.NoError(t, err)

		res, err := runner.RunScript(context.Background(), "add_one",
			map[string]any{"x": 4}, []string{"y"})
		require.NoError(t, err)

		require.NotEmpty(t, res.ID)
		require.Equal(t, "y =\n     5\n", res.Output)
		require.Equal(t, map[string]any{"y": float64(5)}, res.Variables)

		var userCode string
		for _, code := range fake.Evals() {
			if isUserEval(code) {
				userCode = code
			}
		}
		require.Contains(t, userCode, "x = jsondecode('4');")
		require.Contains(t, userCode, "run(")
		require.Contains(t, userCode, "add_one.m")
	})

	t.Run("assigns args in sorted order", func(t *testing.T) {
		fake := &enginetest.Fake{}
		runner, store := newTestRunner(t, fake)

		_, err := store.WriteScript("s", "disp(b);\n")
		require.NoError(t, err)

		_, err = runner.RunScript(context.Background(), "s",
			map[string]any{"b": 2, "a": 1, "c": 3}, nil)
		require.NoError(t, err)

		var userCode string
		for _, code := range fake.Evals() {
			if isUserEval(code) {
				userCode = code
			}
		}
		require.Less(t, strings.Index(userCode, "a = "), strings.Index(userCode, "b = "))
		require.Less(t, strings.Index(userCode, "b = "), strings.Index(userCode, "c = "))
	})

	t.Run("missing script never touches the engine", func(t *testing.T) {
		fake := &enginetest.Fake{}
		runner, _ := newTestRunner(t, fake)

		_, err := runner.RunScript(context.Background(), "missing", nil, nil)

		var nfErr *errors.NotFoundError
		require.ErrorAs(t, err, &nfErr)
		require.Zero(t, fake.Started())
	})

	t.Run("rejects invalid arg name before execution", func(t *testing.T) {
		fake := &enginetest.Fake{}
		runner, store := newTestRunner(t, fake)

		_, err := store.WriteScript("s", "disp(1);\n")
		require.NoError(t, err)

		_, err = runner.RunScript(context.Background(), "s",
			map[string]any{"1bad": 1}, nil)

		var reqErr *errors.InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
		require.Zero(t, fake.Started())
	})

	t.Run("rejects invalid capture name before execution", func(t *testing.T) {
		fake := &enginetest.Fake{}
		runner, store := newTestRunner(t, fake)

		_, err := store.WriteScript("s", "disp(1);\n")
		require.NoError(t, err)

		_, err = runner.RunScript(context.Background(), "s", nil, []string{"not valid"})

		var reqErr *errors.InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
		require.Zero(t, fake.Started())
	})

	t.Run("execution failure leaves the session usable", func(t *testing.T) {
		execErr := &errors.ExecutionError{
			Identifier: "MATLAB:undefinedVarOrFunction",
			Diagnostic: "Unrecognized function or variable 'zz'.",
		}
		fail := true
		fake := &enginetest.Fake{
			EvalFn: func(code string) (string, error) {
				if isUserEval(code) && fail {
					return "", execErr
				}
				return "ok\n", nil
			},
		}
		runner, store := newTestRunner(t, fake)

		_, err := store.WriteScript("broken", "zz\n")
		require.NoError(t, err)

		_, err = runner.RunScript(context.Background(), "broken", nil, nil)
		require.ErrorAs(t, err, new(*errors.ExecutionError))

		fail = false
		res, err := runner.RunCommand(context.Background(), "disp('ok')")
		require.NoError(t, err)
		require.Equal(t, "ok\n", res.Output)
		require.Equal(t, 1, fake.Started())
	})
}

func TestCallFunction(t *testing.T) {
	t.Run("returns value and output", func(t *testing.T) {
		fake := &enginetest.Fake{
			CallFn: func(name string, args []any, nargout int) (any, string, error) {
				require.Equal(t, "square", name)
				require.Equal(t, []any{float64(3)}, args)
				require.Equal(t, 1, nargout)

				return float64(9), "", nil
			},
		}
		runner, store := newTestRunner(t, fake)

		_, err := store.WriteFunction("square", "function y = square(x)\ny = x^2;\nend\n")
		require.NoError(t, err)

		res, err := runner.CallFunction(context.Background(), "square",
			[]any{float64(3)}, 0)
		require.NoError(t, err)
		require.Equal(t, float64(9), res.Value)
	})

	t.Run("missing function", func(t *testing.T) {
		fake := &enginetest.Fake{}
		runner, _ := newTestRunner(t, fake)

		_, err := runner.CallFunction(context.Background(), "missing", nil, 1)

		var nfErr *errors.NotFoundError
		require.ErrorAs(t, err, &nfErr)
	})
}

func TestRunCommand(t *testing.T) {
	t.Run("empty command", func(t *testing.T) {
		fake := &enginetest.Fake{}
		runner, _ := newTestRunner(t, fake)

		_, err := runner.RunCommand(context.Background(), "   ")

		var reqErr *errors.InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
		require.Zero(t, fake.Started())
	})

	t.Run("captures output", func(t *testing.T) {
		fake := &enginetest.Fake{
			EvalFn: func(code string) (string, error) {
				return "ans =\n     4\n", nil
			},
		}
		runner, _ := newTestRunner(t, fake)

		res, err := runner.RunCommand(context.Background(), "2 + 2")
		require.NoError(t, err)
		require.Equal(t, "ans =\n     4\n", res.Output)
		require.NotZero(t, res.Duration)
	})
}

func TestFigureDelta(t *testing.T) {
	t.Run("exports only figures created by the call", func(t *testing.T) {
		fake := &enginetest.Fake{
			FigureHandles: []int{1},
			PNG:           []byte("fake-png-bytes"),
		}
		fake.EvalFn = func(code string) (string, error) {
			if isUserEval(code) {
				fake.SetFigures(1, 3, 2)
			}
			return "", nil
		}
		runner, _ := newTestRunner(t, fake)

		res, err := runner.RunCommand(context.Background(), "plot(1:10); figure; plot(10:-1:1);")
		require.NoError(t, err)

		require.Len(t, res.Figures, 2)
		require.Equal(t, 2, res.Figures[0].Handle)
		require.Equal(t, 3, res.Figures[1].Handle)

		for _, fig := range res.Figures {
			require.Equal(t, "image/png", fig.MIMEType)
			require.Equal(t, []byte("fake-png-bytes"), fig.Data)
		}
	})

	t.Run("no new figures yields none", func(t *testing.T) {
		fake := &enginetest.Fake{FigureHandles: []int{1, 2}}
		runner, _ := newTestRunner(t, fake)

		res, err := runner.RunCommand(context.Background(), "x = 1;")
		require.NoError(t, err)
		require.Empty(t, res.Figures)
	})
}

func TestScriptPreamble(t *testing.T) {
	t.Run("empty args", func(t *testing.T) {
		code, err := scriptPreamble(nil)
		require.NoError(t, err)
		require.Empty(t, code)
	})

	t.Run("quotes embedded strings", func(t *testing.T) {
		code, err := scriptPreamble(map[string]any{"msg": "it's here"})
		require.NoError(t, err)
		require.Contains(t, code, `msg = jsondecode('"it''s here"');`)
	})

	t.Run("structured values cross as JSON", func(t *testing.T) {
		code, err := scriptPreamble(map[string]any{
			"v": []any{float64(1), float64(2)},
		})
		require.NoError(t, err)
		require.Contains(t, code, `v = jsondecode('[1,2]');`)
	})
}
