package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/numlab/matlab-mcp-go/internal/engine"
	"github.com/numlab/matlab-mcp-go/internal/engine/enginetest"
	"github.com/numlab/matlab-mcp-go/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnsureStartsLazily(t *testing.T) {
	fake := &enginetest.Fake{}
	m := NewManager(discardLogger(), fake)

	require.Equal(t, StateUnstarted, m.State())
	require.Zero(t, fake.Started())

	require.NoError(t, m.Ensure(context.Background()))
	require.Equal(t, StateReady, m.State())
	require.Equal(t, 1, fake.Started())
	require.False(t, m.StartedAt().IsZero())

	// A second Ensure is a no-op.
	require.NoError(t, m.Ensure(context.Background()))
	require.Equal(t, 1, fake.Started())
}

func TestEnsureCollapsesConcurrentStarts(t *testing.T) {
	fake := &enginetest.Fake{StartDelay: 20 * time.Millisecond}
	m := NewManager(discardLogger(), fake)

	const callers = 16

	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Ensure(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, fake.Started())
	require.Equal(t, StateReady, m.State())
}

func TestEnsureStartFailureIsSticky(t *testing.T) {
	startErr := &errors.EngineStartError{SearchedPaths: []string{"/nowhere"}}
	fake := &enginetest.Fake{StartErr: startErr}
	m := NewManager(discardLogger(), fake)

	err := m.Ensure(context.Background())
	require.ErrorAs(t, err, new(*errors.EngineStartError))
	require.Equal(t, StateError, m.State())

	// Later attempts report the original failure without restarting.
	err = m.Ensure(context.Background())
	require.ErrorAs(t, err, new(*errors.EngineStartError))
	require.Equal(t, 1, fake.Started())
}

func TestDoSerializesExecution(t *testing.T) {
	fake := &enginetest.Fake{}
	m := NewManager(discardLogger(), fake)

	const callers = 8

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(context.Background(), func(eng engine.Engine) error {
				_, evalErr := eng.Eval(context.Background(), "x = 1;")
				time.Sleep(time.Millisecond)

				return evalErr
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.False(t, fake.Overlapped(), "engine calls must not interleave")
	require.Len(t, fake.Evals(), callers)
}

func TestDoAfterShutdown(t *testing.T) {
	fake := &enginetest.Fake{}
	m := NewManager(discardLogger(), fake)

	require.NoError(t, m.Ensure(context.Background()))
	require.NoError(t, m.Shutdown())

	err := m.Do(context.Background(), func(engine.Engine) error { return nil })
	require.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestShutdownIsIdempotent(t *testing.T) {
	fake := &enginetest.Fake{}
	m := NewManager(discardLogger(), fake)

	require.NoError(t, m.Ensure(context.Background()))

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
	require.Equal(t, 1, fake.Closed())
	require.Equal(t, StateClosed, m.State())
}

func TestShutdownBeforeStart(t *testing.T) {
	fake := &enginetest.Fake{}
	m := NewManager(discardLogger(), fake)

	require.NoError(t, m.Shutdown())
	require.Equal(t, StateClosed, m.State())

	err := m.Ensure(context.Background())
	require.ErrorIs(t, err, errors.ErrSessionClosed)
	require.Zero(t, fake.Started())
}

func TestShutdownDuringStart(t *testing.T) {
	fake := &enginetest.Fake{StartDelay: 30 * time.Millisecond}
	m := NewManager(discardLogger(), fake)

	done := make(chan error, 1)
	go func() {
		done <- m.Ensure(context.Background())
	}()

	// Wait for the start to be in flight, then close underneath it.
	require.Eventually(t, func() bool {
		return m.State() == StateStarting
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Shutdown())
	require.ErrorIs(t, <-done, errors.ErrSessionClosed)
	require.Equal(t, StateClosed, m.State())
}
