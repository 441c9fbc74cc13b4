package workflow_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/identifier"

	internal "gitlab.com/continent/continent/internal/store"
	"gitlab.com/continent/continent/workflow"
)

func initEngine(t *testing.T) (context.Context, *workflow.Engine) {
	t.Helper()

	if os.Getenv("POSTGRES") == "" {
		t.Skip("POSTGRES is not available")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	schema := identifier.New().String()

	dbpool, errE := internal.InitPostgres(ctx, os.Getenv("POSTGRES"), schema, logger)
	require.NoError(t, errE, "% -+#.1v", errE)

	st := workflow.NewStore(dbpool, nil)
	errE = st.Init(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)

	return ctx, workflow.NewEngine(st, 2, logger)
}

type stepResult struct {
	Calls int `json:"calls"`
}

func TestStepResumesFromSucceededAttempt(t *testing.T) {
	ctx, engine := initEngine(t)

	run := workflow.Run{ID: "run-1", Kind: "ingest", DatasetID: "d1", Version: "v1.aaaaaaaa"}
	errE := engine.StartRun(ctx, run)
	require.NoError(t, errE, "% -+#.1v", errE)

	calls := 0
	fn := func(_ context.Context) (stepResult, error) {
		calls++
		return stepResult{Calls: calls}, nil
	}

	first, errE := workflow.Step(ctx, engine, run, "validate", time.Second, fn)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, 1, first.Calls)

	// A second Step call for the same run and step must not re-invoke fn:
	// it resumes from the recorded result.
	second, errE := workflow.Step(ctx, engine, run, "validate", time.Second, fn)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, 1, second.Calls)
	assert.Equal(t, 1, calls, "fn must not be re-invoked once the step succeeded")
}

func TestStepRetriesRetryableErrorUntilSuccess(t *testing.T) {
	ctx, engine := initEngine(t)

	run := workflow.Run{ID: "run-2", Kind: "ingest", DatasetID: "d1", Version: "v1.bbbbbbbb"}
	errE := engine.StartRun(ctx, run)
	require.NoError(t, errE, "% -+#.1v", errE)

	attempts := 0
	fn := func(_ context.Context) (stepResult, error) {
		attempts++
		if attempts < 3 {
			return stepResult{}, workflow.Retryable(errors.New("transient"))
		}
		return stepResult{Calls: attempts}, nil
	}

	result, errE := workflow.Step(ctx, engine, run, "cache", 5*time.Second, fn)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, 3, result.Calls)
	assert.Equal(t, 3, attempts)
}

func TestStepFailsRunOnNonRetryableError(t *testing.T) {
	ctx, engine := initEngine(t)

	run := workflow.Run{ID: "run-3", Kind: "ingest", DatasetID: "d1", Version: "v1.cccccccc"}
	errE := engine.StartRun(ctx, run)
	require.NoError(t, errE, "% -+#.1v", errE)

	fn := func(_ context.Context) (stepResult, error) {
		return stepResult{}, errors.New("terminal")
	}

	_, errE = workflow.Step(ctx, engine, run, "validate", time.Second, fn)
	require.Error(t, errE)

	status, ok, errE := engine.GetRun(ctx, run.ID)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusFailed, status)
}

func TestStepExceedsDeadline(t *testing.T) {
	ctx, engine := initEngine(t)

	run := workflow.Run{ID: "run-4", Kind: "ingest", DatasetID: "d1", Version: "v1.dddddddd"}
	errE := engine.StartRun(ctx, run)
	require.NoError(t, errE, "% -+#.1v", errE)

	fn := func(_ context.Context) (stepResult, error) {
		return stepResult{}, workflow.Retryable(errors.New("always transient"))
	}

	_, errE = workflow.Step(ctx, engine, run, "diff", 50*time.Millisecond, fn)
	require.Error(t, errE)
}

func TestServeClaimsAndRunsEnqueuedWork(t *testing.T) {
	ctx, engine := initEngine(t)
	serveCtx, cancel := context.WithCancel(ctx)

	run := workflow.Run{ID: "run-5", Kind: "echo", DatasetID: "d1", Version: ""}
	errE := engine.Enqueue(ctx, run, "q1", []byte(`{"n":42}`))
	require.NoError(t, errE, "% -+#.1v", errE)

	done := make(chan struct{})
	handlers := map[string]workflow.Handler{
		"echo": func(ctx context.Context, e *workflow.Engine, run workflow.Run, payload []byte) errors.E {
			assert.JSONEq(t, `{"n":42}`, string(payload))
			errE := e.SucceedRun(ctx, run)
			close(done)
			return errE
		},
	}

	serveErr := make(chan errors.E, 1)
	go func() {
		serveErr <- engine.Serve(serveCtx, "q1", handlers)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was never invoked for the enqueued run")
	}

	cancel()
	errE = <-serveErr
	require.NoError(t, errE, "% -+#.1v", errE)

	status, ok, errE := engine.GetRun(ctx, run.ID)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusSucceeded, status)
}

func TestClaimNextSkipsOtherQueues(t *testing.T) {
	ctx, engine := initEngine(t)

	run := workflow.Run{ID: "run-6", Kind: "echo", DatasetID: "d1", Version: ""}
	errE := engine.Enqueue(ctx, run, "other-queue", []byte(`{}`))
	require.NoError(t, errE, "% -+#.1v", errE)

	claimed := false
	handlers := map[string]workflow.Handler{
		"echo": func(_ context.Context, _ *workflow.Engine, _ workflow.Run, _ []byte) errors.E {
			claimed = true
			return nil
		},
	}

	serveCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	errE = engine.Serve(serveCtx, "q1", handlers)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.False(t, claimed, "a run enqueued on a different queue must not be claimed")
}
