package workflow

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gitlab.com/tozd/go/errors"
)

// retryBackoff is the pause between retry attempts of a single step,
// bounded overall by the step's schedule-to-close deadline.
const retryBackoff = 500 * time.Millisecond

// DefaultLease is how long a dispatcher holds a claimed run before
// another dispatcher is allowed to treat it as abandoned and reclaim it.
// It covers an ingest run's full step sequence (30+60+120+180+15s of
// schedule-to-close deadlines) with headroom, so a healthy worker never
// loses its own claim mid-run.
const DefaultLease = 10 * time.Minute

// DefaultPollInterval is how long an idle dispatcher worker waits between
// unsuccessful claim attempts.
const DefaultPollInterval = 2 * time.Second

// Handler processes one claimed run to completion, given the opaque
// payload bytes it was enqueued with.
type Handler func(ctx context.Context, engine *Engine, run Run, payload []byte) errors.E

// Engine runs ingest and projection pipelines as durable, resumable
// sequences of steps. Serve drives a bounded pool of goroutines that
// each claim and execute runnable work from a named queue.
type Engine struct {
	store       *Store
	logger      zerolog.Logger
	concurrency int
	workerID    string
	now         func() int64
}

// NewEngine builds an Engine whose Serve call later drives a pool of
// concurrency worker goroutines (at least 1). workerID, used as the
// claimed_by value for lease ownership, is a fresh UUID per Engine
// instance, so a lease can be attributed to (and reclaimed from) a
// specific instance.
func NewEngine(store *Store, concurrency int, logger zerolog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		store:       store,
		logger:      logger,
		concurrency: concurrency,
		workerID:    uuid.New().String(),
		now:         func() int64 { return time.Now().Unix() },
	}
}

// Enqueue durably records run as pending on queue with payload, the
// opaque bytes Serve's dispatcher hands back to the matching handler when
// it later claims the run. This is how a caller outside any Serve call
// (e.g. Service.StartIngest) hands work to the worker pool instead of
// running it inline.
func (e *Engine) Enqueue(ctx context.Context, run Run, queue string, payload []byte) errors.E {
	return e.store.Enqueue(ctx, run, queue, payload, e.now())
}

// Serve runs the engine's worker pool: concurrency goroutines, each
// looping claim-dispatch-repeat against queue until ctx is done. A
// claimed run is dispatched to handlers[run.Kind]; a run whose kind has
// no registered handler is logged and failed rather than left claimed
// forever. This is the dispatcher that makes the durable ledger more than
// write-only: a run left behind by a crashed worker is reclaimed once its
// lease expires (see Store.ClaimNext), by this process or another one
// polling the same queue.
func (e *Engine) Serve(ctx context.Context, queue string, handlers map[string]Handler) errors.E {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < e.concurrency; i++ {
		g.Go(func() error {
			for {
				claimed, errE := e.pollOnce(ctx, queue, handlers)
				if errE != nil {
					e.logger.Error().Err(errE).Str("queue", queue).Msg("dispatcher claim attempt failed")
				}
				if claimed {
					continue
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(DefaultPollInterval):
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (e *Engine) pollOnce(ctx context.Context, queue string, handlers map[string]Handler) (bool, errors.E) {
	run, payload, ok, errE := e.store.ClaimNext(ctx, queue, e.workerID, DefaultLease, e.now())
	if errE != nil {
		return false, errE
	}
	if !ok {
		return false, nil
	}

	handler, known := handlers[run.Kind]
	if !known {
		e.logger.Error().Str("workflow_id", run.ID).Str("kind", run.Kind).Msg("no handler registered for claimed run kind")
		_ = e.FailRun(ctx, run)
		return true, nil
	}

	e.logger.Info().Str("workflow_id", run.ID).Str("kind", run.Kind).Str("queue", queue).Str("worker_id", e.workerID).Msg("claimed run")
	if errE := handler(ctx, e, run, payload); errE != nil {
		e.logger.Error().Err(errE).Str("workflow_id", run.ID).Msg("claimed run failed")
	}
	return true, nil
}

// StartRun registers run in the durable ledger. It is idempotent: a
// resubmission of the same run id is a no-op.
func (e *Engine) StartRun(ctx context.Context, run Run) errors.E {
	return e.store.StartRun(ctx, run, e.now())
}

// SucceedRun marks run as having completed all of its steps.
func (e *Engine) SucceedRun(ctx context.Context, run Run) errors.E {
	return e.store.SucceedRun(ctx, run.ID, e.now())
}

// FailRun marks run as terminally failed.
func (e *Engine) FailRun(ctx context.Context, run Run) errors.E {
	return e.store.FailRun(ctx, run.ID, e.now())
}

// GetRun returns run's current status, reporting false if it was never
// started.
func (e *Engine) GetRun(ctx context.Context, runID string) (Status, bool, errors.E) {
	return e.store.GetRun(ctx, runID)
}

// Step executes one named step of run under its schedule-to-close
// deadline, resuming from a prior successful attempt if one is already
// durably recorded (at-least-once: a retried run never re-executes a step
// whose result already landed). A retryable error (see Retryable) is
// retried until the deadline expires; any other error is terminal and
// fails the run immediately without advancing the target version to
// ready.
//
// Step is a free function, not an Engine method, because its result type
// varies per call site and Go methods cannot carry their own type
// parameters.
func Step[Resp any](ctx context.Context, e *Engine, run Run, name string, deadline time.Duration, fn func(ctx context.Context) (Resp, error)) (Resp, errors.E) { //nolint:ireturn
	var zero Resp

	cached, ok, errE := e.store.GetSucceededStep(ctx, run.ID, name)
	if errE != nil {
		return zero, errE
	}
	if ok {
		var resp Resp
		if err := json.Unmarshal(cached, &resp); err != nil {
			return zero, errors.WithStack(err)
		}
		e.logger.Debug().Str("workflow_id", run.ID).Str("step", name).Msg("step already succeeded, resuming")
		return resp, nil
	}

	e.logger.Info().Str("workflow_id", run.ID).Str("step", name).Str("dataset_id", run.DatasetID).Str("version", run.Version).Msg("step starting")

	stepCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	attempt := 0
	for {
		attempt++
		resp, err := fn(stepCtx)
		if err == nil {
			data, merr := json.Marshal(resp)
			if merr != nil {
				return zero, errors.WithStack(merr)
			}
			if errE := e.store.RecordStep(ctx, run.ID, name, attempt, StepSucceeded, data, "", e.now()); errE != nil {
				return zero, errE
			}
			e.logger.Info().Str("workflow_id", run.ID).Str("step", name).Int("attempt", attempt).Msg("step succeeded")
			return resp, nil
		}

		if !IsRetryable(err) {
			_ = e.store.RecordStep(ctx, run.ID, name, attempt, StepFailed, nil, err.Error(), e.now())
			_ = e.FailRun(ctx, run)
			e.logger.Error().Err(err).Str("workflow_id", run.ID).Str("step", name).Msg("step failed terminally")
			return zero, errors.WithStack(err)
		}

		if stepCtx.Err() != nil {
			_ = e.store.RecordStep(ctx, run.ID, name, attempt, StepFailed, nil, err.Error(), e.now())
			_ = e.FailRun(ctx, run)
			e.logger.Error().Err(err).Str("workflow_id", run.ID).Str("step", name).Msg("step exceeded its schedule-to-close deadline")
			return zero, errors.WithStack(stepCtx.Err())
		}

		_ = e.store.RecordStep(ctx, run.ID, name, attempt, StepRetrying, nil, err.Error(), e.now())
		e.logger.Warn().Err(err).Str("workflow_id", run.ID).Str("step", name).Int("attempt", attempt).Msg("step retrying")

		select {
		case <-time.After(retryBackoff):
		case <-stepCtx.Done():
		}
	}
}
