package workflow

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/errs"
	internal "gitlab.com/continent/continent/internal/store"
)

// Store is the durable ledger backing Engine: one workflow_runs row per
// run and one workflow_steps row per (run, step) recording the latest
// attempt's outcome. A run is enqueued pending on a named queue and later
// claimed by exactly one dispatcher goroutine at a time: ClaimNext's
// UPDATE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED) hands each
// row to one claimant and makes every other concurrent claimant skip
// it.
type Store struct {
	pool    *pgxpool.Pool
	metrics *internal.Metrics
}

// NewStore wraps an already-configured pool in a Store. metrics may be
// nil to discard retry accounting.
func NewStore(pool *pgxpool.Pool, metrics *internal.Metrics) *Store {
	return &Store{pool: pool, metrics: metrics}
}

// Init creates the ledger's tables idempotently.
func (s *Store) Init(ctx context.Context) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS "workflow_runs" (
				"id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"kind" text NOT NULL,
				"dataset_id" text NOT NULL,
				"version" text,
				"status" text NOT NULL,
				"queue" text,
				"payload" jsonb,
				"claimed_by" text,
				"lease_expires_at" bigint,
				"created_at" bigint NOT NULL,
				"updated_at" bigint NOT NULL,
				PRIMARY KEY ("id")
			);

			CREATE INDEX IF NOT EXISTS "workflow_runs_claimable_idx"
				ON "workflow_runs" ("queue", "status", "lease_expires_at");

			CREATE TABLE IF NOT EXISTS "workflow_steps" (
				"run_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"step" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"attempt" integer NOT NULL,
				"status" text NOT NULL,
				"result" jsonb,
				"error" text,
				"updated_at" bigint NOT NULL,
				PRIMARY KEY ("run_id", "step")
			);
		`)
		if err != nil {
			return wrapErr(err)
		}
		return nil
	}, nil)
}

func wrapErr(err error) errors.E {
	return errors.WrapWith(internal.WithPgxError(err), errs.ErrStoreUnavailable)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// StartRun inserts the run's ledger row idempotently, as already running:
// a resubmission of the same workflow id is a no-op, which is what makes
// a pipeline's own StartRun call inside Handle (after the dispatcher has
// already claimed the run) harmless.
func (s *Store) StartRun(ctx context.Context, run Run, now int64) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			INSERT INTO "workflow_runs" ("id", "kind", "dataset_id", "version", "status", "created_at", "updated_at")
				VALUES ($1, $2, $3, $4, $5, $6, $6)
				ON CONFLICT ("id") DO NOTHING
		`, run.ID, run.Kind, run.DatasetID, nullableString(run.Version), string(StatusRunning), now)
		if err != nil {
			return wrapErr(err)
		}
		return nil
	}, nil)
}

// Enqueue inserts run as pending on queue with its resumption payload,
// idempotently: a resubmission of the same workflow id is a no-op, so a
// caller retrying its own enqueue call never double-enqueues the run.
func (s *Store) Enqueue(ctx context.Context, run Run, queue string, payload []byte, now int64) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			INSERT INTO "workflow_runs" ("id", "kind", "dataset_id", "version", "status", "queue", "payload", "created_at", "updated_at")
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
				ON CONFLICT ("id") DO NOTHING
		`, run.ID, run.Kind, run.DatasetID, nullableString(run.Version), string(StatusPending), queue, nullableBytes(payload), now)
		if err != nil {
			return wrapErr(err)
		}
		return nil
	}, nil)
}

// ClaimNext claims one runnable run from queue for workerID: either a
// still-pending run, or a running run whose lease has expired (its prior
// claimant crashed before finishing). It reports ok=false when nothing is
// claimable right now. Concurrent dispatchers, whether goroutines in one
// process or across separate continent-worker processes, never claim the
// same row twice: the claiming UPDATE's subquery locks its candidate row
// with SELECT ... FOR UPDATE SKIP LOCKED, so a second claimant simply
// skips a row the first has already locked.
func (s *Store) ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration, now int64) (Run, []byte, bool, errors.E) {
	leaseExpiresAt := now + int64(lease.Seconds())

	var run Run
	var payload []byte
	found := false

	errE := internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		row := tx.QueryRow(ctx, `
			UPDATE "workflow_runs" SET
				"status" = $1, "claimed_by" = $2, "lease_expires_at" = $3, "updated_at" = $4
			WHERE "id" = (
				SELECT "id" FROM "workflow_runs"
				WHERE "queue" = $5
					AND (
						"status" = $6
						OR ("status" = $1 AND "lease_expires_at" IS NOT NULL AND "lease_expires_at" < $4)
					)
				ORDER BY "created_at"
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING "id", "kind", "dataset_id", COALESCE("version", ''), "payload"
		`, string(StatusRunning), workerID, leaseExpiresAt, now, queue, string(StatusPending))

		var payloadCol []byte
		err := row.Scan(&run.ID, &run.Kind, &run.DatasetID, &run.Version, &payloadCol)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return wrapErr(err)
		}
		payload = payloadCol
		found = true
		return nil
	}, nil)
	if errE != nil {
		return Run{}, nil, false, errE
	}
	if !found {
		return Run{}, nil, false, nil
	}
	return run, payload, true, nil
}

// GetRun returns the run's current status, reporting false if the run has
// never been started.
func (s *Store) GetRun(ctx context.Context, runID string) (Status, bool, errors.E) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT "status" FROM "workflow_runs" WHERE "id" = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	return Status(status), true, nil
}

// SucceedRun marks run as having completed all of its steps successfully.
func (s *Store) SucceedRun(ctx context.Context, runID string, now int64) errors.E {
	return s.setRunStatus(ctx, runID, StatusSucceeded, now)
}

// FailRun marks run as terminated without completing. ClaimNext never
// claims a failed run, and Enqueue/StartRun ignore a resubmitted id, so
// a restart has to use a new workflow id.
func (s *Store) FailRun(ctx context.Context, runID string, now int64) errors.E {
	return s.setRunStatus(ctx, runID, StatusFailed, now)
}

func (s *Store) setRunStatus(ctx context.Context, runID string, status Status, now int64) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			UPDATE "workflow_runs" SET "status" = $2, "updated_at" = $3 WHERE "id" = $1
		`, runID, string(status), now)
		if err != nil {
			return wrapErr(err)
		}
		return nil
	}, nil)
}

// RecordStep upserts the latest outcome of one step execution attempt.
func (s *Store) RecordStep(ctx context.Context, runID, step string, attempt int, status StepStatus, result []byte, stepErr string, now int64) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			INSERT INTO "workflow_steps" ("run_id", "step", "attempt", "status", "result", "error", "updated_at")
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT ("run_id", "step") DO UPDATE
					SET "attempt" = EXCLUDED."attempt", "status" = EXCLUDED."status",
						"result" = EXCLUDED."result", "error" = EXCLUDED."error", "updated_at" = EXCLUDED."updated_at"
		`, runID, step, attempt, string(status), nullableBytes(result), nullableString(stepErr), now)
		if err != nil {
			return wrapErr(err)
		}
		return nil
	}, nil)
}

// GetSucceededStep returns the recorded result of a step that already
// succeeded for this run, so Step can resume instead of re-executing a
// step whose side effects already landed.
func (s *Store) GetSucceededStep(ctx context.Context, runID, step string) ([]byte, bool, errors.E) {
	var result []byte
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT "status", "result" FROM "workflow_steps" WHERE "run_id" = $1 AND "step" = $2
	`, runID, step).Scan(&status, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr(err)
	}
	if status != string(StepSucceeded) {
		return nil, false, nil
	}
	return result, true, nil
}
