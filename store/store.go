package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"

	internal "gitlab.com/continent/continent/internal/store"
)

// Batch sizes are contractual: they bound single-statement payload size so
// worst-case commit/diff latency stays predictable regardless of dataset
// size.
const (
	rowsBatchSize   = 1000
	deltasBatchSize = 500
	viewsBatchSize  = 1000
)

// Store is the durable, PostgreSQL-backed authority for version records,
// row payloads, delta records, the cache-table mirror, user contexts, and
// materialized user views. It is the only authoritative store: the hot
// cache is a best-effort accelerator in front of it.
type Store struct {
	pool    *pgxpool.Pool
	metrics *internal.Metrics
}

// New wraps an already-configured pool (see internal/store.InitPostgres)
// in a Store. metrics may be nil to discard retry accounting.
func New(pool *pgxpool.Pool, metrics *internal.Metrics) *Store {
	return &Store{pool: pool, metrics: metrics}
}

// Init creates the store's tables and indices idempotently. The schema
// itself (the PostgreSQL schema, set via search_path at connect time) is
// assumed to already exist; internal/store.InitPostgres creates it.
func (s *Store) Init(ctx context.Context) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS "versions" (
				"dataset_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"version" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"checksum" text NOT NULL,
				"ts" bigint NOT NULL,
				"parent_version" text COLLATE "C",
				"diff_checksum" text,
				"status" text NOT NULL,
				PRIMARY KEY ("dataset_id", "version")
			);
			CREATE INDEX IF NOT EXISTS "versions_latest_idx"
				ON "versions" ("dataset_id", "status", "ts" DESC, "version" DESC);

			CREATE TABLE IF NOT EXISTS "rows" (
				"dataset_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"version" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"seq" integer NOT NULL,
				"item" jsonb NOT NULL,
				PRIMARY KEY ("dataset_id", "version", "seq")
			);

			CREATE TABLE IF NOT EXISTS "deltas" (
				"dataset_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"version" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"seq" integer NOT NULL,
				"kind" text NOT NULL,
				"item_id" text NOT NULL,
				"old_item" jsonb,
				"new_item" jsonb,
				"ts" bigint NOT NULL,
				PRIMARY KEY ("dataset_id", "version", "item_id", "kind")
			);
			CREATE INDEX IF NOT EXISTS "deltas_seq_idx" ON "deltas" ("dataset_id", "version", "seq");

			CREATE TABLE IF NOT EXISTS "cache" (
				"dataset_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"version" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"payload" jsonb NOT NULL,
				"expires_at" bigint NOT NULL,
				PRIMARY KEY ("dataset_id", "version")
			);

			CREATE TABLE IF NOT EXISTS "user_contexts" (
				"user_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"dataset_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"filters" jsonb NOT NULL,
				"sort" jsonb,
				"selection" jsonb,
				"ts" bigint NOT NULL,
				PRIMARY KEY ("user_id", "dataset_id")
			);

			CREATE TABLE IF NOT EXISTS "user_views" (
				"user_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"dataset_id" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"version" text STORAGE PLAIN COLLATE "C" NOT NULL,
				"seq" integer NOT NULL,
				"item" jsonb NOT NULL,
				"ts" bigint NOT NULL,
				PRIMARY KEY ("user_id", "dataset_id", "seq")
			);
		`)
		if err != nil {
			return wrapStoreErr(err)
		}
		return nil
	}, nil)
}
