package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"gitlab.com/tozd/go/errors"

	internal "gitlab.com/continent/continent/internal/store"
)

// MirrorCache writes the packaged snapshot payload into the cache table
// mirror keyed by (datasetID, version). A failure here is meant to be
// logged and swallowed by the caller: the Redis write is authoritative
// for the cache step, this is only a durable backstop.
func (s *Store) MirrorCache(ctx context.Context, datasetID, version string, payload map[string]any, expiresAt int64) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			INSERT INTO "cache" ("dataset_id", "version", "payload", "expires_at")
				VALUES ($1, $2, $3, $4)
				ON CONFLICT ("dataset_id", "version") DO UPDATE
					SET "payload" = EXCLUDED."payload", "expires_at" = EXCLUDED."expires_at"
		`, datasetID, version, payload, expiresAt)
		if err != nil {
			return wrapStoreErr(err)
		}
		return nil
	}, nil)
}
