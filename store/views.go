package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"gitlab.com/tozd/go/errors"

	internal "gitlab.com/continent/continent/internal/store"
)

// ReplaceUserView rewrites user_views for (userID, datasetID) end-to-end
// with the projected row sequence for version, batched at viewsBatchSize.
func (s *Store) ReplaceUserView(ctx context.Context, userID, datasetID, version string, rows []ProjectedRow) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `DELETE FROM "user_views" WHERE "user_id" = $1 AND "dataset_id" = $2`, userID, datasetID)
		if err != nil {
			return wrapStoreErr(err)
		}

		for start := 0; start < len(rows); start += viewsBatchSize {
			end := start + viewsBatchSize
			if end > len(rows) {
				end = len(rows)
			}

			batch := &pgx.Batch{}
			for seq := start; seq < end; seq++ {
				r := rows[seq]
				batch.Queue(`
					INSERT INTO "user_views" ("user_id", "dataset_id", "version", "seq", "item", "ts")
						VALUES ($1, $2, $3, $4, $5, $6)
				`, userID, datasetID, version, seq, map[string]any(r.Item), r.TS)
			}

			results := tx.SendBatch(ctx, batch)
			for i := start; i < end; i++ {
				if _, err := results.Exec(); err != nil {
					_ = results.Close()
					return wrapStoreErr(err)
				}
			}
			if err := results.Close(); err != nil {
				return wrapStoreErr(err)
			}
		}

		return nil
	}, nil)
}

// GetUserView returns the materialized view rows for (userID, datasetID),
// ordered as stored.
func (s *Store) GetUserView(ctx context.Context, userID, datasetID string) ([]ProjectedRow, errors.E) {
	rowsResult, err := s.pool.Query(ctx, `
		SELECT "version", "item", "ts" FROM "user_views"
			WHERE "user_id" = $1 AND "dataset_id" = $2
			ORDER BY "seq"
	`, userID, datasetID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rowsResult.Close()

	var out []ProjectedRow
	for rowsResult.Next() {
		var version string
		var item map[string]any
		var ts int64
		if err := rowsResult.Scan(&version, &item, &ts); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, ProjectedRow{
			UserID:    userID,
			DatasetID: datasetID,
			Version:   version,
			Item:      Row(item),
			TS:        ts,
		})
	}
	if err := rowsResult.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}
