package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"gitlab.com/tozd/go/errors"

	internal "gitlab.com/continent/continent/internal/store"
)

// ReplaceRows atomically clears and writes the row sequence for a version,
// in batches of rowsBatchSize to bound transaction/statement size.
func (s *Store) ReplaceRows(ctx context.Context, datasetID, version string, rows []Row) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		return s.replaceRowsTx(ctx, tx, datasetID, version, rows)
	}, nil)
}

func (s *Store) replaceRowsTx(ctx context.Context, tx pgx.Tx, datasetID, version string, rows []Row) errors.E {
	_, err := tx.Exec(ctx, `DELETE FROM "rows" WHERE "dataset_id" = $1 AND "version" = $2`, datasetID, version)
	if err != nil {
		return wrapStoreErr(err)
	}

	for start := 0; start < len(rows); start += rowsBatchSize {
		end := start + rowsBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := &pgx.Batch{}
		for seq := start; seq < end; seq++ {
			batch.Queue(`
				INSERT INTO "rows" ("dataset_id", "version", "seq", "item")
					VALUES ($1, $2, $3, $4)
			`, datasetID, version, seq, map[string]any(rows[seq]))
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
}

// GetRows returns the row sequence for a version, ordered as stored.
func (s *Store) GetRows(ctx context.Context, datasetID, version string) ([]Row, errors.E) {
	rowsResult, err := s.pool.Query(ctx, `
		SELECT "item" FROM "rows"
			WHERE "dataset_id" = $1 AND "version" = $2
			ORDER BY "seq"
	`, datasetID, version)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rowsResult.Close()

	var out []Row
	for rowsResult.Next() {
		var item map[string]any
		if err := rowsResult.Scan(&item); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, Row(item))
	}
	if err := rowsResult.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}
