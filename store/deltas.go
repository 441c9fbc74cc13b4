package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"gitlab.com/tozd/go/errors"

	internal "gitlab.com/continent/continent/internal/store"
)

// AppendDeltas bulk-appends delta records for (datasetID, version) in
// batches of deltasBatchSize. It first clears any existing deltas for the
// pair so repeated diff invocation on the same (dataset, version) never
// double-inserts.
func (s *Store) AppendDeltas(ctx context.Context, datasetID, version string, deltas []DeltaRecord) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `DELETE FROM "deltas" WHERE "dataset_id" = $1 AND "version" = $2`, datasetID, version)
		if err != nil {
			return wrapStoreErr(err)
		}

		for start := 0; start < len(deltas); start += deltasBatchSize {
			end := start + deltasBatchSize
			if end > len(deltas) {
				end = len(deltas)
			}

			batch := &pgx.Batch{}
			for seq := start; seq < end; seq++ {
				d := deltas[seq]
				batch.Queue(`
					INSERT INTO "deltas"
						("dataset_id", "version", "seq", "kind", "item_id", "old_item", "new_item", "ts")
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				`, datasetID, version, seq, string(d.Kind), d.ItemID, itemOrNil(d.OldItem), itemOrNil(d.NewItem), d.TS)
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

// itemOrNil lets a nil Row (add has no OldItem, delete has no NewItem)
// round-trip as SQL NULL instead of the JSON literal "null".
func itemOrNil(r Row) any {
	if r == nil {
		return nil
	}
	return map[string]any(r)
}

// GetDeltas returns the delta records for a version, ordered as stored.
func (s *Store) GetDeltas(ctx context.Context, datasetID, version string) ([]DeltaRecord, errors.E) {
	rowsResult, err := s.pool.Query(ctx, `
		SELECT "kind", "item_id", "old_item", "new_item", "ts" FROM "deltas"
			WHERE "dataset_id" = $1 AND "version" = $2
			ORDER BY "seq"
	`, datasetID, version)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rowsResult.Close()

	var out []DeltaRecord
	for rowsResult.Next() {
		var kind, itemID string
		var oldItem, newItem map[string]any
		var ts int64
		if err := rowsResult.Scan(&kind, &itemID, &oldItem, &newItem, &ts); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, DeltaRecord{
			DatasetID: datasetID,
			Version:   version,
			Kind:      DeltaKind(kind),
			ItemID:    itemID,
			OldItem:   Row(oldItem),
			NewItem:   Row(newItem),
			TS:        ts,
		})
	}
	if err := rowsResult.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}
