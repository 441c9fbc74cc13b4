package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"gitlab.com/tozd/go/errors"

	internal "gitlab.com/continent/continent/internal/store"
)

// UpsertUserContext persists a user's filter/sort/selection context,
// upserting by (user_id, dataset_id).
func (s *Store) UpsertUserContext(ctx context.Context, uc UserContext) errors.E {
	var sort, selection any
	if uc.Sort != nil {
		sort = map[string]any{"by": uc.Sort.By, "desc": uc.Sort.Desc}
	}
	if uc.Selection != nil {
		selection = uc.Selection
	}

	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			INSERT INTO "user_contexts" ("user_id", "dataset_id", "filters", "sort", "selection", "ts")
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT ("user_id", "dataset_id") DO UPDATE
					SET "filters" = EXCLUDED."filters", "sort" = EXCLUDED."sort",
						"selection" = EXCLUDED."selection", "ts" = EXCLUDED."ts"
		`, uc.UserID, uc.DatasetID, map[string]any(uc.Filters), sort, selection, uc.TS)
		if err != nil {
			return wrapStoreErr(err)
		}
		return nil
	}, nil)
}

// GetUserContext returns the stored context for (userID, datasetID),
// reporting false if absent.
func (s *Store) GetUserContext(ctx context.Context, userID, datasetID string) (UserContext, bool, errors.E) {
	var filters map[string]any
	var sortRaw, selection any
	var ts int64
	err := s.pool.QueryRow(ctx, `
		SELECT "filters", "sort", "selection", "ts" FROM "user_contexts"
			WHERE "user_id" = $1 AND "dataset_id" = $2
	`, userID, datasetID).Scan(&filters, &sortRaw, &selection, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserContext{}, false, nil //nolint:exhaustruct
	}
	if err != nil {
		return UserContext{}, false, wrapStoreErr(err) //nolint:exhaustruct
	}

	uc := UserContext{
		UserID:    userID,
		DatasetID: datasetID,
		Filters:   filters,
		Selection: selection,
		TS:        ts,
	}
	if sortMap, ok := sortRaw.(map[string]any); ok {
		by, _ := sortMap["by"].(string)
		desc, _ := sortMap["desc"].(bool)
		uc.Sort = &SortDescriptor{By: by, Desc: desc}
	}
	return uc, true, nil
}
