package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/errs"
	internal "gitlab.com/continent/continent/internal/store"
)

// UpsertVersion inserts or overwrites a version row.
//
// If a row already exists with status "ready", an identical checksum makes
// this call a no-op; a different checksum is rejected with
// errs.ErrChecksumMismatch, since the seen: cache key alone cannot be
// relied on past its TTL.
func (s *Store) UpsertVersion(ctx context.Context, rec VersionRecord) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		return s.upsertVersionTx(ctx, tx, rec)
	}, nil)
}

func (s *Store) upsertVersionTx(ctx context.Context, tx pgx.Tx, rec VersionRecord) errors.E {
	var existingStatus, existingChecksum string
	err := tx.QueryRow(ctx, `
		SELECT "status", "checksum" FROM "versions"
			WHERE "dataset_id" = $1 AND "version" = $2
			FOR UPDATE
	`, rec.DatasetID, rec.Version).Scan(&existingStatus, &existingChecksum)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO "versions"
				("dataset_id", "version", "checksum", "ts", "parent_version", "diff_checksum", "status")
				VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.DatasetID, rec.Version, rec.Checksum, rec.TS, rec.ParentVersion, rec.DiffChecksum, string(rec.Status))
		if err != nil {
			return wrapStoreErr(err)
		}
		return nil
	case err != nil:
		return wrapStoreErr(err)
	}

	if existingStatus == string(StatusReady) {
		if existingChecksum == rec.Checksum {
			// Idempotent reingest of an already-committed version: no-op.
			return nil
		}
		return errors.WrapWith(errors.Errorf("version %s/%s already committed with a different checksum", rec.DatasetID, rec.Version), errs.ErrChecksumMismatch)
	}

	_, err = tx.Exec(ctx, `
		UPDATE "versions"
			SET "checksum" = $3, "ts" = $4, "parent_version" = $5, "diff_checksum" = $6, "status" = $7
			WHERE "dataset_id" = $1 AND "version" = $2
	`, rec.DatasetID, rec.Version, rec.Checksum, rec.TS, rec.ParentVersion, rec.DiffChecksum, string(rec.Status))
	if err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// CommitVersion flips a version to "ready" and replaces its row sequence in
// one transaction, so a reader can never observe a ready version with a
// partial row set. It runs the transaction-level helpers behind
// UpsertVersion and ReplaceRows directly on its own transaction.
func (s *Store) CommitVersion(ctx context.Context, rec VersionRecord, rows []Row) errors.E {
	return internal.RetryTransactionWithMetrics(ctx, s.pool, pgx.ReadWrite, s.metrics, func(ctx context.Context, tx pgx.Tx) errors.E {
		errE := s.upsertVersionTx(ctx, tx, rec)
		if errE != nil {
			return errE
		}
		return s.replaceRowsTx(ctx, tx, rec.DatasetID, rec.Version, rows)
	}, nil)
}

// GetVersion returns the version record for (datasetID, version), reporting
// false if absent. It does not filter by status: callers that must honor
// the "observable only when ready" invariant check Status themselves.
func (s *Store) GetVersion(ctx context.Context, datasetID, version string) (VersionRecord, bool, errors.E) {
	var rec VersionRecord
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT "dataset_id", "version", "checksum", "ts", "parent_version", "diff_checksum", "status"
			FROM "versions" WHERE "dataset_id" = $1 AND "version" = $2
	`, datasetID, version).Scan(&rec.DatasetID, &rec.Version, &rec.Checksum, &rec.TS, &rec.ParentVersion, &rec.DiffChecksum, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return VersionRecord{}, false, nil //nolint:exhaustruct
	}
	if err != nil {
		return VersionRecord{}, false, wrapStoreErr(err) //nolint:exhaustruct
	}
	rec.Status = Status(status)
	return rec, true, nil
}

// LatestReadyVersion returns the ready version with the greatest ts for the
// dataset, ties broken by version lexicographically descending.
func (s *Store) LatestReadyVersion(ctx context.Context, datasetID string) (string, bool, errors.E) {
	var version string
	err := s.pool.QueryRow(ctx, `
		SELECT "version" FROM "versions"
			WHERE "dataset_id" = $1 AND "status" = $2
			ORDER BY "ts" DESC, "version" DESC
			LIMIT 1
	`, datasetID, string(StatusReady)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreErr(err)
	}
	return version, true, nil
}

// ListReadyVersions returns the newest limit ready versions for a dataset,
// descending by ts.
func (s *Store) ListReadyVersions(ctx context.Context, datasetID string, limit int) ([]VersionRecord, errors.E) {
	rowsResult, err := s.pool.Query(ctx, `
		SELECT "dataset_id", "version", "checksum", "ts", "parent_version", "diff_checksum", "status"
			FROM "versions"
			WHERE "dataset_id" = $1 AND "status" = $2
			ORDER BY "ts" DESC, "version" DESC
			LIMIT $3
	`, datasetID, string(StatusReady), limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rowsResult.Close()

	var out []VersionRecord
	for rowsResult.Next() {
		var rec VersionRecord
		var status string
		if err := rowsResult.Scan(&rec.DatasetID, &rec.Version, &rec.Checksum, &rec.TS, &rec.ParentVersion, &rec.DiffChecksum, &status); err != nil {
			return nil, wrapStoreErr(err)
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	if err := rowsResult.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}
