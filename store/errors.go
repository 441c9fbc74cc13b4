package store

import (
	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/errs"
	internal "gitlab.com/continent/continent/internal/store"
)

// wrapStoreErr translates a raw pgx/PostgreSQL error into
// errs.ErrStoreUnavailable, preserving the PostgreSQL error details the
// same way internal/store.WithPgxError does, so callers can retry on
// this sentinel.
func wrapStoreErr(err error) errors.E {
	return errors.WrapWith(internal.WithPgxError(err), errs.ErrStoreUnavailable)
}
