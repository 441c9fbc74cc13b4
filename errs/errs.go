// Package errs defines the error kinds shared across store, cache,
// workflow, ingest, and projection. Package-specific errors wrap one of
// these with errors.WrapWith so callers can errors.Is/errors.As against
// a stable sentinel regardless of which layer produced it. They live in
// their own leaf package so every layer can share one set of kinds
// without a root-package import cycle.
package errs

import "gitlab.com/tozd/go/errors"

var (
	ErrInvalidInput      = errors.Base("invalid input")
	ErrChecksumMismatch  = errors.Base("checksum mismatch")
	ErrNotFound          = errors.Base("not found")
	ErrStoreUnavailable  = errors.Base("store unavailable")
	ErrCacheUnavailable  = errors.Base("cache unavailable")
	ErrDiffItemMissingID = errors.Base("item missing id")
)
