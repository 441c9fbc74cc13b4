// Package continent wires together the durable store, hot cache, and
// workflow engine into the external service boundary: producers push
// immutable dataset snapshots, consumers read the current snapshot or a
// delta between two snapshots, and per-user filter/sort contexts are
// materialized into projected views.
package continent

import "gitlab.com/continent/continent/errs"

// Error kinds shared across store, cache, workflow, ingest, and
// projection, re-exported at the service boundary for external callers
// (cmd/continent-ctl, anything embedding Service). The canonical
// definitions live in package errs, which store/cache/workflow/ingest/
// projection import directly: those packages are dependencies of this
// one (via Service), so they cannot import this package themselves
// without a cycle.
var (
	ErrInvalidInput      = errs.ErrInvalidInput
	ErrChecksumMismatch  = errs.ErrChecksumMismatch
	ErrNotFound          = errs.ErrNotFound
	ErrStoreUnavailable  = errs.ErrStoreUnavailable
	ErrCacheUnavailable  = errs.ErrCacheUnavailable
	ErrDiffItemMissingID = errs.ErrDiffItemMissingID
)
