package workflow

import "gitlab.com/tozd/go/errors"

// retryableError marks a wrapped error as safe to retry at-least-once.
// The engine's Step checks for this via an interface type assertion
// rather than switching on specific sentinel errors, the same
// safeToRetry idiom internal/store/serializable.go uses for PostgreSQL
// serialization failures.
type retryableError struct {
	error
}

func (retryableError) Retryable() bool { return true }

// Retryable wraps err so Step retries it until the step's
// schedule-to-close deadline expires, instead of failing the run
// immediately. Transient infrastructure errors (StoreUnavailable,
// CacheUnavailable) are wrapped with this by ingest and projection step
// functions; ChecksumMismatch and InvalidInput are left unwrapped and
// are therefore terminal.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{error: err}
}

// IsRetryable reports whether err (or anything it wraps) was produced by
// Retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
