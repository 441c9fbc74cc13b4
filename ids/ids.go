// Package ids defines the identifier grammar and derivation rules shared
// across the external boundary contracts: dataset and user
// identifiers are opaque non-empty strings; version identifiers are
// derived from the ingest checksum and bound to a fixed grammar so peers
// can recognize and validate them without consulting the store.
package ids

import (
	"fmt"
	"regexp"
	"time"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/canonical"
	"gitlab.com/continent/continent/store"
)

// versionPattern is the v{uint}.{hex8} version identifier grammar.
var versionPattern = regexp.MustCompile(`^v[0-9]+\.[0-9a-f]{8}$`) //nolint:gochecknoglobals

// ValidVersion reports whether version matches the version identifier
// grammar. The core accepts any grammar-conforming identifier regardless
// of how it was derived.
func ValidVersion(version string) bool {
	return versionPattern.MatchString(version)
}

// Checksum computes the ingest checksum of an ordered row sequence: the
// hex SHA-256 of its canonical serialization, delegating to
// canonical.Checksum so every checksum in the system (version, diff, and
// ingest) goes through the same single definition.
func Checksum(rows []store.Row) (string, errors.E) {
	return canonical.Checksum(rows)
}

// DeriveVersion builds the version identifier for a freshly computed
// checksum at arrival time ts: v{ts}.{checksum[:8]}.
func DeriveVersion(ts time.Time, checksum string) string {
	prefix := checksum
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("v%d.%s", ts.Unix(), prefix)
}

// IngestWorkflowID derives the idempotent workflow id for an ingest run
//: continent-{dataset_id}-{version}-{ts}.
func IngestWorkflowID(datasetID, version string, ts time.Time) string {
	return fmt.Sprintf("continent-%s-%s-%d", datasetID, version, ts.Unix())
}

// ContextWorkflowID derives the idempotent workflow id for a projection
// run: uctx-{user_id}-{dataset_id}-{ts}.
func ContextWorkflowID(userID, datasetID string, ts time.Time) string {
	return fmt.Sprintf("uctx-%s-%s-%d", userID, datasetID, ts.Unix())
}
