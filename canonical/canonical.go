// Package canonical provides the canonical JSON serialization used to bind
// checksums across the durable store: version checksums and diff
// checksums both go through the same encoding so that identical inputs
// always hash the same way, regardless of map key order on the way in.
// Packaged snapshot payloads in the hot cache are not encoded here.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// Marshal serializes v the same way the durable store's PostgreSQL JSON/JSONB
// codec does (gitlab.com/tozd/go/x, registered in internal/store.InitPostgres),
// so a value round-tripped through PostgreSQL hashes identically to the value
// as first submitted. Go's encoding of map[string]any already sorts object
// keys, which gives us the field-sorted map encoding the checksum contract
// requires.
func Marshal(v any) ([]byte, errors.E) {
	b, err := x.MarshalWithoutEscapeHTML(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// Checksum returns the hex-encoded SHA-256 of the canonical serialization of v.
func Checksum(v any) (string, errors.E) {
	b, errE := Marshal(v)
	if errE != nil {
		return "", errE
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Equal reports whether a and b have the same canonical serialization.
//
// Values are expected to already be in their decoded form (map[string]any,
// []any, float64, string, bool, nil, as produced by any JSON decoder),
// so numeric normalization (1 and 1.0 comparing equal) and map-key-order
// independence both fall out of decoding through one consistent codec
// rather than needing a bespoke deep-equality routine.
func Equal(a, b any) bool {
	aBytes, errA := Marshal(a)
	bBytes, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aBytes) == string(bBytes)
}
