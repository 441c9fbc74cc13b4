package cache

import (
	"github.com/goccy/go-json"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/store"
)

// Snapshot is the packaged payload written to SnapshotKey. It is encoded
// with github.com/goccy/go-json, deliberately distinct from the
// canonical-package encoding: cache payloads are not checksum inputs.
type Snapshot struct {
	Version       string     `json:"version"`
	Checksum      string     `json:"checksum"`
	TS            int64      `json:"ts"`
	Rows          []store.Row `json:"rows"`
	Count         int        `json:"count"`
	ParentVersion *string    `json:"parent_version,omitempty"`
	DiffChecksum  *string    `json:"diff_checksum,omitempty"`
}

// MarshalSnapshot encodes a Snapshot for writing to the cache.
func MarshalSnapshot(s Snapshot) ([]byte, errors.E) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// UnmarshalSnapshot decodes a Snapshot read back from the cache.
func UnmarshalSnapshot(data []byte) (Snapshot, errors.E) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, errors.WithStack(err) //nolint:exhaustruct
	}
	return s, nil
}
