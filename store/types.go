// Package store implements the durable version graph, row, delta, cache
// mirror, user-context, and user-view tables over PostgreSQL.
package store

import "strconv"

// Status is the lifecycle state of a Version.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
)

// DeltaKind identifies the kind of change a DeltaRecord describes.
type DeltaKind string

const (
	DeltaAdd    DeltaKind = "add"
	DeltaUpdate DeltaKind = "update"
	DeltaDelete DeltaKind = "delete"
)

// Row is an arbitrary structured record. It is expected to carry an "id"
// field (string, or a value coercible to one) used as item identity by the
// diff engine; rows without one are skipped during diffing, not rejected.
type Row map[string]any

// ID returns the row's "id" field coerced to a string, and whether one was
// present and coercible at all.
func (r Row) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v == nil {
		return "", false
	}
	return coerceToString(v)
}

// coerceToString renders an item identity value (a string, number, or
// bool) into the string key used to line up rows between old and new row
// sets during diffing. Any other value, such as a nested structure, is
// not coercible and reports false.
func coerceToString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// VersionRecord is the (dataset_id, version) metadata row.
type VersionRecord struct {
	DatasetID     string
	Version       string
	Checksum      string
	TS            int64
	ParentVersion *string
	DiffChecksum  *string
	Status        Status
}

// DeltaRecord is a single add/update/delete change between two versions.
type DeltaRecord struct {
	DatasetID string
	Version   string
	Kind      DeltaKind
	ItemID    string
	OldItem   Row // nil for add
	NewItem   Row // nil for delete
	TS        int64
}

// SortDescriptor is the optional sort clause of a UserContext.
type SortDescriptor struct {
	By   string `json:"by"`
	Desc bool   `json:"desc"`
}

// UserContext is a per-(user, dataset) filter/sort/selection descriptor.
//
// Filters maps a field name to either a scalar (equality) or a slice
// (membership). Selection is opaque: stored and round-tripped but never
// consulted by projection.
type UserContext struct {
	UserID    string
	DatasetID string
	Filters   map[string]any
	Sort      *SortDescriptor
	Selection any
	TS        int64
}

// ProjectedRow is one row of a user's materialized view.
type ProjectedRow struct {
	UserID    string
	DatasetID string
	Version   string
	Item      Row
	TS        int64
}
