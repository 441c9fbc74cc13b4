// Package projection implements the two steps of the durable per-user
// view materialization pipeline (store_user_ctx, project_view) as pure
// task functions driven by the workflow engine, mirroring package
// ingest's structure.
package projection

import (
	"time"

	"gitlab.com/continent/continent/store"
)

// Schedule-to-close deadlines per step.
const (
	StoreContextDeadline = 10 * time.Second
	ProjectViewDeadline  = 60 * time.Second
)

// StoreContextRequest is step 1's input.
type StoreContextRequest struct {
	UserID    string
	DatasetID string
	Filters   map[string]any
	Sort      *store.SortDescriptor
	Selection any
	TS        int64
}

// StoreContextResult acknowledges the context row was persisted.
type StoreContextResult struct {
	Stored bool
}

// ProjectViewRequest is step 2's input.
type ProjectViewRequest struct {
	UserID    string
	DatasetID string
	TS        int64
}

// ProjectViewResult reports what, if anything, project_view produced.
// Produced is false when the dataset has no ready version yet.
type ProjectViewResult struct {
	Produced bool
	Version  *string
	Count    int
}

// Result is the overall outcome of Run.
type Result struct {
	StoreContext StoreContextResult
	ProjectView  ProjectViewResult
}
