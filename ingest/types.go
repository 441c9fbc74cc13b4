// Package ingest implements the five steps of the durable ingest pipeline
// (validate, cache, diff, commit, fanout) as pure task functions driven by
// the workflow engine. Each step accepts a structured request and returns
// a structured response; durability, retry, and resumability are the
// engine's concern, not this package's.
package ingest

import (
	"time"

	"gitlab.com/continent/continent/store"
)

// Schedule-to-close deadlines per step.
const (
	ValidateDeadline = 30 * time.Second
	CacheDeadline    = 60 * time.Second
	DiffDeadline     = 120 * time.Second
	CommitDeadline   = 180 * time.Second
	FanoutDeadline   = 15 * time.Second
)

// MaxRows is the row-count ceiling of the external ingest contract.
const MaxRows = 10000

// ValidateRequest is step 1's input.
type ValidateRequest struct {
	DatasetID string
	Version   string
	Checksum  string
	NRows     int
}

// ValidateResult acknowledges a successful reservation, so the step
// ledger has something concrete to persist instead of bare success.
type ValidateResult struct {
	Reserved bool
}

// CacheRequest is step 2's input.
type CacheRequest struct {
	DatasetID string
	Version   string
	Checksum  string
	Rows      []store.Row
	TS        int64
}

// CacheResult acknowledges the packaged snapshot was written.
type CacheResult struct {
	Cached bool
}

// DiffRequest is step 3's input.
type DiffRequest struct {
	DatasetID string
	Version   string
	Rows      []store.Row
	TS        int64
}

// DiffResult is the diff step's response.
type DiffResult struct {
	ParentVersion *string
	DiffChecksum  string
	DiffCount     int
}

// CommitRequest is step 4's input.
type CommitRequest struct {
	DatasetID     string
	Version       string
	Checksum      string
	Rows          []store.Row
	ParentVersion *string
	DiffChecksum  string
	TS            int64
}

// CommitResult acknowledges the version is now ready.
type CommitResult struct {
	Committed bool
	Count     int
}

// FanoutRequest is step 5's input.
type FanoutRequest struct {
	DatasetID string
	Version   string
}

// FanoutResult acknowledges the publish attempt (best-effort, never
// fails the pipeline).
type FanoutResult struct {
	Published bool
}

// Result is the overall outcome of Run, assembled from the five steps.
type Result struct {
	Validate ValidateResult
	Cache    CacheResult
	Diff     DiffResult
	Commit   CommitResult
	Fanout   FanoutResult
}

// EnqueuePayload bundles one ingest run's resumption state: everything
// Handle needs to reconstruct the same Run call StartIngest would have
// made inline, since the dispatcher goroutine that claims this run runs
// independently of (and possibly in a different process than) the one
// that enqueued it.
type EnqueuePayload struct {
	Request ValidateRequest
	Rows    []store.Row
	TS      int64
}
