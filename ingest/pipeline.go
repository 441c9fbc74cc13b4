package ingest

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/cache"
	"gitlab.com/continent/continent/diff"
	"gitlab.com/continent/continent/errs"
	"gitlab.com/continent/continent/store"
	"gitlab.com/continent/continent/workflow"
)

// Pipeline holds the collaborators ingest's five steps need: the durable
// store, the hot cache, and a logger for the steps' warnings (skipped
// rows, a failed cache-table mirror write, a failed fanout publish). The
// per-step entry/exit lines come from workflow.Step's engine logger.
type Pipeline struct {
	Store       *store.Store
	CacheClient *cache.Cache
	Logger      zerolog.Logger
}

// Validate is step 1. It requires non-empty identifying fields and a row
// count within bounds, then reserves the seen: admission-control key. A
// reservation already held with a different checksum is a terminal
// ChecksumMismatch; held with the same checksum, it succeeds (idempotent
// reingest of the same pair).
func (p *Pipeline) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	if req.DatasetID == "" || req.Version == "" || req.Checksum == "" {
		return ValidateResult{}, errors.WithStack(errs.ErrInvalidInput) //nolint:exhaustruct
	}
	if req.NRows < 0 || req.NRows > MaxRows {
		return ValidateResult{}, errors.WithStack(errs.ErrInvalidInput) //nolint:exhaustruct
	}

	key := cache.SeenKey(req.DatasetID, req.Version)
	reserved, errE := p.CacheClient.SetNXWithTTL(ctx, key, req.Checksum, cache.TTL)
	if errE != nil {
		return ValidateResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}
	if reserved {
		return ValidateResult{Reserved: true}, nil
	}

	seen, found, errE := p.CacheClient.Get(ctx, key)
	if errE != nil {
		return ValidateResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}
	if !found {
		// The reservation expired between SetNX and Get; treat as transient
		// and let the retry loop take the reservation on its next attempt.
		return ValidateResult{}, workflow.Retryable(errors.Errorf("seen key for %s/%s disappeared mid-validate", req.DatasetID, req.Version)) //nolint:exhaustruct
	}
	if string(seen) != req.Checksum {
		return ValidateResult{}, errors.WrapWith( //nolint:exhaustruct
			errors.Errorf("dataset %s version %s already seen with a different checksum", req.DatasetID, req.Version),
			errs.ErrChecksumMismatch,
		)
	}
	return ValidateResult{Reserved: true}, nil
}

// Cache is step 2. It writes the packaged snapshot to the hot cache
// (authoritative) and mirrors it into the durable store's cache table
// (best-effort backstop).
func (p *Pipeline) Cache(ctx context.Context, req CacheRequest) (CacheResult, error) {
	snap := cache.Snapshot{
		Version:       req.Version,
		Checksum:      req.Checksum,
		TS:            req.TS,
		Rows:          req.Rows,
		Count:         len(req.Rows),
		ParentVersion: nil,
		DiffChecksum:  nil,
	}
	data, errE := cache.MarshalSnapshot(snap)
	if errE != nil {
		return CacheResult{}, errE //nolint:exhaustruct
	}

	key := cache.SnapshotKey(req.DatasetID, req.Version)
	if errE := p.CacheClient.SetWithTTL(ctx, key, data, cache.TTL); errE != nil {
		return CacheResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}

	payload := map[string]any{
		"version":  req.Version,
		"checksum": req.Checksum,
		"ts":       req.TS,
		"rows":     req.Rows,
		"count":    len(req.Rows),
	}
	if errE := p.Store.MirrorCache(ctx, req.DatasetID, req.Version, payload, req.TS+int64(cache.TTL.Seconds())); errE != nil {
		p.Logger.Warn().Err(errE).Str("dataset_id", req.DatasetID).Str("version", req.Version).Msg("cache table mirror write failed, redis write stands")
	}

	return CacheResult{Cached: true}, nil
}

// Diff is step 3. It loads the current latest-ready version's rows (if
// any) as the parent, computes deltas against the incoming rows, and
// appends them to the durable store.
func (p *Pipeline) Diff(ctx context.Context, req DiffRequest) (DiffResult, error) {
	parentVersion, hasParent, errE := p.Store.LatestReadyVersion(ctx, req.DatasetID)
	if errE != nil {
		return DiffResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}

	var old []store.Row
	var parentPtr *string
	if hasParent {
		old, errE = p.Store.GetRows(ctx, req.DatasetID, parentVersion)
		if errE != nil {
			return DiffResult{}, workflow.Retryable(errE) //nolint:exhaustruct
		}
		parentPtr = &parentVersion
	}

	result := diff.Compute(old, req.Rows, req.TS)
	if result.Skipped > 0 {
		p.Logger.Warn().Int("skipped", result.Skipped).Str("dataset_id", req.DatasetID).Str("version", req.Version).Msg("rows missing id skipped during diff")
	}

	if errE := p.Store.AppendDeltas(ctx, req.DatasetID, req.Version, result.Deltas); errE != nil {
		return DiffResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}

	return DiffResult{
		ParentVersion: parentPtr,
		DiffChecksum:  result.DiffChecksum,
		DiffCount:     len(result.Deltas),
	}, nil
}

// Commit is step 4. It upserts the version as ready and replaces its row
// sequence atomically, so a reader can never observe a ready version with
// a partial row set. A checksum conflict against an already-ready version
// is terminal: it catches a divergent reingest even after the seen: key's
// TTL has lapsed and validate can no longer detect it.
func (p *Pipeline) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	diffChecksum := req.DiffChecksum
	rec := store.VersionRecord{
		DatasetID:     req.DatasetID,
		Version:       req.Version,
		Checksum:      req.Checksum,
		TS:            req.TS,
		ParentVersion: req.ParentVersion,
		DiffChecksum:  &diffChecksum,
		Status:        store.StatusReady,
	}
	errE := p.Store.CommitVersion(ctx, rec, req.Rows)
	if errE != nil {
		if errors.Is(errE, errs.ErrChecksumMismatch) {
			return CommitResult{}, errE //nolint:exhaustruct
		}
		return CommitResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}
	return CommitResult{Committed: true, Count: len(req.Rows)}, nil
}

// Fanout is step 5. It is best-effort: a publish failure never fails the
// pipeline.
func (p *Pipeline) Fanout(ctx context.Context, req FanoutRequest) (FanoutResult, error) {
	payload := map[string]any{
		"type":       "continent_update",
		"dataset_id": req.DatasetID,
		"version":    req.Version,
	}
	if errE := p.CacheClient.Publish(ctx, cache.DatasetTopic(req.DatasetID), payload); errE != nil {
		p.Logger.Warn().Err(errE).Str("dataset_id", req.DatasetID).Str("version", req.Version).Msg("fanout publish failed")
	}
	return FanoutResult{Published: true}, nil
}

// Run drives the five steps of run sequentially under the engine,
// threading the diff step's parent/diff_checksum output into the commit
// step's request.
func (p *Pipeline) Run(ctx context.Context, engine *workflow.Engine, run workflow.Run, req ValidateRequest, rows []store.Row, ts int64) (Result, errors.E) {
	if errE := engine.StartRun(ctx, run); errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}

	var result Result

	validateResult, errE := workflow.Step(ctx, engine, run, "validate", ValidateDeadline, func(ctx context.Context) (ValidateResult, error) {
		return p.Validate(ctx, req)
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.Validate = validateResult

	cacheResult, errE := workflow.Step(ctx, engine, run, "cache", CacheDeadline, func(ctx context.Context) (CacheResult, error) {
		return p.Cache(ctx, CacheRequest{DatasetID: req.DatasetID, Version: req.Version, Checksum: req.Checksum, Rows: rows, TS: ts})
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.Cache = cacheResult

	diffResult, errE := workflow.Step(ctx, engine, run, "diff", DiffDeadline, func(ctx context.Context) (DiffResult, error) {
		return p.Diff(ctx, DiffRequest{DatasetID: req.DatasetID, Version: req.Version, Rows: rows, TS: ts})
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.Diff = diffResult

	commitResult, errE := workflow.Step(ctx, engine, run, "commit", CommitDeadline, func(ctx context.Context) (CommitResult, error) {
		return p.Commit(ctx, CommitRequest{
			DatasetID:     req.DatasetID,
			Version:       req.Version,
			Checksum:      req.Checksum,
			Rows:          rows,
			ParentVersion: diffResult.ParentVersion,
			DiffChecksum:  diffResult.DiffChecksum,
			TS:            ts,
		})
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.Commit = commitResult

	fanoutResult, errE := workflow.Step(ctx, engine, run, "fanout", FanoutDeadline, func(ctx context.Context) (FanoutResult, error) {
		return p.Fanout(ctx, FanoutRequest{DatasetID: req.DatasetID, Version: req.Version})
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.Fanout = fanoutResult

	if errE := engine.SucceedRun(ctx, run); errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}

	return result, nil
}

// Handle unmarshals an EnqueuePayload and drives Run. It is the Handler
// the engine's dispatcher calls for claimed runs of kind "ingest": the
// dispatcher goroutine that claims a run is never the one that enqueued
// it, so everything Run needs travels as payload bytes instead of as
// in-process call arguments.
func (p *Pipeline) Handle(ctx context.Context, engine *workflow.Engine, run workflow.Run, payload []byte) errors.E {
	var ep EnqueuePayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		return errors.WithStack(err)
	}
	_, errE := p.Run(ctx, engine, run, ep.Request, ep.Rows, ep.TS)
	return errE
}
