package continent

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/cache"
	"gitlab.com/continent/continent/ids"
	"gitlab.com/continent/continent/ingest"
	"gitlab.com/continent/continent/projection"
	"gitlab.com/continent/continent/store"
	"gitlab.com/continent/continent/workflow"
)

// Service is the external boundary of the system: it closes
// over the Durable Store, Hot Cache, and workflow Engine and exposes the
// four contracts an HTTP layer or operator CLI would call directly.
// Queue is the task queue name StartIngest/SetContext enqueue onto and
// the one a continent-worker process's Serve call drains.
type Service struct {
	Store  *store.Store
	Cache  *cache.Cache
	Engine *workflow.Engine
	Logger zerolog.Logger
	Queue  string
}

// NewService wires an already-initialized Store, Cache, and Engine into a
// Service.
func NewService(s *store.Store, c *cache.Cache, engine *workflow.Engine, queue string, logger zerolog.Logger) *Service {
	return &Service{Store: s, Cache: c, Engine: engine, Logger: logger, Queue: queue}
}

// StartIngestResult is start_ingest's response.
type StartIngestResult struct {
	WorkflowID string
	Version    string
	Checksum   string
}

// Snapshot is get_snapshot's response: the packaged snapshot
// plus which layer it was served from.
type Snapshot struct {
	Source string // "cache" or "database"
	Data   cache.Snapshot
}

// StartIngest computes the version identifier for rows and enqueues an
// ingest workflow onto svc.Queue, returning immediately with its
// identifiers; a continent-worker process's dispatcher claims and drives
// the pipeline asynchronously.
func (svc *Service) StartIngest(ctx context.Context, datasetID string, rows []store.Row) (StartIngestResult, errors.E) {
	if datasetID == "" || len(rows) == 0 {
		return StartIngestResult{}, errors.WithStack(ErrInvalidInput) //nolint:exhaustruct
	}
	if len(rows) > ingest.MaxRows {
		return StartIngestResult{}, errors.WithStack(ErrInvalidInput) //nolint:exhaustruct
	}

	checksum, errE := ids.Checksum(rows)
	if errE != nil {
		return StartIngestResult{}, errE //nolint:exhaustruct
	}

	ts := time.Now()
	version := ids.DeriveVersion(ts, checksum)
	workflowID := ids.IngestWorkflowID(datasetID, version, ts)

	run := workflow.Run{ID: workflowID, Kind: "ingest", DatasetID: datasetID, Version: version}
	payload, err := json.Marshal(ingest.EnqueuePayload{
		Request: ingest.ValidateRequest{DatasetID: datasetID, Version: version, Checksum: checksum, NRows: len(rows)},
		Rows:    rows,
		TS:      ts.Unix(),
	})
	if err != nil {
		return StartIngestResult{}, errors.WithStack(err) //nolint:exhaustruct
	}

	if errE := svc.Engine.Enqueue(ctx, run, svc.Queue, payload); errE != nil {
		return StartIngestResult{}, errE //nolint:exhaustruct
	}

	return StartIngestResult{WorkflowID: workflowID, Version: version, Checksum: checksum}, nil
}

// GetSnapshot resolves a dataset's snapshot, preferring the hot cache
// and falling back to (and populating from) the durable store on a
// miss.
func (svc *Service) GetSnapshot(ctx context.Context, datasetID string, version *string) (Snapshot, errors.E) {
	v := ""
	if version != nil {
		if !ids.ValidVersion(*version) {
			return Snapshot{}, errors.WithStack(ErrInvalidInput) //nolint:exhaustruct
		}
		v = *version
	}

	if v == "" {
		latest, found, errE := svc.Cache.Get(ctx, cache.LatestKey(datasetID))
		if errE != nil {
			return Snapshot{}, errE //nolint:exhaustruct
		}
		if found {
			v = string(latest)
		}
	}

	if v != "" {
		data, found, errE := svc.Cache.Get(ctx, cache.SnapshotKey(datasetID, v))
		if errE != nil {
			return Snapshot{}, errE //nolint:exhaustruct
		}
		if found {
			snap, errE := cache.UnmarshalSnapshot(data)
			if errE != nil {
				return Snapshot{}, errE //nolint:exhaustruct
			}
			return Snapshot{Source: "cache", Data: snap}, nil
		}
	}

	if v == "" {
		latest, ok, errE := svc.Store.LatestReadyVersion(ctx, datasetID)
		if errE != nil {
			return Snapshot{}, errE //nolint:exhaustruct
		}
		if !ok {
			return Snapshot{}, errors.WithStack(ErrNotFound) //nolint:exhaustruct
		}
		v = latest
	}

	rec, ok, errE := svc.Store.GetVersion(ctx, datasetID, v)
	if errE != nil {
		return Snapshot{}, errE //nolint:exhaustruct
	}
	if !ok || rec.Status != store.StatusReady {
		return Snapshot{}, errors.WithStack(ErrNotFound) //nolint:exhaustruct
	}

	rows, errE := svc.Store.GetRows(ctx, datasetID, v)
	if errE != nil {
		return Snapshot{}, errE //nolint:exhaustruct
	}

	snap := cache.Snapshot{
		Version:       v,
		Checksum:      rec.Checksum,
		TS:            rec.TS,
		Rows:          rows,
		Count:         len(rows),
		ParentVersion: rec.ParentVersion,
		DiffChecksum:  rec.DiffChecksum,
	}

	if data, errE := cache.MarshalSnapshot(snap); errE == nil {
		if errE := svc.Cache.SetWithTTL(ctx, cache.SnapshotKey(datasetID, v), data, cache.TTL); errE != nil {
			svc.Logger.Warn().Err(errE).Str("dataset_id", datasetID).Str("version", v).Msg("failed to populate snapshot cache on read-through")
		}
		if errE := svc.Cache.SetWithTTL(ctx, cache.LatestKey(datasetID), v, cache.TTL); errE != nil {
			svc.Logger.Warn().Err(errE).Str("dataset_id", datasetID).Msg("failed to populate latest-version cache on read-through")
		}
	}

	return Snapshot{Source: "database", Data: snap}, nil
}

// ListVersions returns the newest limit ready versions for datasetID,
// clamping limit to [1, MaxListVersionsLimit] with DefaultListVersionsLimit
// when limit is not positive.
func (svc *Service) ListVersions(ctx context.Context, datasetID string, limit int) ([]store.VersionRecord, errors.E) {
	if limit <= 0 {
		limit = DefaultListVersionsLimit
	}
	if limit > MaxListVersionsLimit {
		limit = MaxListVersionsLimit
	}
	return svc.Store.ListReadyVersions(ctx, datasetID, limit)
}

// GetDeltas returns the delta records for one ready version.
func (svc *Service) GetDeltas(ctx context.Context, datasetID, version string) ([]store.DeltaRecord, errors.E) {
	if !ids.ValidVersion(version) {
		return nil, errors.WithStack(ErrInvalidInput)
	}
	rec, ok, errE := svc.Store.GetVersion(ctx, datasetID, version)
	if errE != nil {
		return nil, errE
	}
	if !ok || rec.Status != store.StatusReady {
		return nil, errors.WithStack(ErrNotFound)
	}
	return svc.Store.GetDeltas(ctx, datasetID, version)
}

// GetIncremental validates both from and to are ready versions and
// returns the deltas stored against to; the caller applies them atop
// their local copy of from.
func (svc *Service) GetIncremental(ctx context.Context, datasetID, from, to string) ([]store.DeltaRecord, errors.E) {
	if !ids.ValidVersion(from) || !ids.ValidVersion(to) {
		return nil, errors.WithStack(ErrInvalidInput)
	}
	fromRec, ok, errE := svc.Store.GetVersion(ctx, datasetID, from)
	if errE != nil {
		return nil, errE
	}
	if !ok || fromRec.Status != store.StatusReady {
		return nil, errors.WithStack(ErrNotFound)
	}

	toRec, ok, errE := svc.Store.GetVersion(ctx, datasetID, to)
	if errE != nil {
		return nil, errE
	}
	if !ok || toRec.Status != store.StatusReady {
		return nil, errors.WithStack(ErrNotFound)
	}

	return svc.Store.GetDeltas(ctx, datasetID, to)
}

// SetContext enqueues a projection workflow onto svc.Queue carrying
// userID's filter/sort/selection context for datasetID, returning its
// workflow id immediately; a continent-worker process's dispatcher
// claims and drives the pipeline asynchronously, and its store_user_ctx
// step is what persists the context.
func (svc *Service) SetContext(ctx context.Context, userID, datasetID string, uctx store.UserContext) (string, errors.E) {
	if userID == "" || datasetID == "" {
		return "", errors.WithStack(ErrInvalidInput)
	}

	ts := time.Now()
	workflowID := ids.ContextWorkflowID(userID, datasetID, ts)

	req := projection.StoreContextRequest{
		UserID:    userID,
		DatasetID: datasetID,
		Filters:   uctx.Filters,
		Sort:      uctx.Sort,
		Selection: uctx.Selection,
		TS:        ts.Unix(),
	}
	run := workflow.Run{ID: workflowID, Kind: "projection", DatasetID: datasetID, Version: ""}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", errors.WithStack(err)
	}

	if errE := svc.Engine.Enqueue(ctx, run, svc.Queue, payload); errE != nil {
		return "", errE
	}

	return workflowID, nil
}
