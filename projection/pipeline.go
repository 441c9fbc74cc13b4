package projection

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/cache"
	"gitlab.com/continent/continent/errs"
	"gitlab.com/continent/continent/store"
	"gitlab.com/continent/continent/workflow"
)

// Pipeline holds the collaborators projection's two steps need.
type Pipeline struct {
	Store  *store.Store
	Cache  *cache.Cache
	Logger zerolog.Logger
}

// StoreContext is step 1: persist the user's filter/sort/selection
// context, upserting by (user_id, dataset_id).
func (p *Pipeline) StoreContext(ctx context.Context, req StoreContextRequest) (StoreContextResult, error) {
	if req.UserID == "" || req.DatasetID == "" {
		return StoreContextResult{}, errors.WithStack(errs.ErrInvalidInput) //nolint:exhaustruct
	}

	uc := store.UserContext{
		UserID:    req.UserID,
		DatasetID: req.DatasetID,
		Filters:   req.Filters,
		Sort:      req.Sort,
		Selection: req.Selection,
		TS:        req.TS,
	}
	if errE := p.Store.UpsertUserContext(ctx, uc); errE != nil {
		return StoreContextResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}
	return StoreContextResult{Stored: true}, nil
}

// ProjectView is step 2: resolve the latest ready version, apply the
// user's context (default empty if absent) to its rows, replace the
// user's materialized view, and publish a view_ready notification.
func (p *Pipeline) ProjectView(ctx context.Context, req ProjectViewRequest) (ProjectViewResult, error) {
	version, ok, errE := p.Store.LatestReadyVersion(ctx, req.DatasetID)
	if errE != nil {
		return ProjectViewResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}
	if !ok {
		return ProjectViewResult{Produced: false}, nil //nolint:exhaustruct
	}

	uc, found, errE := p.Store.GetUserContext(ctx, req.UserID, req.DatasetID)
	if errE != nil {
		return ProjectViewResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}
	if !found {
		uc = store.UserContext{UserID: req.UserID, DatasetID: req.DatasetID} //nolint:exhaustruct
	}

	rows, errE := p.Store.GetRows(ctx, req.DatasetID, version)
	if errE != nil {
		return ProjectViewResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}

	filtered := filterRows(rows, uc.Filters)
	if uc.Sort != nil && uc.Sort.By != "" {
		sortRows(filtered, *uc.Sort)
	}

	projected := make([]store.ProjectedRow, len(filtered))
	for i, r := range filtered {
		projected[i] = store.ProjectedRow{
			UserID:    req.UserID,
			DatasetID: req.DatasetID,
			Version:   version,
			Item:      r,
			TS:        req.TS,
		}
	}

	if errE := p.Store.ReplaceUserView(ctx, req.UserID, req.DatasetID, version, projected); errE != nil {
		return ProjectViewResult{}, workflow.Retryable(errE) //nolint:exhaustruct
	}

	payload := map[string]any{
		"type":       "view_ready",
		"dataset_id": req.DatasetID,
		"version":    version,
		"user_id":    req.UserID,
	}
	if errE := p.Cache.Publish(ctx, cache.UserTopic(req.DatasetID, req.UserID), payload); errE != nil {
		p.Logger.Warn().Err(errE).Str("dataset_id", req.DatasetID).Str("user_id", req.UserID).Msg("view_ready fanout publish failed")
	}

	v := version
	return ProjectViewResult{Produced: true, Version: &v, Count: len(projected)}, nil
}

// Run drives both steps of run sequentially under the engine.
func (p *Pipeline) Run(ctx context.Context, engine *workflow.Engine, run workflow.Run, ctxReq StoreContextRequest) (Result, errors.E) {
	if errE := engine.StartRun(ctx, run); errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}

	var result Result

	storeResult, errE := workflow.Step(ctx, engine, run, "store_user_ctx", StoreContextDeadline, func(ctx context.Context) (StoreContextResult, error) {
		return p.StoreContext(ctx, ctxReq)
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.StoreContext = storeResult

	viewResult, errE := workflow.Step(ctx, engine, run, "project_view", ProjectViewDeadline, func(ctx context.Context) (ProjectViewResult, error) {
		return p.ProjectView(ctx, ProjectViewRequest{UserID: ctxReq.UserID, DatasetID: ctxReq.DatasetID, TS: ctxReq.TS})
	})
	if errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}
	result.ProjectView = viewResult

	if errE := engine.SucceedRun(ctx, run); errE != nil {
		return Result{}, errE //nolint:exhaustruct
	}

	return result, nil
}

// Handle unmarshals payload directly into a StoreContextRequest and
// drives Run. It is the Handler the engine's dispatcher calls for claimed
// runs of kind "projection".
func (p *Pipeline) Handle(ctx context.Context, engine *workflow.Engine, run workflow.Run, payload []byte) errors.E {
	var req StoreContextRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.WithStack(err)
	}
	_, errE := p.Run(ctx, engine, run, req)
	return errE
}
