package continent

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/cache"
	internal "gitlab.com/continent/continent/internal/store"
	"gitlab.com/continent/continent/store"
	"gitlab.com/continent/continent/workflow"
)

// Open establishes the Durable Store and Hot Cache connections described
// by globals, runs their schema initialization, and returns a ready
// Service. It can be called multiple times with independent Globals
// (e.g. once per test schema) without interfering with other callers.
func Open(ctx context.Context, globals *Globals) (*Service, errors.E) {
	metrics := &internal.Metrics{} //nolint:exhaustruct

	dbpool, errE := internal.InitPostgres(ctx, string(globals.Postgres.URL), globals.Postgres.Schema, globals.Logger)
	if errE != nil {
		return nil, errE
	}

	s := store.New(dbpool, metrics)
	if errE := s.Init(ctx); errE != nil {
		return nil, errE
	}

	wfStore := workflow.NewStore(dbpool, metrics)
	if errE := wfStore.Init(ctx); errE != nil {
		return nil, errE
	}

	c, errE := cache.NewFromURL(globals.Redis.URL)
	if errE != nil {
		return nil, errE
	}

	engine := workflow.NewEngine(wfStore, globals.Worker.Concurrency, globals.Logger)

	return NewService(s, c, engine, globals.Worker.Queue, globals.Logger), nil
}
