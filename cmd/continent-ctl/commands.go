package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent"
	"gitlab.com/continent/continent/store"
)

func withService(globals *continent.Globals, fn func(ctx context.Context, svc *continent.Service) errors.E) errors.E {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, errE := continent.Open(ctx, globals)
	if errE != nil {
		return errE
	}

	return fn(ctx, svc)
}

// StartIngestCommand enqueues an ingest workflow for datasetID with the
// rows read from rowsFile (a JSON array of objects).
type StartIngestCommand struct {
	DatasetID string               `arg:"" help:"Dataset id."`
	RowsFile  kong.FileContentFlag `arg:"" help:"Path to a JSON file containing the row array to ingest."`
}

func (c *StartIngestCommand) Run(globals *continent.Globals) errors.E {
	var rows []store.Row
	if err := json.Unmarshal(c.RowsFile, &rows); err != nil {
		return errors.WithStack(err)
	}

	return withService(globals, func(ctx context.Context, svc *continent.Service) errors.E {
		result, errE := svc.StartIngest(ctx, c.DatasetID, rows)
		if errE != nil {
			return errE
		}
		return printJSON(result)
	})
}

// GetSnapshotCommand reads datasetID's current (or, if version is given,
// a specific) snapshot.
type GetSnapshotCommand struct {
	DatasetID string `arg:"" help:"Dataset id."`
	Version   string `help:"Specific version to read; omit for the latest ready version." optional:""`
}

func (c *GetSnapshotCommand) Run(globals *continent.Globals) errors.E {
	return withService(globals, func(ctx context.Context, svc *continent.Service) errors.E {
		var version *string
		if c.Version != "" {
			version = &c.Version
		}
		snap, errE := svc.GetSnapshot(ctx, c.DatasetID, version)
		if errE != nil {
			return errE
		}
		return printJSON(snap)
	})
}

// ListVersionsCommand lists datasetID's newest limit ready versions.
type ListVersionsCommand struct {
	DatasetID string `arg:""`
	Limit     int    `default:"10" help:"Maximum number of versions to return (capped at 100)."`
}

func (c *ListVersionsCommand) Run(globals *continent.Globals) errors.E {
	return withService(globals, func(ctx context.Context, svc *continent.Service) errors.E {
		versions, errE := svc.ListVersions(ctx, c.DatasetID, c.Limit)
		if errE != nil {
			return errE
		}
		return printJSON(versions)
	})
}

// GetDeltasCommand reads the delta records of one ready version.
type GetDeltasCommand struct {
	DatasetID string `arg:""`
	Version   string `arg:""`
}

func (c *GetDeltasCommand) Run(globals *continent.Globals) errors.E {
	return withService(globals, func(ctx context.Context, svc *continent.Service) errors.E {
		deltas, errE := svc.GetDeltas(ctx, c.DatasetID, c.Version)
		if errE != nil {
			return errE
		}
		return printJSON(deltas)
	})
}

// GetIncrementalCommand reads the deltas stored against to, which the
// caller is responsible for applying atop their local copy of from.
type GetIncrementalCommand struct {
	DatasetID string `arg:""`
	From      string `arg:""`
	To        string `arg:""`
}

func (c *GetIncrementalCommand) Run(globals *continent.Globals) errors.E {
	return withService(globals, func(ctx context.Context, svc *continent.Service) errors.E {
		deltas, errE := svc.GetIncremental(ctx, c.DatasetID, c.From, c.To)
		if errE != nil {
			return errE
		}
		return printJSON(deltas)
	})
}

// contextPayload is the on-disk shape a context file is read as for
// SetContextCommand. It is decoded as YAML, which also accepts JSON.
type contextPayload struct {
	Filters   map[string]any        `yaml:"filters"`
	Sort      *store.SortDescriptor `yaml:"sort"`
	Selection any                   `yaml:"selection"`
}

// SetContextCommand sets userID's filter/sort/selection context for
// datasetID and enqueues a projection workflow.
type SetContextCommand struct {
	UserID      string               `arg:""`
	DatasetID   string               `arg:""`
	ContextFile kong.FileContentFlag `arg:"" help:"Path to a YAML or JSON file with {filters, sort, selection}."`
}

func (c *SetContextCommand) Run(globals *continent.Globals) errors.E {
	var payload contextPayload
	if err := yaml.Unmarshal(c.ContextFile, &payload); err != nil {
		return errors.WithStack(err)
	}

	return withService(globals, func(ctx context.Context, svc *continent.Service) errors.E {
		uctx := store.UserContext{
			UserID:    c.UserID,
			DatasetID: c.DatasetID,
			Filters:   payload.Filters,
			Sort:      payload.Sort,
			Selection: payload.Selection,
			TS:        0,
		}
		workflowID, errE := svc.SetContext(ctx, c.UserID, c.DatasetID, uctx)
		if errE != nil {
			return errE
		}
		return printJSON(map[string]string{"workflow_id": workflowID})
	})
}
