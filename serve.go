package continent

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/ingest"
	"gitlab.com/continent/continent/projection"
	"gitlab.com/continent/continent/workflow"
)

// Run opens the Durable Store and Hot Cache connections, then drives the
// ingest (C3) and projection (C5) worker pool: a bounded set of
// dispatcher goroutines that claim runnable work from globals.Worker.Queue
// and execute it, resuming any run a prior, crashed worker left claimed
// past its lease. Run blocks until interrupted.
func (c *ServeCommand) Run(globals *Globals) errors.E {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, errE := Open(ctx, globals)
	if errE != nil {
		return errE
	}

	ingestPipeline := &ingest.Pipeline{Store: svc.Store, CacheClient: svc.Cache, Logger: svc.Logger}
	projectionPipeline := &projection.Pipeline{Store: svc.Store, Cache: svc.Cache, Logger: svc.Logger}
	handlers := map[string]workflow.Handler{
		"ingest":     ingestPipeline.Handle,
		"projection": projectionPipeline.Handle,
	}

	globals.Logger.Info().
		Str("schema", globals.Postgres.Schema).
		Str("queue", globals.Worker.Queue).
		Int("concurrency", globals.Worker.Concurrency).
		Msg("worker ready")

	go func() {
		<-ctx.Done()
		globals.Logger.Info().Msg("shutting down")
	}()

	return svc.Engine.Serve(ctx, globals.Worker.Queue, handlers)
}
