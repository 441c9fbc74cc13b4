// Command continent-ctl is a kong-based operator CLI for the external
// ingest/read contracts. It is not a network-facing surface:
// an HTTP layer calling the same continent.Service methods is out of
// scope.
package main

import (
	"strconv"

	"github.com/alecthomas/kong"

	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent"
)

// Config is continent-ctl's command-line configuration.
type Config struct {
	continent.Globals `yaml:"globals"`

	StartIngest    StartIngestCommand    `cmd:"" help:"Enqueue an ingest workflow for a dataset."`
	GetSnapshot    GetSnapshotCommand    `cmd:"" help:"Read a dataset's current or a specific snapshot."`
	ListVersions   ListVersionsCommand   `cmd:"" help:"List a dataset's ready versions."`
	GetDeltas      GetDeltasCommand      `cmd:"" help:"Read the delta records of one version."`
	GetIncremental GetIncrementalCommand `cmd:"" help:"Read the deltas between two versions."`
	SetContext     SetContextCommand     `cmd:"" help:"Set a user's filter/sort context and enqueue a projection workflow."`
}

func main() {
	var config Config
	cli.Run(&config, kong.Vars{
		"defaultSchema":      continent.DefaultSchema,
		"defaultRedisURL":    continent.DefaultRedisURL,
		"defaultConcurrency": strconv.Itoa(continent.DefaultConcurrency),
		"defaultQueue":       continent.DefaultQueue,
	}, func(ctx *kong.Context) errors.E {
		return errors.WithStack(ctx.Run(&config.Globals))
	})
}
