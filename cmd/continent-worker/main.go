// Command continent-worker is the command-line interface for the ingest
// and projection workflow worker.
package main

import (
	"strconv"

	"github.com/alecthomas/kong"

	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent"
)

func main() {
	var config continent.Config
	cli.Run(&config, kong.Vars{
		"defaultSchema":      continent.DefaultSchema,
		"defaultRedisURL":    continent.DefaultRedisURL,
		"defaultConcurrency": strconv.Itoa(continent.DefaultConcurrency),
		"defaultQueue":       continent.DefaultQueue,
	}, func(ctx *kong.Context) errors.E {
		return errors.WithStack(ctx.Run(&config.Globals))
	})
}
