package continent

import (
	"github.com/alecthomas/kong"

	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/zerolog"
)

const (
	// DefaultSchema is the default PostgreSQL schema name.
	DefaultSchema = "continent"
	// DefaultRedisURL is the default Hot Cache connection URL.
	DefaultRedisURL = "redis://127.0.0.1:6379/0"
	// DefaultConcurrency is the default number of concurrent workflow
	// runs the worker drives.
	DefaultConcurrency = 4
	// DefaultQueue is the default task queue name producers enqueue onto
	// and continent-worker's dispatcher drains.
	DefaultQueue = "continent"
	// DefaultListVersionsLimit is list_versions' default limit.
	DefaultListVersionsLimit = 10
	// MaxListVersionsLimit is list_versions' maximum limit.
	MaxListVersionsLimit = 100
)

// PostgresConfig contains configuration for the PostgreSQL connection
// backing the Durable Store (C1).
//
//nolint:lll
type PostgresConfig struct {
	URL    kong.FileContentFlag `env:"URL_PATH"              help:"File with PostgreSQL database URL."                              placeholder:"PATH" required:"" short:"d" yaml:"database"`
	Schema string               `default:"${defaultSchema}"  help:"Name of PostgreSQL schema to use."                               placeholder:"NAME"                       yaml:"schema"`
}

// RedisConfig contains configuration for the Redis connection backing the
// Hot Cache (C2).
//
//nolint:lll
type RedisConfig struct {
	URL string `default:"${defaultRedisURL}" help:"URL of the Redis instance backing the hot cache." placeholder:"URL" short:"r" yaml:"url"`
}

// WorkerConfig contains configuration for the workflow engine's worker
// pool (C3/C5).
//
//nolint:lll
type WorkerConfig struct {
	Concurrency int    `default:"${defaultConcurrency}" help:"Number of ingest/projection workflow runs to drive concurrently." placeholder:"INT"  yaml:"concurrency"`
	Queue       string `default:"${defaultQueue}"        help:"Task queue name to enqueue onto and, for continent-worker, to claim runs from."    placeholder:"NAME" yaml:"queue"`
}

// Globals describes top-level (global) flags.
//
//nolint:lll
type Globals struct {
	zerolog.LoggingConfig `yaml:",inline"`

	Version kong.VersionFlag `help:"Show program's version and exit."                                              short:"V" yaml:"-"`
	Config  cli.ConfigFlag   `help:"Load configuration from a JSON or YAML file." name:"config" placeholder:"PATH" short:"c" yaml:"-"`

	Postgres PostgresConfig `embed:"" envprefix:"POSTGRES_" prefix:"postgres." yaml:"postgres"`
	Redis    RedisConfig    `embed:"" envprefix:"REDIS_"    prefix:"redis."    yaml:"redis"`
	Worker   WorkerConfig   `embed:"" envprefix:"WORKER_"   prefix:"worker."   yaml:"worker"`
}

// Config provides configuration. It is used as configuration for Kong
// command-line parser as well.
type Config struct {
	Globals `yaml:"globals"`

	Serve ServeCommand `cmd:"" default:"withargs" help:"Run the ingest/projection workflow worker. Default command." yaml:"serve"`
}

// ServeCommand contains configuration for the worker-serving command.
type ServeCommand struct{}
