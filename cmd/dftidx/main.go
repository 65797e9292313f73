// Command dftidx is the CLI front-end for package indexer and package
// reader: it constructs an Indexer or a Reader from flags/env/config and
// drives one operation, then exits. All of this is explicitly external to
// the core per spec.md §6 — the core packages never import kong, logrus,
// or yaml.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dftracer/dftidx/internal/tracelog"
)

// version is overwritten at build time via -ldflags, matching the
// VERSION-variable convention dselans-mmmbop's config package uses.
var version = "0.0.0-dev"

// Globals carries flags and derived state every subcommand's Run needs.
type Globals struct {
	Log            *logrus.Logger
	Sink           tracelog.Sink
	CheckpointSize uint64
}

// CLI is the root kong command tree: one subcommand per core operation the
// spec names (build the index; read a byte range, a line range; inspect
// an index's header/checkpoints), plus shared flags layered config file <
// environment < explicit flag, in that increasing-precedence order.
type CLI struct {
	LogLevel       string `help:"Log level (debug, info, warn, error)." default:"info" env:"DFTIDX_LOG_LEVEL"`
	ConfigFile     string `help:"Path to a YAML config file." type:"path" env:"DFTIDX_CONFIG"`
	CheckpointSize uint64 `help:"Checkpoint interval in uncompressed bytes, used by build." env:"DFTIDX_CHECKPOINT_SIZE"`

	Build   BuildCmd         `cmd:"" help:"Build or rebuild a gzip source's sidecar index."`
	Cat     CatCmd           `cmd:"" help:"Print a half-open byte range [start, end)."`
	Lines   LinesCmd         `cmd:"" help:"Print a 1-based inclusive line range [first, last]."`
	Inspect InspectCmd       `cmd:"" help:"Print an index's header and checkpoint summary."`
	Verify  VerifyCmd        `cmd:"" help:"Cross-check a built index against a sequential decode."`
	Version kong.VersionFlag `help:"Show version and exit." short:"V"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dftidx:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env is not an error: most invocations don't have one.
	_ = godotenv.Load(".env")

	cli := &CLI{ConfigFile: defaultConfigPath()}
	parser, err := kong.New(cli,
		kong.Name("dftidx"),
		kong.Description("Random-access indexer/reader for gzip'd line-oriented JSON trace files."),
		kong.UsageOnError(),
		kong.DefaultEnvars("DFTIDX"),
		kong.Vars{"version": version},
	)
	if err != nil {
		return errors.Wrap(err, "constructing CLI parser")
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing arguments")
	}

	fcfg, err := loadFileConfig(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.LogLevel == "info" && fcfg.LogLevel != "" {
		cli.LogLevel = fcfg.LogLevel
	}
	if cli.CheckpointSize == 0 {
		cli.CheckpointSize = fcfg.CheckpointSize
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cli.LogLevel)
	if err != nil {
		return errors.Wrap(err, "parsing --log-level")
	}
	log.SetLevel(level)

	g := &Globals{
		Log:            log,
		Sink:           tracelog.New(log),
		CheckpointSize: cli.CheckpointSize,
	}

	return kctx.Run(g)
}
