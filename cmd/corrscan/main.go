package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miradorstack/corrscan/internal/utils"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	// exitPartial means the run completed but at least one pair failed.
	exitPartial = 3
)

// errPartial marks a run in which some pairs failed.
var errPartial = errors.New("one or more pairs failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corrscan: %v\n", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPartial):
		return exitPartial
	case errors.Is(err, utils.ErrConfig):
		return exitConfig
	default:
		return exitFailure
	}
}

// options holds flag values shared by every subcommand.
type options struct {
	configPath   string
	dataDir      string
	columnMap    string
	cacheDir     string
	cacheBackend string
	outputDir    string
	windowSize   int
	threshold    float64
	workers      int
	plot         bool
	merge        bool
	logLevel     string
	jsonLogs     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "corrscan",
		Short: "Find windowed correlations between every pair of datasets",
		Long: `corrscan loads every dataset in a directory, pairs them up, and reports the
sliding windows in which two series correlate at or above a threshold.

Results are cached by content fingerprint, so re-running after editing one file
only recomputes the pairs that involve it.

Examples:
  corrscan run --data-dir data --column-map column_map.json
  corrscan run --window-size 60 --threshold 0.9 --plot
  corrscan pairs --data-dir data
  corrscan serve --config corrscan.yaml
  corrscan watch --data-dir data`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file (or $CORRSCAN_CONFIG)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Directory holding the input datasets")
	flags.StringVar(&opts.columnMap, "column-map", "", "JSON file mapping each dataset to its date and value columns")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "Directory for persisted results")
	flags.StringVar(&opts.cacheBackend, "cache-backend", "", "Result cache backend: fs, badger, memory or none")
	flags.StringVar(&opts.outputDir, "output-dir", "", "Directory for reports and plots")
	flags.IntVar(&opts.windowSize, "window-size", 0, "Sliding window length in aligned points")
	flags.Float64Var(&opts.threshold, "threshold", 0, "Minimum absolute correlation to report")
	flags.IntVar(&opts.workers, "workers", 0, "Worker pool size (0 means one per CPU)")
	flags.BoolVar(&opts.plot, "plot", false, "Render a plot for every pair with findings")
	flags.BoolVar(&opts.merge, "merge", false, "Merge overlapping findings into intervals in the report")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&opts.jsonLogs, "json", false, "Emit JSON logs")

	root.AddCommand(
		newRunCmd(opts),
		newPairsCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
	)

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return utils.ConfigError("cli", "invalid flags", err)
	})
	return root
}
