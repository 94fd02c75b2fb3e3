package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/miradorstack/corrscan/internal/api"
	"github.com/miradorstack/corrscan/internal/dataset"
	"github.com/miradorstack/corrscan/internal/pairs"
	"github.com/miradorstack/corrscan/internal/report"
	"github.com/miradorstack/corrscan/internal/utils"
	"github.com/miradorstack/corrscan/internal/watch"
)

func newRunCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyse every pair of datasets once",
		Long: `Analyse every pair of datasets in the data directory and print a summary.

The report is also written to <output-dir>/report-<run id>.json and latest.json.
Exits 3 when the run completed but at least one pair failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.analyze(cmd.Context(), report.WriterSink(cmd.OutOrStdout(), asJSON))
			if err != nil {
				return err
			}
			return partialError(rep)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "report-json", false, "Print the report as JSON instead of a table")
	return cmd
}

func newPairsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pairs",
		Short: "List the dataset pairs a run would analyse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			names, err := dataset.Discover(cfg.Data.Dir)
			if err != nil {
				return utils.ConfigError("cli.pairs", "discover datasets", err)
			}
			list, err := pairs.Pairs(names)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range list {
				fmt.Fprintf(out, "%s\t%s\n", p.A, p.B)
			}
			fmt.Fprintf(out, "%d pairs from %d datasets\n", len(list), len(pairs.Distinct(names)))
			return nil
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Correlator gRPC API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			if _, err := a.workspace.Refresh(ctx); err != nil {
				a.logger.Warn("initial dataset refresh failed", slog.Any("error", err))
			}

			server, err := api.NewServer(a.cfg.Server, a.service(), a.logger)
			if err != nil {
				return fmt.Errorf("create gRPC server: %w", err)
			}
			stopMetrics := a.startMetrics(stop)
			defer stopMetrics()

			a.logger.Info("starting corrscan", slog.String("address", server.Address()))
			go func() {
				if serveErr := server.Start(); serveErr != nil {
					a.logger.Error("gRPC server exited", slog.Any("error", serveErr))
					stop()
				}
			}()

			<-ctx.Done()
			a.logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
			defer cancel()
			server.Shutdown(shutdownCtx)
			a.logger.Info("corrscan stopped")
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run the analysis whenever a dataset or the column map changes",
		Long: `Run once, then watch the data directory and the column map's directory.
Edited datasets are re-read; pairs whose inputs did not change are served from
the result cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			stopMetrics := a.startMetrics(stop)
			defer stopMetrics()

			console := report.WriterSink(cmd.OutOrStdout(), false)
			rerun := func(ctx context.Context) {
				if _, err := a.analyze(ctx, console); err != nil {
					a.logger.Error("analysis failed", slog.Any("error", err), slog.String("kind", utils.KindOf(err)))
				}
			}
			rerun(ctx)

			watcher, err := watch.New(func(ctx context.Context, changed []string) {
				a.logger.Info("inputs changed", slog.Any("files", changed))
				a.workspace.Invalidate(changed)
				rerun(ctx)
			}, watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Include:  watchedInput(a.cfg.Data.ColumnMap),
				Logger:   a.logger,
			}, a.cfg.Data.Dir, filepath.Dir(a.cfg.Data.ColumnMap))
			if err != nil {
				return err
			}
			return watcher.Run(ctx)
		},
	}
}

// watchedInput accepts dataset files and the column map file.
func watchedInput(columnMap string) func(string) bool {
	mapName := filepath.Base(columnMap)
	return func(name string) bool {
		if name == mapName {
			return true
		}
		_, ok := dataset.FormatOf(name)
		return ok
	}
}
