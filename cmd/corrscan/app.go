package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/corrscan/internal/cache"
	"github.com/miradorstack/corrscan/internal/config"
	"github.com/miradorstack/corrscan/internal/dataset"
	"github.com/miradorstack/corrscan/internal/engine"
	"github.com/miradorstack/corrscan/internal/metrics"
	"github.com/miradorstack/corrscan/internal/plot"
	"github.com/miradorstack/corrscan/internal/report"
	"github.com/miradorstack/corrscan/internal/services"
	"github.com/miradorstack/corrscan/internal/utils"
)

// app bundles the components every subcommand shares.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	provider  cache.Provider
	workspace *services.Workspace
	runner    *engine.Runner
	sink      report.Sink
}

// loadConfig reads the config file, then applies any flag the user set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("data-dir") {
		cfg.Data.Dir = opts.dataDir
	}
	if changed("column-map") {
		cfg.Data.ColumnMap = opts.columnMap
	}
	if changed("cache-dir") {
		cfg.Cache.Dir = opts.cacheDir
	}
	if changed("cache-backend") {
		cfg.Cache.Backend = opts.cacheBackend
	}
	if changed("output-dir") {
		cfg.Output.Dir = opts.outputDir
	}
	if changed("window-size") {
		cfg.Analysis.WindowSize = opts.windowSize
	}
	if changed("threshold") {
		cfg.Analysis.Threshold = opts.threshold
	}
	if changed("workers") {
		cfg.Analysis.Workers = opts.workers
	}
	if changed("plot") {
		cfg.Output.Plot = opts.plot
	}
	if changed("merge") {
		cfg.Output.Merge = opts.merge
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("json") {
		cfg.Logging.JSON = opts.jsonLogs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires the dataset store, result cache, runner and report sink from cfg.
func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.JSON)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	provider, err := cache.Open(cache.Options{
		Backend: cache.Backend(cfg.Cache.Backend),
		Dir:     cfg.Cache.Dir,
		Logger:  logger,
	})
	if err != nil {
		return nil, utils.ConfigError("cli", "open result cache", err)
	}

	store := dataset.NewStore(dataset.DirSource{Dir: cfg.Data.Dir}, logger)
	runner := engine.NewRunner(
		logger,
		store,
		cache.NewResultCache(provider, cfg.Cache.TTL, logger),
		engine.NewCorrelationEngine(logger),
		cfg.Analysis.Workers,
	)
	if cfg.Output.Plot {
		runner.WithObserver(plot.NewRenderer(cfg.Output.Dir, logger).Observe)
	}

	var sink report.Sink
	if cfg.Output.Dir != "" {
		sink = report.DirSink{Dir: cfg.Output.Dir}
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		workspace: services.NewWorkspace(cfg.Data.Dir, cfg.Data.ColumnMap, store, logger),
		runner:    runner,
		sink:      sink,
	}, nil
}

func (a *app) Close() {
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("close result cache", slog.Any("error", err))
	}
}

// analyze refreshes the workspace, runs every pair of the registered datasets, and
// hands the report to the output directory and to console.
func (a *app) analyze(ctx context.Context, console report.Sink) (*report.Report, error) {
	names, err := a.workspace.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	run, err := a.runner.Run(ctx, names, a.cfg.Parameters())
	if err != nil {
		return nil, err
	}
	sinks := report.MultiSink{a.sink, console}
	return report.NewBuilder(a.logger, sinks, a.cfg.Output.Merge).Build(ctx, run), nil
}

// service builds the gRPC facade over the app's workspace and runner.
func (a *app) service() *services.CorrelationService {
	return services.NewCorrelationService(a.logger, a.runner, a.workspace.Store(), a.workspace, a.sink, a.cfg.Parameters())
}

// startMetrics serves /metrics when an address is configured. The returned function
// shuts the server down.
func (a *app) startMetrics(onFailure func()) func() {
	addr := a.cfg.Server.MetricsAddress
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server listening", slog.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server exited", slog.Any("error", err))
			onFailure()
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
}

func partialError(rep *report.Report) error {
	if rep.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errPartial, rep.Failed, rep.Failed+rep.Succeeded)
	}
	return nil
}
