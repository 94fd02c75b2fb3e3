package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/corrscan/internal/cache"
	"github.com/miradorstack/corrscan/internal/metrics"
	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/pairs"
	"github.com/miradorstack/corrscan/internal/utils"
)

// SeriesStore defines the dataset store behaviour used by the runner.
type SeriesStore interface {
	Registered(name string) bool
	GetSeries(name string) (*models.Series, error)
}

// Observer is notified after each pair completes. It is called from worker goroutines
// and must be safe for concurrent use.
type Observer func(ctx context.Context, result models.PairResult, a, b *models.Series)

// Runner fans pair analyses out over a bounded worker pool.
type Runner struct {
	logger   *slog.Logger
	store    SeriesStore
	results  *cache.ResultCache
	engine   *CorrelationEngine
	workers  int
	observer Observer
}

// NewRunner constructs a Runner. workers <= 0 means GOMAXPROCS; a nil result cache disables
// persistence; a nil engine gets a default one.
func NewRunner(logger *slog.Logger, store SeriesStore, results *cache.ResultCache, engine *CorrelationEngine, workers int) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if results == nil {
		results = cache.NewResultCache(nil, 0, logger)
	}
	if engine == nil {
		engine = NewCorrelationEngine(logger)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{
		logger:  logger,
		store:   store,
		results: results,
		engine:  engine,
		workers: workers,
	}
}

// WithObserver installs a per-pair completion hook and returns the runner.
func (r *Runner) WithObserver(observer Observer) *Runner {
	r.observer = observer
	return r
}

// Workers returns the pool size.
func (r *Runner) Workers() int {
	return r.workers
}

// Run analyses every pair of names. Invalid parameters, fewer than two datasets, or an
// unregistered name fail the whole run before any work starts. After that, each pair
// succeeds or fails on its own and the returned RunResult holds one entry per pair.
// Cancelling ctx marks pairs that have not started as failed.
func (r *Runner) Run(ctx context.Context, names []string, params models.AnalysisParameters) (*models.RunResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	pairList, err := pairs.Pairs(names)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, name := range pairs.Distinct(names) {
		if !r.store.Registered(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, utils.ConfigError("engine.Run", fmt.Sprintf("datasets not registered: %v", unknown), nil)
	}

	run := &models.RunResult{
		ID:         uuid.NewString(),
		Parameters: params,
		StartedAt:  time.Now().UTC(),
		Results:    make(map[models.DatasetPair]models.PairResult, len(pairList)),
	}
	logger := r.logger.With(slog.String("run_id", run.ID))
	logger.Info("analysis started",
		slog.Int("datasets", len(pairs.Distinct(names))),
		slog.Int("pairs", len(pairList)),
		slog.Int("workers", r.workers),
		slog.Int("window_size", params.WindowSize),
		slog.Float64("threshold", params.Threshold))

	collected := make([]models.PairResult, len(pairList))
	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i, pair := range pairList {
		i, pair := i, pair
		g.Go(func() error {
			collected[i] = r.analyzePair(ctx, logger, pair, params)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range collected {
		run.Results[res.Pair] = res
	}
	run.Duration = time.Since(run.StartedAt)

	logger.Info("analysis finished",
		slog.Int("succeeded", len(run.Succeeded())),
		slog.Int("failed", len(run.Failed())),
		slog.Int("findings", run.FindingCount()),
		slog.Duration("duration", run.Duration))
	return run, nil
}

func (r *Runner) analyzePair(ctx context.Context, logger *slog.Logger, pair models.DatasetPair, params models.AnalysisParameters) models.PairResult {
	start := time.Now()
	res := models.PairResult{Pair: pair}
	var a, b *models.Series

	defer func() {
		res.Duration = time.Since(start)
		outcome := metrics.OutcomeSuccess
		if res.Err != nil {
			outcome = metrics.OutcomeError
			logger.Warn("pair failed",
				slog.String("pair", pair.String()),
				slog.String("kind", utils.KindOf(res.Err)),
				slog.Any("error", res.Err))
		}
		metrics.ObservePair(res.Duration, outcome, len(res.Findings))
		if r.observer != nil {
			r.observer(ctx, res, a, b)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var err error
	if a, err = r.store.GetSeries(pair.A); err != nil {
		res.Err = err
		return res
	}
	if b, err = r.store.GetSeries(pair.B); err != nil {
		res.Err = err
		return res
	}

	findings, hit, err := r.results.GetOrCompute(ctx, pair, a, b, params, func() ([]models.Finding, error) {
		return r.engine.Analyze(pair, a, b, params)
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.Findings = findings
	res.CacheHit = hit
	logger.Debug("pair analysed",
		slog.String("pair", pair.String()),
		slog.Int("findings", len(findings)),
		slog.Bool("cache_hit", hit))
	return res
}
