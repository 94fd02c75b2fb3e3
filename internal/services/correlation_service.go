package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/corrscan/internal/api"
	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/pairs"
	"github.com/miradorstack/corrscan/internal/report"
	"github.com/miradorstack/corrscan/internal/utils"
)

// Analyzer runs a correlation analysis over a set of datasets.
type Analyzer interface {
	Run(ctx context.Context, names []string, params models.AnalysisParameters) (*models.RunResult, error)
}

// Registry exposes registered datasets.
type Registry interface {
	Names() []string
	Mapping(name string) (models.ColumnMapping, bool)
	GetSeries(name string) (*models.Series, error)
}

// Refresher re-reads the dataset directory before a request is served.
type Refresher interface {
	Refresh(ctx context.Context) ([]string, error)
}

// CorrelationService implements the gRPC Correlator service.
type CorrelationService struct {
	api.UnimplementedCorrelatorServer

	logger    *slog.Logger
	analyzer  Analyzer
	registry  Registry
	refresher Refresher
	sink      report.Sink
	defaults  models.AnalysisParameters
	latencies *utils.LatencyTracker
}

// NewCorrelationService constructs the service facade. refresher and sink may be nil.
func NewCorrelationService(logger *slog.Logger, analyzer Analyzer, registry Registry, refresher Refresher, sink report.Sink, defaults models.AnalysisParameters) *CorrelationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationService{
		logger:    logger,
		analyzer:  analyzer,
		registry:  registry,
		refresher: refresher,
		sink:      sink,
		defaults:  defaults,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs every pair of the requested datasets.
func (s *CorrelationService) Analyze(ctx context.Context, req *api.AnalyzeRequest) (*api.AnalyzeResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.analyzer == nil || s.registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}

	params, err := api.FromAnalyzeRequest(req, s.defaults)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	names := req.Datasets
	if len(names) == 0 {
		names = s.registry.Names()
	}

	s.logger.Debug("Analyze called", slog.Int("datasets", len(names)), slog.Int("window_size", params.WindowSize))

	start := time.Now()
	run, err := s.analyzer.Run(ctx, names, params)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("analysis failed", slog.Any("error", err))
		return nil, toStatus(err, "analysis failed")
	}
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	rep := report.NewBuilder(s.logger, s.sink, req.Merge).Build(ctx, run)
	return api.ToAnalyzeResponse(run, rep), nil
}

// ListPairs enumerates the pairs a run over the requested datasets would analyse.
func (s *CorrelationService) ListPairs(ctx context.Context, req *api.ListPairsRequest) (*api.ListPairsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	names := req.Datasets
	if len(names) == 0 {
		if s.registry == nil {
			return nil, status.Error(codes.FailedPrecondition, "registry not configured")
		}
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
		names = s.registry.Names()
	}

	list, err := pairs.Pairs(names)
	if err != nil {
		return nil, toStatus(err, "enumerate pairs")
	}
	return &api.ListPairsResponse{Pairs: list, Count: len(list)}, nil
}

// ListDatasets lists registered datasets, optionally loading each one.
func (s *CorrelationService) ListDatasets(ctx context.Context, req *api.ListDatasetsRequest) (*api.ListDatasetsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "registry not configured")
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	resp := &api.ListDatasetsResponse{Datasets: []api.DatasetInfo{}}
	for _, name := range s.registry.Names() {
		mapping, ok := s.registry.Mapping(name)
		if !ok {
			continue
		}
		var (
			series  *models.Series
			loadErr error
		)
		if req.Load {
			series, loadErr = s.registry.GetSeries(name)
		}
		resp.Datasets = append(resp.Datasets, api.ToDatasetInfo(name, mapping, series, loadErr))
	}
	return resp, nil
}

func (s *CorrelationService) refresh(ctx context.Context) error {
	if s.refresher == nil {
		return nil
	}
	if _, err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn("dataset refresh failed", slog.Any("error", err))
		return toStatus(err, "refresh datasets")
	}
	return nil
}

func toStatus(err error, msg string) error {
	switch {
	case errors.Is(err, utils.ErrConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, utils.ErrSchema), errors.Is(err, utils.ErrLoad):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("%s: %v", msg, err))
	}
}
