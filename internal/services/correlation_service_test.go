package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/corrscan/internal/api"
	"github.com/miradorstack/corrscan/internal/cache"
	"github.com/miradorstack/corrscan/internal/dataset"
	"github.com/miradorstack/corrscan/internal/engine"
	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/report"
	"github.com/miradorstack/corrscan/internal/utils"
)

type analyzerStub struct {
	run   *models.RunResult
	err   error
	calls int
	names []string
}

func (a *analyzerStub) Run(_ context.Context, names []string, params models.AnalysisParameters) (*models.RunResult, error) {
	a.calls++
	a.names = names
	if a.err != nil {
		return nil, a.err
	}
	if a.run != nil {
		return a.run, nil
	}
	return &models.RunResult{ID: "run-stub", Parameters: params, Results: map[models.DatasetPair]models.PairResult{}}, nil
}

type registryStub struct {
	names    []string
	mappings map[string]models.ColumnMapping
	series   map[string]*models.Series
}

func (r *registryStub) Names() []string { return r.names }

func (r *registryStub) Mapping(name string) (models.ColumnMapping, bool) {
	m, ok := r.mappings[name]
	return m, ok
}

func (r *registryStub) GetSeries(name string) (*models.Series, error) {
	if s, ok := r.series[name]; ok {
		return s, nil
	}
	return nil, utils.SchemaError("stub.GetSeries", name+": missing column", nil)
}

func writeWorkspace(t *testing.T, files map[string]string, columnMap string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	mapPath := filepath.Join(t.TempDir(), "column_map.json")
	if err := os.WriteFile(mapPath, []byte(columnMap), 0o644); err != nil {
		t.Fatalf("write column map: %v", err)
	}
	return dir, mapPath
}

func rampCSV(points int, scale float64) string {
	var b strings.Builder
	b.WriteString("date,value\n")
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < points; i++ {
		fmt.Fprintf(&b, "%s,%g\n", start.AddDate(0, 0, i).Format("2006-01-02"), float64(i)*scale)
	}
	return b.String()
}

func TestAnalyzeEndToEnd(t *testing.T) {
	dir, mapPath := writeWorkspace(t, map[string]string{
		"a.csv": rampCSV(40, 1),
		"b.csv": rampCSV(40, 2),
	}, `{"a.csv": ["date", "value"], "b.csv": {"dateColumn": "date", "valueColumn": "value"}}`)

	store := dataset.NewStore(dataset.DirSource{Dir: dir}, nil)
	ws := NewWorkspace(dir, mapPath, store, nil)
	runner := engine.NewRunner(nil, store, cache.NewResultCache(cache.NewMemoryProvider(), 0, nil), nil, 2)
	svc := NewCorrelationService(nil, runner, store, ws, nil, models.AnalysisParameters{WindowSize: 10, Threshold: 0.9})

	resp, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected one pair, got %d", len(resp.Results))
	}
	if got := len(resp.Results[0].Findings); got != 31 {
		t.Fatalf("expected 31 findings, got %d", got)
	}
	if resp.Report == nil || resp.Report.Findings != 31 {
		t.Fatalf("expected report to summarise findings, got %+v", resp.Report)
	}

	again, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{})
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if !again.Results[0].CacheHit {
		t.Fatalf("expected second run to hit the result cache")
	}
}

func TestAnalyzePicksUpEditedDataset(t *testing.T) {
	dir, mapPath := writeWorkspace(t, map[string]string{
		"a.csv": rampCSV(40, 1),
		"b.csv": rampCSV(40, 1),
	}, `{"a.csv": ["date", "value"], "b.csv": ["date", "value"]}`)

	store := dataset.NewStore(dataset.DirSource{Dir: dir}, nil)
	ws := NewWorkspace(dir, mapPath, store, nil)
	runner := engine.NewRunner(nil, store, cache.NewResultCache(cache.NewMemoryProvider(), 0, nil), nil, 2)
	svc := NewCorrelationService(nil, runner, store, ws, nil, models.AnalysisParameters{WindowSize: 10, Threshold: 0.9})

	before, err := svc.ListDatasets(context.Background(), &api.ListDatasetsRequest{Load: true})
	if err != nil {
		t.Fatalf("list datasets: %v", err)
	}
	first, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{})
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if got := first.Results[0].Findings[0].Coefficient; got < 0.999 {
		t.Fatalf("expected r=1 before the edit, got %v", got)
	}

	path := filepath.Join(dir, "a.csv")
	if err := os.WriteFile(path, []byte(rampCSV(40, -1)), 0o644); err != nil {
		t.Fatalf("rewrite a.csv: %v", err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch a.csv: %v", err)
	}

	after, err := svc.ListDatasets(context.Background(), &api.ListDatasetsRequest{Load: true})
	if err != nil {
		t.Fatalf("list datasets: %v", err)
	}
	if before.Datasets[0].Fingerprint == after.Datasets[0].Fingerprint {
		t.Fatalf("expected a.csv fingerprint to change after the edit")
	}

	second, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{})
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	res := second.Results[0]
	if res.CacheHit {
		t.Fatalf("edited dataset must not be served from the result cache")
	}
	if len(res.Findings) == 0 || res.Findings[0].Coefficient > -0.999 {
		t.Fatalf("expected r=-1 after the edit, got %+v", res.Findings)
	}
}

func TestAnalyzeWritesReportToSink(t *testing.T) {
	var written *report.Report
	sink := report.SinkFunc(func(_ context.Context, rep *report.Report) error {
		written = rep
		return nil
	})
	analyzer := &analyzerStub{}
	registry := &registryStub{names: []string{"a.csv", "b.csv"}}
	svc := NewCorrelationService(nil, analyzer, registry, nil, sink, models.DefaultParameters())

	if _, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if written == nil || written.RunID != "run-stub" {
		t.Fatalf("expected sink to receive the report, got %+v", written)
	}
	if len(analyzer.names) != 2 {
		t.Fatalf("expected registered names to be used, got %v", analyzer.names)
	}
}

func TestAnalyzeStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"config", utils.ConfigError("op", "unregistered", nil), codes.InvalidArgument},
		{"schema", utils.SchemaError("op", "missing column", nil), codes.FailedPrecondition},
		{"load", utils.LoadError("op", "read", nil), codes.FailedPrecondition},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewCorrelationService(nil, &analyzerStub{err: tc.err}, &registryStub{}, nil, nil, models.DefaultParameters())
			_, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{Datasets: []string{"a.csv", "b.csv"}})
			if status.Code(err) != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAnalyzeRejectsInvalidRequests(t *testing.T) {
	analyzer := &analyzerStub{}
	svc := NewCorrelationService(nil, analyzer, &registryStub{}, nil, nil, models.DefaultParameters())

	if _, err := svc.Analyze(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for nil request, got %v", err)
	}
	bad := -2.0
	if _, err := svc.Analyze(context.Background(), &api.AnalyzeRequest{Threshold: &bad}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for bad threshold, got %v", err)
	}
	if analyzer.calls != 0 {
		t.Fatalf("analyzer should not run for invalid requests")
	}

	unconfigured := NewCorrelationService(nil, nil, nil, nil, nil, models.DefaultParameters())
	if _, err := unconfigured.Analyze(context.Background(), &api.AnalyzeRequest{}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestListPairs(t *testing.T) {
	registry := &registryStub{names: []string{"c.csv", "a.csv", "b.csv"}}
	svc := NewCorrelationService(nil, &analyzerStub{}, registry, nil, nil, models.DefaultParameters())

	resp, err := svc.ListPairs(context.Background(), &api.ListPairsRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Count != 3 || resp.Pairs[0] != models.NewPair("a.csv", "b.csv") || resp.Pairs[2] != models.NewPair("b.csv", "c.csv") {
		t.Fatalf("unexpected pairs %+v", resp)
	}

	_, err = svc.ListPairs(context.Background(), &api.ListPairsRequest{Datasets: []string{"a.csv", "a.csv"}})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for a single distinct dataset, got %v", err)
	}
}

func TestListDatasets(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := &registryStub{
		names: []string{"a.csv", "b.csv"},
		mappings: map[string]models.ColumnMapping{
			"a.csv": {DateColumn: "date", ValueColumn: "value"},
			"b.csv": {DateColumn: "date", ValueColumn: "value"},
		},
		series: map[string]*models.Series{
			"a.csv": {Timestamps: []time.Time{start, start.AddDate(0, 0, 1)}, Values: []float64{1, 2}},
		},
	}
	svc := NewCorrelationService(nil, &analyzerStub{}, registry, nil, nil, models.DefaultParameters())

	resp, err := svc.ListDatasets(context.Background(), &api.ListDatasetsRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Datasets) != 2 || resp.Datasets[0].Points != 0 {
		t.Fatalf("expected unloaded listing, got %+v", resp.Datasets)
	}

	resp, err = svc.ListDatasets(context.Background(), &api.ListDatasetsRequest{Load: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Datasets[0].Points != 2 {
		t.Fatalf("expected loaded series, got %+v", resp.Datasets[0])
	}
	if resp.Datasets[1].ErrorKind != "schema" {
		t.Fatalf("expected per-dataset schema error, got %+v", resp.Datasets[1])
	}
}

func TestWorkspaceRefresh(t *testing.T) {
	dir, mapPath := writeWorkspace(t, map[string]string{
		"a.csv":     rampCSV(5, 1),
		"b.json":    `[{"date": "2021-01-01", "value": 1}]`,
		"notes.txt": "ignored",
	}, `{"a.csv": ["date", "value"], "b.json": ["date", "value"]}`)

	store := dataset.NewStore(dataset.DirSource{Dir: dir}, nil)
	ws := NewWorkspace(dir, mapPath, store, nil)

	names, err := ws.Refresh(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(names) != 2 || !store.Registered("a.csv") || !store.Registered("b.json") {
		t.Fatalf("unexpected registration %v", names)
	}

	if err := os.Remove(filepath.Join(dir, "b.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := ws.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after removal: %v", err)
	}
	if store.Registered("b.json") {
		t.Fatalf("expected removed dataset to be pruned")
	}

	if err := os.WriteFile(filepath.Join(dir, "c.csv"), []byte(rampCSV(3, 1)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ws.Refresh(context.Background()); !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error for unmapped dataset, got %v", err)
	}
}

func TestWorkspaceRefreshMissingDir(t *testing.T) {
	store := dataset.NewStore(dataset.DirSource{Dir: "missing"}, nil)
	ws := NewWorkspace(filepath.Join(t.TempDir(), "missing"), "column_map.json", store, nil)
	if _, err := ws.Refresh(context.Background()); !errors.Is(err, utils.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ws.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
