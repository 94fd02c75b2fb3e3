package api

import (
	"fmt"
	"time"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/report"
	"github.com/miradorstack/corrscan/internal/utils"
)

// AnalyzeRequest asks the server to analyse every pair of Datasets. An empty Datasets
// list means every registered dataset; zero WindowSize and nil Threshold mean the
// server defaults.
type AnalyzeRequest struct {
	Datasets   []string `json:"datasets,omitempty"`
	WindowSize int      `json:"windowSize,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Merge      bool     `json:"merge,omitempty"`
}

// PairOutcome carries one pair's findings or failure.
type PairOutcome struct {
	Pair       models.DatasetPair `json:"pair"`
	Findings   []models.Finding   `json:"findings"`
	CacheHit   bool               `json:"cacheHit"`
	DurationMs float64            `json:"durationMs"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"errorKind,omitempty"`
}

// AnalyzeResponse is the result of one run.
type AnalyzeResponse struct {
	RunID      string                    `json:"runId"`
	Parameters models.AnalysisParameters `json:"parameters"`
	Results    []PairOutcome             `json:"results"`
	Report     *report.Report            `json:"report"`
}

// ListPairsRequest enumerates pairs of Datasets, or of every registered dataset.
type ListPairsRequest struct {
	Datasets []string `json:"datasets,omitempty"`
}

// ListPairsResponse lists pairs in lexicographic order.
type ListPairsResponse struct {
	Pairs []models.DatasetPair `json:"pairs"`
	Count int                  `json:"count"`
}

// ListDatasetsRequest lists registered datasets; Load also normalizes each one.
type ListDatasetsRequest struct {
	Load bool `json:"load,omitempty"`
}

// DatasetInfo describes one registered dataset.
type DatasetInfo struct {
	Name        string               `json:"name"`
	Mapping     models.ColumnMapping `json:"mapping"`
	Points      int                  `json:"points,omitempty"`
	DroppedRows int                  `json:"droppedRows,omitempty"`
	Start       time.Time            `json:"start,omitzero"`
	End         time.Time            `json:"end,omitzero"`
	Fingerprint string               `json:"fingerprint,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorKind   string               `json:"errorKind,omitempty"`
}

// ListDatasetsResponse lists datasets in name order.
type ListDatasetsResponse struct {
	Datasets []DatasetInfo `json:"datasets"`
}

// FromAnalyzeRequest resolves request parameters against defaults and validates them.
func FromAnalyzeRequest(req *AnalyzeRequest, defaults models.AnalysisParameters) (models.AnalysisParameters, error) {
	if req == nil {
		return models.AnalysisParameters{}, fmt.Errorf("request is nil")
	}
	params := defaults
	if req.WindowSize != 0 {
		params.WindowSize = req.WindowSize
	}
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}
	if err := params.Validate(); err != nil {
		return models.AnalysisParameters{}, err
	}
	return params, nil
}

// ToAnalyzeResponse converts a run and its report into the wire shape.
func ToAnalyzeResponse(run *models.RunResult, rep *report.Report) *AnalyzeResponse {
	resp := &AnalyzeResponse{
		RunID:      run.ID,
		Parameters: run.Parameters,
		Results:    make([]PairOutcome, 0, len(run.Results)),
		Report:     rep,
	}
	for _, pair := range run.Pairs() {
		res := run.Results[pair]
		out := PairOutcome{
			Pair:       pair,
			Findings:   res.Findings,
			CacheHit:   res.CacheHit,
			DurationMs: float64(res.Duration) / float64(time.Millisecond),
		}
		if out.Findings == nil {
			out.Findings = []models.Finding{}
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
			out.ErrorKind = utils.KindOf(res.Err)
		}
		resp.Results = append(resp.Results, out)
	}
	return resp
}

// ToDatasetInfo describes a dataset, including its series when one was loaded.
func ToDatasetInfo(name string, mapping models.ColumnMapping, series *models.Series, loadErr error) DatasetInfo {
	info := DatasetInfo{Name: name, Mapping: mapping}
	if loadErr != nil {
		info.Error = loadErr.Error()
		info.ErrorKind = utils.KindOf(loadErr)
		return info
	}
	if series != nil {
		info.Points = series.Len()
		info.DroppedRows = series.DroppedRows
		info.Start, info.End = series.Span()
		info.Fingerprint = series.Fingerprint
	}
	return info
}
