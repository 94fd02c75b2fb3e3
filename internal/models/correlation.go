package models

import (
	"math"
	"sort"
	"time"

	"github.com/miradorstack/corrscan/internal/utils"
)

const (
	// DefaultWindowSize is the rolling window length in aligned samples.
	DefaultWindowSize = 30
	// DefaultThreshold is the minimum absolute coefficient reported.
	DefaultThreshold = 0.7
)

// DatasetPair is an unordered pair of distinct datasets, stored with A < B.
type DatasetPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewPair returns the canonical ordering of x and y.
func NewPair(x, y string) DatasetPair {
	if y < x {
		x, y = y, x
	}
	return DatasetPair{A: x, B: y}
}

// String renders the pair as "a|b".
func (p DatasetPair) String() string {
	return p.A + "|" + p.B
}

// Less orders pairs lexicographically by (A, B).
func (p DatasetPair) Less(o DatasetPair) bool {
	if p.A != o.A {
		return p.A < o.A
	}
	return p.B < o.B
}

// AnalysisParameters control one analysis run.
type AnalysisParameters struct {
	WindowSize int     `json:"windowSize"`
	Threshold  float64 `json:"threshold"`
}

// DefaultParameters returns window 30, threshold 0.7.
func DefaultParameters() AnalysisParameters {
	return AnalysisParameters{WindowSize: DefaultWindowSize, Threshold: DefaultThreshold}
}

// Validate checks the series-independent constraints.
func (p AnalysisParameters) Validate() error {
	if p.WindowSize <= 0 {
		return utils.ConfigError("parameters", "window size must be positive", nil)
	}
	if math.IsNaN(p.Threshold) || p.Threshold < -1 || p.Threshold > 1 {
		return utils.ConfigError("parameters", "threshold must be within [-1, 1]", nil)
	}
	return nil
}

// Finding is one above-threshold window of one pair.
type Finding struct {
	Pair        DatasetPair        `json:"pair"`
	WindowStart time.Time          `json:"windowStart"`
	WindowEnd   time.Time          `json:"windowEnd"`
	StartIndex  int                `json:"startIndex"`
	Coefficient float64            `json:"coefficient"`
	Parameters  AnalysisParameters `json:"parameters"`
}

// PairResult is the outcome of analysing one pair. Err is nil on success, in which case
// Findings may legitimately be empty.
type PairResult struct {
	Pair     DatasetPair
	Findings []Finding
	Err      error
	CacheHit bool
	Duration time.Duration
}

// OK reports whether the pair was analysed successfully.
func (r PairResult) OK() bool {
	return r.Err == nil
}

// RunResult aggregates every pair of one run.
type RunResult struct {
	ID         string
	Parameters AnalysisParameters
	StartedAt  time.Time
	Duration   time.Duration
	Results    map[DatasetPair]PairResult
}

// Pairs returns the result keys in lexicographic order.
func (r *RunResult) Pairs() []DatasetPair {
	pairs := make([]DatasetPair, 0, len(r.Results))
	for pair := range r.Results {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
	return pairs
}

// Succeeded returns successful pair results in pair order.
func (r *RunResult) Succeeded() []PairResult {
	out := make([]PairResult, 0, len(r.Results))
	for _, pair := range r.Pairs() {
		if res := r.Results[pair]; res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns failed pair results in pair order.
func (r *RunResult) Failed() []PairResult {
	out := make([]PairResult, 0)
	for _, pair := range r.Pairs() {
		if res := r.Results[pair]; !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// FindingCount totals findings across successful pairs.
func (r *RunResult) FindingCount() int {
	total := 0
	for _, res := range r.Results {
		total += len(res.Findings)
	}
	return total
}
