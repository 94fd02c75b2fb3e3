package engine

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// CorrelationEngine computes rolling Pearson correlations between two series.
type CorrelationEngine struct {
	logger *slog.Logger
}

// Aligned holds the inner join of two series on timestamp.
type Aligned struct {
	Timestamps []time.Time
	A          []float64
	B          []float64
}

// Len returns the number of shared timestamps.
func (a Aligned) Len() int {
	return len(a.Timestamps)
}

// NewCorrelationEngine constructs a CorrelationEngine.
func NewCorrelationEngine(logger *slog.Logger) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationEngine{logger: logger}
}

// Analyze aligns a and b, slides a window of params.WindowSize points with step 1, and
// returns every window whose |r| reaches params.Threshold, in window start order.
// Windows where either side is constant are skipped. Insufficient overlap yields an empty
// result rather than an error.
func (e *CorrelationEngine) Analyze(pair models.DatasetPair, a, b *models.Series, params models.AnalysisParameters) ([]models.Finding, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.WindowSize > a.Len() || params.WindowSize > b.Len() {
		return nil, utils.ConfigError("engine.Analyze",
			fmt.Sprintf("window size %d exceeds series length (%s=%d, %s=%d)",
				params.WindowSize, pair.A, a.Len(), pair.B, b.Len()), nil)
	}

	aligned := Align(a, b)
	findings := make([]models.Finding, 0)
	if aligned.Len() < params.WindowSize {
		e.logger.Debug("insufficient overlap",
			slog.String("pair", pair.String()),
			slog.Int("aligned", aligned.Len()),
			slog.Int("window", params.WindowSize))
		return findings, nil
	}

	w := params.WindowSize
	skipped := 0
	for start := 0; start+w <= aligned.Len(); start++ {
		r, ok := WindowCorrelation(aligned.A[start:start+w], aligned.B[start:start+w])
		if !ok {
			skipped++
			continue
		}
		if math.Abs(r) < params.Threshold {
			continue
		}
		findings = append(findings, models.Finding{
			Pair:        pair,
			WindowStart: aligned.Timestamps[start],
			WindowEnd:   aligned.Timestamps[start+w-1],
			StartIndex:  start,
			Coefficient: r,
			Parameters:  params,
		})
	}

	if skipped > 0 {
		e.logger.Debug("windows skipped for zero variance",
			slog.String("pair", pair.String()),
			slog.Int("skipped", skipped))
	}
	return findings, nil
}

// Align inner-joins two timestamp-sorted series.
func Align(a, b *models.Series) Aligned {
	capacity := a.Len()
	if b.Len() < capacity {
		capacity = b.Len()
	}
	out := Aligned{
		Timestamps: make([]time.Time, 0, capacity),
		A:          make([]float64, 0, capacity),
		B:          make([]float64, 0, capacity),
	}

	i, j := 0, 0
	for i < a.Len() && j < b.Len() {
		ta, tb := a.Timestamps[i], b.Timestamps[j]
		switch {
		case ta.Before(tb):
			i++
		case tb.Before(ta):
			j++
		default:
			out.Timestamps = append(out.Timestamps, ta)
			out.A = append(out.A, a.Values[i])
			out.B = append(out.B, b.Values[j])
			i++
			j++
		}
	}
	return out
}

// WindowCorrelation returns the Pearson coefficient of x and y. It reports false when the
// coefficient is undefined: either side constant, or a non-finite result.
func WindowCorrelation(x, y []float64) (float64, bool) {
	if len(x) < 2 || len(x) != len(y) {
		return 0, false
	}
	if floats.Min(x) == floats.Max(x) || floats.Min(y) == floats.Max(y) {
		return 0, false
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}
