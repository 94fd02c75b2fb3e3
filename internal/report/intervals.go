package report

import (
	"math"
	"time"

	"github.com/miradorstack/corrscan/internal/models"
)

// Interval is a run of overlapping same-sign findings of one pair.
type Interval struct {
	Pair            models.DatasetPair `json:"pair"`
	Start           time.Time          `json:"start"`
	End             time.Time          `json:"end"`
	Windows         int                `json:"windows"`
	PeakCoefficient float64            `json:"peakCoefficient"`
}

// MergeIntervals collapses findings whose windows overlap and whose coefficients share a
// sign. Findings must belong to one pair and be in window start order, as the engine
// returns them. The findings themselves are left untouched.
func MergeIntervals(findings []models.Finding) []Interval {
	var out []Interval
	for _, f := range findings {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if !f.WindowStart.After(last.End) && sameSign(f.Coefficient, last.PeakCoefficient) {
				if f.WindowEnd.After(last.End) {
					last.End = f.WindowEnd
				}
				last.Windows++
				if math.Abs(f.Coefficient) > math.Abs(last.PeakCoefficient) {
					last.PeakCoefficient = f.Coefficient
				}
				continue
			}
		}
		out = append(out, Interval{
			Pair:            f.Pair,
			Start:           f.WindowStart,
			End:             f.WindowEnd,
			Windows:         1,
			PeakCoefficient: f.Coefficient,
		})
	}
	return out
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}
