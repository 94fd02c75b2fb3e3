package report

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// PairSummary condenses one pair's outcome.
type PairSummary struct {
	Pair            models.DatasetPair `json:"pair"`
	Findings        int                `json:"findings"`
	PeakCoefficient float64            `json:"peakCoefficient"`
	PeakWindowStart time.Time          `json:"peakWindowStart,omitzero"`
	PeakWindowEnd   time.Time          `json:"peakWindowEnd,omitzero"`
	CacheHit        bool               `json:"cacheHit"`
	Error           string             `json:"error,omitempty"`
	ErrorKind       string             `json:"errorKind,omitempty"`
}

// Hotspot ranks a dataset by how often it participates in correlated pairs.
type Hotspot struct {
	Dataset     string   `json:"dataset"`
	Pairs       int      `json:"pairs"`
	Findings    int      `json:"findings"`
	Prevalence  float64  `json:"prevalence"`
	TopPartners []string `json:"topPartners"`
}

// Report is the presentation view of a run.
type Report struct {
	RunID      string                    `json:"runId"`
	Parameters models.AnalysisParameters `json:"parameters"`
	StartedAt  time.Time                 `json:"startedAt"`
	Duration   time.Duration             `json:"duration"`
	Pairs      []PairSummary             `json:"pairs"`
	Hotspots   []Hotspot                 `json:"hotspots"`
	Intervals  []Interval                `json:"intervals,omitempty"`
	Succeeded  int                       `json:"succeeded"`
	Failed     int                       `json:"failed"`
	Findings   int                       `json:"findings"`
}

// Builder turns run results into reports and hands them to an optional Sink.
type Builder struct {
	sink   Sink
	logger *slog.Logger
	merge  bool
}

// NewBuilder constructs a Builder; sink may be nil for dry runs. When merge is set the
// report also carries merged intervals.
func NewBuilder(logger *slog.Logger, sink Sink, merge bool) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{sink: sink, logger: logger, merge: merge}
}

// Build summarises run. Sink failures are logged, not returned.
func (b *Builder) Build(ctx context.Context, run *models.RunResult) *Report {
	rep := &Report{
		RunID:      run.ID,
		Parameters: run.Parameters,
		StartedAt:  run.StartedAt,
		Duration:   run.Duration,
		Pairs:      Summarize(run),
		Hotspots:   Hotspots(run, 3),
		Succeeded:  len(run.Succeeded()),
		Failed:     len(run.Failed()),
		Findings:   run.FindingCount(),
	}
	if b.merge {
		for _, res := range run.Succeeded() {
			rep.Intervals = append(rep.Intervals, MergeIntervals(res.Findings)...)
		}
	}

	if b.sink != nil {
		if err := b.sink.WriteReport(ctx, rep); err != nil {
			b.logger.Warn("report sink failed", slog.String("run_id", run.ID), slog.Any("error", err))
		}
	}
	return rep
}

// Summarize returns one summary per pair: pairs with findings first, strongest peak
// first, then failures, then the rest in pair order.
func Summarize(run *models.RunResult) []PairSummary {
	summaries := make([]PairSummary, 0, len(run.Results))
	for _, pair := range run.Pairs() {
		res := run.Results[pair]
		s := PairSummary{Pair: pair, Findings: len(res.Findings), CacheHit: res.CacheHit}
		if res.Err != nil {
			s.Error = res.Err.Error()
			s.ErrorKind = utils.KindOf(res.Err)
		}
		for i, f := range res.Findings {
			if i == 0 || math.Abs(f.Coefficient) > math.Abs(s.PeakCoefficient) {
				s.PeakCoefficient = f.Coefficient
				s.PeakWindowStart = f.WindowStart
				s.PeakWindowEnd = f.WindowEnd
			}
		}
		summaries = append(summaries, s)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		ri, rj := summaryRank(summaries[i]), summaryRank(summaries[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 0 {
			return math.Abs(summaries[i].PeakCoefficient) > math.Abs(summaries[j].PeakCoefficient)
		}
		return false
	})
	return summaries
}

func summaryRank(s PairSummary) int {
	switch {
	case s.Findings > 0:
		return 0
	case s.Error != "":
		return 1
	default:
		return 2
	}
}

// Hotspots aggregates findings per dataset, most prevalent first. Prevalence is the
// share of the dataset's successful pairs that produced at least one finding.
func Hotspots(run *models.RunResult, partners int) []Hotspot {
	stats := make(map[string]*datasetAggregate)
	for _, res := range run.Succeeded() {
		for _, name := range []string{res.Pair.A, res.Pair.B} {
			agg := ensureAggregate(stats, name)
			agg.pairs++
			if len(res.Findings) == 0 {
				continue
			}
			agg.correlated++
			agg.findings += len(res.Findings)
			partner := res.Pair.B
			if name == res.Pair.B {
				partner = res.Pair.A
			}
			agg.partnerCounts[partner] += len(res.Findings)
		}
	}

	hotspots := make([]Hotspot, 0, len(stats))
	for name, agg := range stats {
		if agg.correlated == 0 {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			Dataset:     name,
			Pairs:       agg.correlated,
			Findings:    agg.findings,
			Prevalence:  float64(agg.correlated) / float64(agg.pairs),
			TopPartners: agg.topPartners(partners),
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Prevalence != hotspots[j].Prevalence {
			return hotspots[i].Prevalence > hotspots[j].Prevalence
		}
		if hotspots[i].Findings != hotspots[j].Findings {
			return hotspots[i].Findings > hotspots[j].Findings
		}
		return hotspots[i].Dataset < hotspots[j].Dataset
	})
	return hotspots
}

type datasetAggregate struct {
	pairs         int
	correlated    int
	findings      int
	partnerCounts map[string]int
}

func ensureAggregate(m map[string]*datasetAggregate, name string) *datasetAggregate {
	agg, ok := m[name]
	if !ok {
		agg = &datasetAggregate{partnerCounts: make(map[string]int)}
		m[name] = agg
	}
	return agg
}

func (agg *datasetAggregate) topPartners(limit int) []string {
	partners := make([]string, 0, len(agg.partnerCounts))
	for p := range agg.partnerCounts {
		partners = append(partners, p)
	}
	sort.Slice(partners, func(i, j int) bool {
		ci, cj := agg.partnerCounts[partners[i]], agg.partnerCounts[partners[j]]
		if ci != cj {
			return ci > cj
		}
		return partners[i] < partners[j]
	})
	if limit > 0 && len(partners) > limit {
		partners = partners[:limit]
	}
	return partners
}
