package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful pair analyses and series loads.
	OutcomeSuccess = "success"
	// OutcomeError labels failed pair analyses and series loads.
	OutcomeError = "error"

	// CacheHit labels a result cache lookup served from storage.
	CacheHit = "hit"
	// CacheMiss labels a lookup that required computation.
	CacheMiss = "miss"
	// CacheCorrupt labels a lookup whose stored entry could not be decoded.
	CacheCorrupt = "corrupt"
)

var (
	pairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corrscan",
			Name:      "pairs_total",
			Help:      "Total number of dataset pairs analysed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pairDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corrscan",
			Name:      "pair_seconds",
			Help:      "Per-pair analysis latency in seconds, cache lookup included.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corrscan",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups, partitioned by hit, miss, or corrupt.",
		},
		[]string{"result"},
	)

	findingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corrscan",
			Name:      "findings_total",
			Help:      "Total number of above-threshold windows reported.",
		},
	)

	seriesLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corrscan",
			Name:      "series_loads_total",
			Help:      "Dataset loads from source, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches corrscan collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pairsTotal,
		pairDurationSeconds,
		cacheLookupsTotal,
		findingsTotal,
		seriesLoadsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePair records a pair analysis duration, outcome label, and finding count.
func ObservePair(duration time.Duration, outcome string, findings int) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	pairsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	pairDurationSeconds.Observe(duration.Seconds())
	if findings > 0 {
		findingsTotal.Add(float64(findings))
	}
}

// ObserveCacheLookup records a result cache lookup.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveSeriesLoad records a dataset load from source.
func ObserveSeriesLoad(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	seriesLoadsTotal.WithLabelValues(outcome).Inc()
}
