package utils

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyTracker keeps the most recent duration samples in a ring and computes
// percentiles over them.
type LatencyTracker struct {
	mu    sync.RWMutex
	ring  []time.Duration
	next  int
	total int
}

// NewLatencyTracker creates a tracker retaining up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, 0, size)}
}

// Observe records a new duration, evicting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ring) < cap(l.ring) {
		l.ring = append(l.ring, d)
	} else {
		l.ring[l.next] = d
	}
	l.next = (l.next + 1) % cap(l.ring)
	l.total++
}

// Percentile returns the empirical p-th percentile (0-100) of the retained samples,
// or zero when there are none.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := make([]float64, len(l.ring))
	for i, d := range l.ring {
		sorted[i] = float64(d)
	}
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	q := min(max(p/100, 0), 1)
	return time.Duration(stat.Quantile(q, stat.Empirical, sorted, nil))
}

// Count returns the number of samples observed since creation.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Len returns the number of retained samples.
func (l *LatencyTracker) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ring)
}
