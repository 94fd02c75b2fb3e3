package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for _, ms := range []int{30, 10, 50, 20, 40} {
		tracker.Observe(time.Duration(ms) * time.Millisecond)
	}

	if got := tracker.Percentile(95); got != 50*time.Millisecond {
		t.Fatalf("expected p95 of 50ms, got %v", got)
	}
	if got := tracker.Percentile(50); got != 30*time.Millisecond {
		t.Fatalf("expected median of 30ms, got %v", got)
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("expected minimum of 10ms, got %v", got)
	}
	if got := tracker.Percentile(150); got != 50*time.Millisecond {
		t.Fatalf("expected out-of-range percentile to clamp, got %v", got)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	if got := NewLatencyTracker(0).Percentile(95); got != 0 {
		t.Fatalf("expected zero for empty tracker, got %v", got)
	}
}

func TestLatencyTrackerEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Len() != 3 {
		t.Fatalf("expected 3 retained samples, got %d", tracker.Len())
	}
	if tracker.Count() != 10 {
		t.Fatalf("expected 10 observed samples, got %d", tracker.Count())
	}
	if got := tracker.Percentile(0); got != 8*time.Millisecond {
		t.Fatalf("expected oldest retained sample 8ms, got %v", got)
	}
}
