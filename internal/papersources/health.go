package papersources

import (
	"sync"
	"time"

	"github.com/helixir/review-pipeline/internal/domain"
)

// Health tracker defaults.
const (
	// DefaultFailureThreshold is the number of recent failures that marks a
	// source unhealthy.
	DefaultFailureThreshold = 3

	// DefaultFailureWindow is the trailing window over which failures count.
	DefaultFailureWindow = 2 * time.Minute
)

// HealthTracker records per-source failures over a trailing window and
// decides when a source should be skipped for a search round. A success
// clears the source's failure history immediately.
//
// It is safe for concurrent use. The clock is injectable so tests can
// simulate the passage of time.
type HealthTracker struct {
	mu        sync.Mutex
	failures  map[domain.SourceTag][]time.Time
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewHealthTracker creates a tracker with the default threshold and window.
func NewHealthTracker() *HealthTracker {
	return NewHealthTrackerWithClock(DefaultFailureThreshold, DefaultFailureWindow, time.Now)
}

// NewHealthTrackerWithClock creates a tracker with explicit parameters and clock.
func NewHealthTrackerWithClock(threshold int, window time.Duration, now func() time.Time) *HealthTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if window <= 0 {
		window = DefaultFailureWindow
	}
	if now == nil {
		now = time.Now
	}
	return &HealthTracker{
		failures:  make(map[domain.SourceTag][]time.Time),
		threshold: threshold,
		window:    window,
		now:       now,
	}
}

// RecordFailure records one failure for the source at the current time.
func (t *HealthTracker) RecordFailure(tag domain.SourceTag) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[tag] = append(t.prune(tag), t.now())
}

// RecordSuccess clears the source's failure history.
func (t *HealthTracker) RecordSuccess(tag domain.SourceTag) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, tag)
}

// ShouldSkip reports whether the source has accumulated at least the
// threshold number of failures inside the trailing window.
func (t *HealthTracker) ShouldSkip(tag domain.SourceTag) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.prune(tag)
	t.failures[tag] = recent
	return len(recent) >= t.threshold
}

// FailureCount returns the number of failures currently inside the window.
func (t *HealthTracker) FailureCount(tag domain.SourceTag) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.prune(tag)
	t.failures[tag] = recent
	return len(recent)
}

// prune drops failures older than the window. Callers must hold mu.
func (t *HealthTracker) prune(tag domain.SourceTag) []time.Time {
	cutoff := t.now().Add(-t.window)
	all := t.failures[tag]
	recent := all[:0]
	for _, ts := range all {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	return recent
}
