package papersources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/review-pipeline/internal/domain"
)

// fakeClock is an adjustable clock for health tracker tests.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func TestHealthTrackerSkipsAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewHealthTrackerWithClock(3, 2*time.Minute, clock.now)

	tag := domain.SourceArXiv

	tracker.RecordFailure(tag)
	tracker.RecordFailure(tag)
	assert.False(t, tracker.ShouldSkip(tag), "below threshold")

	tracker.RecordFailure(tag)
	assert.True(t, tracker.ShouldSkip(tag), "at threshold")
	assert.Equal(t, 3, tracker.FailureCount(tag))
}

func TestHealthTrackerWindowExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewHealthTrackerWithClock(3, 2*time.Minute, clock.now)

	tag := domain.SourcePubMed

	tracker.RecordFailure(tag)
	clock.advance(30 * time.Second)
	tracker.RecordFailure(tag)

	// The first failure ages out before the third arrives.
	clock.advance(100 * time.Second)
	tracker.RecordFailure(tag)

	assert.False(t, tracker.ShouldSkip(tag), "only two failures inside the window")
	assert.Equal(t, 2, tracker.FailureCount(tag))

	// A third failure inside the window trips the threshold.
	clock.advance(1 * time.Second)
	tracker.RecordFailure(tag)
	assert.True(t, tracker.ShouldSkip(tag))
}

func TestHealthTrackerRecoversWhenWindowPasses(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewHealthTrackerWithClock(3, 2*time.Minute, clock.now)

	tag := domain.SourceOpenAlex
	for i := 0; i < 3; i++ {
		tracker.RecordFailure(tag)
	}
	assert.True(t, tracker.ShouldSkip(tag))

	clock.advance(2*time.Minute + time.Second)
	assert.False(t, tracker.ShouldSkip(tag), "failures aged out")
	assert.Equal(t, 0, tracker.FailureCount(tag))
}

func TestHealthTrackerSuccessClearsHistory(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewHealthTrackerWithClock(3, 2*time.Minute, clock.now)

	tag := domain.SourceSemanticScholar
	for i := 0; i < 3; i++ {
		tracker.RecordFailure(tag)
	}
	assert.True(t, tracker.ShouldSkip(tag))

	tracker.RecordSuccess(tag)
	assert.False(t, tracker.ShouldSkip(tag))
	assert.Equal(t, 0, tracker.FailureCount(tag))
}

func TestHealthTrackerTracksSourcesIndependently(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	for i := 0; i < DefaultFailureThreshold; i++ {
		tracker.RecordFailure(domain.SourceArXiv)
	}

	assert.True(t, tracker.ShouldSkip(domain.SourceArXiv))
	assert.False(t, tracker.ShouldSkip(domain.SourcePubMed))
}
