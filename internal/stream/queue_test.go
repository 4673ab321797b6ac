package stream

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/domain"
)

// collect drains n events from the queue, failing the test on timeout.
func collect(t *testing.T, q *Queue, n int) []domain.ProgressEvent {
	t.Helper()

	events := make([]domain.ProgressEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case event, ok := <-q.Events():
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(events), n)
			}
			events = append(events, event)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestQueueBoundaryFlushesImmediately(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)

	q.Push(domain.NodeDraft, "Transformers ")
	q.Push(domain.NodeDraft, "dominate the field.")

	events := collect(t, q, 1)
	assert.Equal(t, domain.EventText, events[0].Type)
	assert.Equal(t, domain.NodeDraft, events[0].Stage)
	assert.Equal(t, "Transformers dominate the field.", events[0].Text)
}

func TestQueueCJKBoundary(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)
	q.Push(domain.NodeDraft, "注意力机制")
	q.Push(domain.NodeDraft, "改变了领域。")

	events := collect(t, q, 1)
	assert.Equal(t, "注意力机制改变了领域。", events[0].Text)
}

func TestQueueTimerFlushFromOldestIncrement(t *testing.T) {
	t.Parallel()

	q := NewQueue(50*time.Millisecond, 16, nil)

	start := time.Now()
	q.Push(domain.NodeDraft, "partial")
	q.Push(domain.NodeDraft, " sentence")

	events := collect(t, q, 1)
	elapsed := time.Since(start)

	assert.Equal(t, "partial sentence", events[0].Text)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	// The window counts from the first increment, not the last.
	assert.Less(t, elapsed, 2*time.Second)
}

func TestQueueStageIsolation(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)

	q.Push(domain.NodeExtract, "extracting")
	// A different stage forces the buffered batch out first.
	q.Push(domain.NodeDraft, "drafting now.")

	events := collect(t, q, 2)
	assert.Equal(t, domain.NodeExtract, events[0].Stage)
	assert.Equal(t, "extracting", events[0].Text)
	assert.Equal(t, domain.NodeDraft, events[1].Stage)
	assert.Equal(t, "drafting now.", events[1].Text)
}

func TestQueueStageChangeMarker(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)

	q.Push(domain.NodePlan, "keywords")
	q.StageChange(domain.NodeSearch, "searching sources")

	events := collect(t, q, 2)
	assert.Equal(t, domain.EventText, events[0].Type)
	assert.Equal(t, "keywords", events[0].Text)
	assert.Equal(t, domain.EventStageChange, events[1].Type)
	assert.Equal(t, domain.NodeSearch, events[1].Stage)
	assert.Equal(t, "searching sources", events[1].Detail)
}

func TestQueueCloseEmitsOneTerminal(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)
	q.Push(domain.NodeValidate, "checking")

	q.Close(nil)
	q.Close(errors.New("ignored second close"))

	var events []domain.ProgressEvent
	for event := range q.Events() {
		events = append(events, event)
	}

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventText, events[0].Type)
	assert.Equal(t, "checking", events[0].Text)
	assert.Equal(t, domain.EventDone, events[1].Type)
}

func TestQueueCloseWithError(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)
	q.Close(errors.New("stage search failed"))

	var events []domain.ProgressEvent
	for event := range q.Events() {
		events = append(events, event)
	}

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Equal(t, "stage search failed", events[0].Detail)
}

func TestQueueSlowConsumerLosesNothing(t *testing.T) {
	t.Parallel()

	// A tiny delivery channel and no consumer until after Close: every
	// event must still arrive, in order.
	q := NewQueue(time.Hour, 2, nil)
	sentences := []string{"one.", "two.", "three.", "four.", "five."}
	for _, s := range sentences {
		q.Push(domain.NodeDraft, s)
	}
	q.Close(nil)

	var events []domain.ProgressEvent
	timeout := time.After(2 * time.Second)
	for {
		var event domain.ProgressEvent
		var open bool
		select {
		case event, open = <-q.Events():
		case <-timeout:
			t.Fatalf("timed out after %d events", len(events))
		}
		if !open {
			break
		}
		events = append(events, event)
	}

	require.Len(t, events, len(sentences)+1)
	for i, s := range sentences {
		assert.Equal(t, domain.EventText, events[i].Type)
		assert.Equal(t, s, events[i].Text)
	}
	assert.Equal(t, domain.EventDone, events[len(events)-1].Type)
}

func TestQueueBurstFlushCountBounded(t *testing.T) {
	t.Parallel()

	// A long burst of boundary-free one-token increments coalesces into
	// timer flushes: at most one flush per window elapsed, with nothing
	// lost or reordered.
	window := 40 * time.Millisecond
	q := NewQueue(window, 16, nil)

	var want strings.Builder
	start := time.Now()
	for i := 0; i < 263; i++ {
		token := fmt.Sprintf("tok%d ", i)
		want.WriteString(token)
		q.Push(domain.NodeDraft, token)
	}

	var got strings.Builder
	timeout := time.After(5 * time.Second)
	for got.Len() < want.Len() {
		select {
		case event := <-q.Events():
			require.Equal(t, domain.EventText, event.Type)
			got.WriteString(event.Text)
		case <-timeout:
			t.Fatalf("timed out with %d of %d bytes", got.Len(), want.Len())
		}
	}
	elapsed := time.Since(start)

	assert.Equal(t, want.String(), got.String())

	stats := q.Stats()
	assert.Equal(t, 263, stats.Pushes)
	assert.Zero(t, stats.Flushes[TriggerBoundary])
	assert.LessOrEqual(t, stats.Flushes[TriggerTimer], int(elapsed/window)+2)

	q.Close(nil)
	var last domain.ProgressEvent
	for event := range q.Events() {
		last = event
	}
	assert.Equal(t, domain.EventDone, last.Type)
}

func TestQueuePushAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	q := NewQueue(time.Hour, 16, nil)
	q.Close(nil)

	q.Push(domain.NodeDraft, "late.")
	q.StageChange(domain.NodeValidate, "late")

	var events []domain.ProgressEvent
	for event := range q.Events() {
		events = append(events, event)
	}
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDone, events[0].Type)
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	flushes := make(map[string]int)
	q := NewQueue(time.Hour, 16, func(trigger string) {
		flushes[trigger]++
	})

	q.Push(domain.NodeDraft, "first sentence.")
	q.Push(domain.NodeDraft, "dangling")
	q.Close(nil)

	stats := q.Stats()
	assert.Equal(t, 2, stats.Pushes)
	assert.Equal(t, 1, stats.Flushes[TriggerBoundary])
	assert.Equal(t, 1, stats.Flushes[TriggerClose])
	assert.Equal(t, stats.Flushes, map[string]int(flushes))
}
