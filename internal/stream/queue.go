// Package stream provides the debounced progress event queue that feeds a
// session's live progress stream.
//
// Producers append text increments without blocking. The queue batches
// increments and flushes them as one event when the oldest unflushed
// increment has waited for the flush window, immediately when an increment
// ends a sentence or line, and when the stage changes. Increments from
// different stages are never merged into one event. Flushed events are held
// in an unbounded internal buffer and delivered to the consumer channel in
// arrival order, so a slow consumer delays delivery but never loses or
// reorders content. Closing the queue flushes whatever remains and emits
// exactly one terminal event.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/helixir/review-pipeline/internal/domain"
)

const (
	// DefaultFlushWindow is the debounce window measured from the oldest
	// unflushed increment.
	DefaultFlushWindow = 200 * time.Millisecond

	// DefaultBufferSize is the default delivery channel capacity.
	DefaultBufferSize = 256
)

// boundaryRunes are the sentence and line boundaries that trigger an
// immediate flush. Both ASCII and CJK sentence punctuation count.
const boundaryRunes = "。！？.!?\n"

// Flush trigger labels, also used as metric label values.
const (
	TriggerBoundary    = "boundary"
	TriggerTimer       = "timer"
	TriggerStageChange = "stage_change"
	TriggerClose       = "close"
)

// Stats reports queue activity counters.
type Stats struct {
	// Pushes is the number of text increments accepted.
	Pushes int
	// Flushes is the number of text events emitted, by trigger.
	Flushes map[string]int
}

// FlushFunc observes each flush with its trigger label. Optional; used to
// feed metrics.
type FlushFunc func(trigger string)

// Queue is the per-session progress event queue. It is safe for concurrent
// producers; events are consumed from the channel returned by Events.
type Queue struct {
	mu      sync.Mutex
	deliver *sync.Cond
	out     chan domain.ProgressEvent
	window  time.Duration
	onFlush FlushFunc

	// pending is the unflushed text of the current stage.
	pending []string
	stage   domain.Node
	timer   *time.Timer

	// ready holds flushed events awaiting delivery, in arrival order.
	ready []domain.ProgressEvent

	pushes  int
	flushes map[string]int

	closeOnce sync.Once
	closed    bool
}

// NewQueue creates a queue with the given flush window and delivery channel
// capacity. Zero values select the defaults. onFlush may be nil.
func NewQueue(window time.Duration, bufferSize int, onFlush FlushFunc) *Queue {
	if window <= 0 {
		window = DefaultFlushWindow
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	q := &Queue{
		out:     make(chan domain.ProgressEvent, bufferSize),
		window:  window,
		onFlush: onFlush,
		flushes: make(map[string]int),
	}
	q.deliver = sync.NewCond(&q.mu)
	go q.drain()
	return q
}

// Events returns the consumer channel. It is closed after the terminal event.
func (q *Queue) Events() <-chan domain.ProgressEvent {
	return q.out
}

// Push appends a text increment for the given stage. It never blocks: the
// increment is buffered and flushed later unless it ends a sentence or line,
// in which case the batch is flushed immediately.
//
// A stage different from the buffered one first flushes the old stage's
// batch, so one event never mixes stages.
func (q *Queue) Push(stage domain.Node, text string) {
	if text == "" {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	q.pushes++

	if len(q.pending) > 0 && q.stage != stage {
		q.flushLocked(TriggerStageChange)
	}
	q.stage = stage
	q.pending = append(q.pending, text)

	if strings.ContainsAny(text, boundaryRunes) {
		q.flushLocked(TriggerBoundary)
		return
	}

	// Arm the timer on the first unflushed increment. The window counts
	// from the oldest increment, so an armed timer is left alone.
	if q.timer == nil {
		q.timer = time.AfterFunc(q.window, q.timerFlush)
	}
}

// StageChange flushes the current batch and emits a stage-change marker.
func (q *Queue) StageChange(stage domain.Node, detail string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if len(q.pending) > 0 {
		q.flushLocked(TriggerStageChange)
	}
	q.stage = stage
	q.emitLocked(domain.ProgressEvent{
		Type:   domain.EventStageChange,
		Stage:  stage,
		Detail: detail,
	})
}

// Close flushes any remaining batch and emits exactly one terminal event.
// err == nil yields a done event; otherwise an error event carrying the
// failure detail. The consumer channel is closed once everything buffered
// has been delivered. Subsequent calls are no-ops.
func (q *Queue) Close(err error) {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		if len(q.pending) > 0 {
			q.flushLocked(TriggerClose)
		}

		terminal := domain.ProgressEvent{Type: domain.EventDone, Stage: q.stage}
		if err != nil {
			terminal = domain.ProgressEvent{
				Type:   domain.EventError,
				Stage:  q.stage,
				Detail: err.Error(),
			}
		}
		q.ready = append(q.ready, terminal)
		q.closed = true
		q.deliver.Broadcast()
	})
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	flushes := make(map[string]int, len(q.flushes))
	for k, v := range q.flushes {
		flushes[k] = v
	}
	return Stats{
		Pushes:  q.pushes,
		Flushes: flushes,
	}
}

// timerFlush runs when the oldest unflushed increment has aged past the window.
func (q *Queue) timerFlush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timer = nil
	if len(q.pending) > 0 {
		q.flushLocked(TriggerTimer)
	}
}

// flushLocked emits the pending batch as one text event. Callers hold mu.
func (q *Queue) flushLocked(trigger string) {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if len(q.pending) == 0 {
		return
	}

	text := strings.Join(q.pending, "")
	q.pending = q.pending[:0]
	q.flushes[trigger]++
	if q.onFlush != nil {
		q.onFlush(trigger)
	}

	q.emitLocked(domain.ProgressEvent{
		Type:  domain.EventText,
		Stage: q.stage,
		Text:  text,
	})
}

// emitLocked appends an event to the delivery buffer and wakes the drainer.
// Producers never block on the consumer. Callers hold mu.
func (q *Queue) emitLocked(event domain.ProgressEvent) {
	q.ready = append(q.ready, event)
	q.deliver.Signal()
}

// drain moves buffered events to the consumer channel in order, then closes
// the channel once the queue is closed and empty.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.closed {
			q.deliver.Wait()
		}
		if len(q.ready) == 0 {
			q.mu.Unlock()
			close(q.out)
			return
		}
		event := q.ready[0]
		q.ready = q.ready[1:]
		q.mu.Unlock()

		q.out <- event
	}
}
