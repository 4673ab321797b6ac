package domain

// ProgressEventType classifies records on a session's progress feed.
type ProgressEventType string

const (
	// EventText carries a batch of incremental generation text.
	EventText ProgressEventType = "text"

	// EventStageChange marks the transition into a new workflow stage.
	EventStageChange ProgressEventType = "stage_change"

	// EventDone is the terminal record of a successful run segment.
	EventDone ProgressEventType = "done"

	// EventError is the terminal record of a failed run segment.
	EventError ProgressEventType = "error"
)

// ProgressEvent is one record on a session's streaming progress feed.
// Text events may aggregate several producer increments from the same
// stage; events of different stages are never merged.
type ProgressEvent struct {
	Type   ProgressEventType `json:"type"`
	Stage  Node              `json:"stage,omitempty"`
	Text   string            `json:"text,omitempty"`
	Detail string            `json:"detail,omitempty"`
}

// Terminal reports whether the event ends the feed.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
