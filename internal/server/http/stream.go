package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/review-pipeline/internal/domain"
)

// sseMaxDuration is the maximum time an SSE stream may remain open.
const sseMaxDuration = 1 * time.Hour

// sseEvent is the JSON payload of one SSE record.
type sseEvent struct {
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Text      string    `json:"text,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// streamProgress handles GET /api/research/stream/{sessionID} (SSE). It
// relays the session's progress feed: batched text increments, stage-change
// markers and exactly one terminal record per run.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	session, err := s.manager.Session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	feed, hasFeed := s.manager.Feed(id)
	if !hasFeed {
		// No run on this instance; report the checkpointed state and close.
		eventType := string(domain.EventDone)
		detail := ""
		if session.Current == domain.NodeFailed {
			eventType = string(domain.EventError)
			detail = session.FailureDetail
		}
		sendSSE(w, flusher, sseEvent{
			Type:      eventType,
			Stage:     string(session.Current),
			Detail:    detail,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	deadline := time.NewTimer(sseMaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadline.C:
			sendSSE(w, flusher, sseEvent{
				Type:      string(domain.EventError),
				Detail:    "stream max duration exceeded",
				Timestamp: time.Now().UTC(),
			})
			return

		case event, open := <-feed.Events():
			if !open {
				return
			}
			sendSSE(w, flusher, sseEvent{
				Type:      string(event.Type),
				Stage:     string(event.Stage),
				Text:      event.Text,
				Detail:    event.Detail,
				Timestamp: time.Now().UTC(),
			})
			if event.Terminal() {
				return
			}
		}
	}
}

// sendSSE writes a single SSE record to the response writer.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
