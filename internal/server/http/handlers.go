package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/review-pipeline/internal/domain"
)

// maxRequestBodySize limits request bodies to 1 MB.
const maxRequestBodySize = 1 << 20

// startRequest is the JSON request body for starting a review session.
type startRequest struct {
	Query    string   `json:"query" validate:"required,min=3,max=10000"`
	Language string   `json:"language" validate:"omitempty,oneof=en zh"`
	Sources  []string `json:"sources" validate:"omitempty,dive,oneof=semantic_scholar arxiv pubmed openalex"`
}

// approveRequest is the JSON request body for approving candidate papers.
type approveRequest struct {
	SessionID string   `json:"session_id" validate:"required,uuid"`
	PaperIDs  []string `json:"paper_ids" validate:"required,min=1,dive,required"`
}

// continueRequest is the JSON request body for a follow-up turn on a
// completed session.
type continueRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Message   string `json:"message" validate:"required,max=10000"`
}

// startResearch handles POST /api/research/start. It creates a session, runs
// planning and search, and responds once the run suspends at the approval
// gate with the candidate papers. Incremental progress streams over SSE in
// the meantime.
func (s *Server) startResearch(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	language := req.Language
	if language == "" {
		language = domain.LanguageEnglish
	}

	sources := make([]domain.SourceTag, len(req.Sources))
	for i, src := range req.Sources {
		sources[i] = domain.SourceTag(src)
	}

	id, err := s.manager.Start(r.Context(), strings.TrimSpace(req.Query), language, sources)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	session, err := s.awaitSession(r, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := startResponse{
		SessionID:     session.ID.String(),
		Status:        sessionStatusString(session),
		Logs:          session.Logs,
		FailureDetail: session.FailureDetail,
	}
	for _, p := range session.Candidates {
		resp.CandidatePapers = append(resp.CandidatePapers, paperToResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// approvePapers handles POST /api/research/approve. It resumes a session
// suspended at the approval gate with the user's paper selection and responds
// once the run reaches a terminal node, carrying the final draft or, after a
// best-effort failure, the flagged one.
func (s *Server) approvePapers(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	id, ok := parseUUID(w, req.SessionID, "session_id")
	if !ok {
		return
	}

	if err := s.manager.Approve(r.Context(), id, req.PaperIDs); err != nil {
		writeDomainError(w, err)
		return
	}

	session, err := s.awaitSession(r, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := approveResponse{
		SessionID:     session.ID.String(),
		Status:        sessionStatusString(session),
		Validated:     session.Validated,
		ApprovedCount: session.ApprovedCount(),
		Logs:          session.Logs,
		FailureDetail: session.FailureDetail,
	}
	if session.HasDraft() {
		resp.FinalDraft = draftToResponse(session.Draft, session.ApprovedPapers())
	}
	writeJSON(w, http.StatusOK, resp)
}

// continueResearch handles POST /api/research/continue. It runs a follow-up
// turn on a completed session and responds with the revised draft and the
// assistant's reply.
func (s *Server) continueResearch(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	id, ok := parseUUID(w, req.SessionID, "session_id")
	if !ok {
		return
	}

	if err := s.manager.Continue(r.Context(), id, strings.TrimSpace(req.Message)); err != nil {
		writeDomainError(w, err)
		return
	}

	session, err := s.awaitSession(r, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := continueResponse{
		SessionID:     session.ID.String(),
		Status:        sessionStatusString(session),
		Message:       lastAssistantMessage(session),
		Logs:          session.Logs,
		FailureDetail: session.FailureDetail,
	}
	if session.HasDraft() {
		resp.FinalDraft = draftToResponse(session.Draft, session.ApprovedPapers())
	}
	writeJSON(w, http.StatusOK, resp)
}

// awaitSession blocks until the session's in-flight run suspends or
// terminates, then loads the resulting checkpoint.
func (s *Server) awaitSession(r *http.Request, id uuid.UUID) (*domain.Session, error) {
	if err := s.manager.Wait(r.Context(), id); err != nil {
		return nil, err
	}
	return s.manager.Session(r.Context(), id)
}

// lastAssistantMessage returns the content of the newest assistant turn.
func lastAssistantMessage(s *domain.Session) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == domain.RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// sessionStatus handles GET /api/research/status/{sessionID}. It returns the
// session's progress and, once available, the draft with resolved citations.
func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "sessionID"), "session_id")
	if !ok {
		return
	}

	session, err := s.manager.Session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionToStatusResponse(session))
}

// getSession handles GET /api/research/sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.sessionStatus(w, r)
}

// listSessions handles GET /api/research/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.Sessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]sessionSummaryResponse, len(sessions))
	for i, session := range sessions {
		summaries[i] = sessionToSummary(session)
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions:   summaries,
		TotalCount: len(summaries),
	})
}

// decodeAndValidate reads the JSON request body into dst and runs the
// struct validation tags. It writes the error response itself and reports
// whether the request may proceed.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, validationMessage(verrs[0]))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// validationMessage renders one field error as a client-facing message.
func validationMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s characters or entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s characters or entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// writeDomainError maps domain errors to HTTP status codes and writes a
// JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflicting session state")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if
// invalid. The parse error details are not echoed back.
func parseUUID(w http.ResponseWriter, raw, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
