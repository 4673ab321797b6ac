package httpserver

import (
	"time"

	"github.com/helixir/review-pipeline/internal/citecheck"
	"github.com/helixir/review-pipeline/internal/domain"
)

// API status values derived from the workflow node.
const (
	statusRunning          = "running"
	statusAwaitingApproval = "awaiting_approval"
	statusCompleted        = "completed"
	statusFailed           = "failed"
)

// startResponse answers a start request once the first run has suspended at
// the approval gate (or failed): the candidate papers plus the log lines
// produced so far.
type startResponse struct {
	SessionID       string          `json:"session_id"`
	Status          string          `json:"status"`
	CandidatePapers []paperResponse `json:"candidate_papers"`
	Logs            []string        `json:"logs,omitempty"`
	FailureDetail   string          `json:"failure_detail,omitempty"`
}

// approveResponse answers an approval once the resumed run has reached a
// terminal node: the final draft, or the flagged best-effort draft when
// validation never passed.
type approveResponse struct {
	SessionID     string         `json:"session_id"`
	Status        string         `json:"status"`
	Validated     bool           `json:"validated"`
	ApprovedCount int            `json:"approved_count"`
	FinalDraft    *draftResponse `json:"final_draft,omitempty"`
	Logs          []string       `json:"logs,omitempty"`
	FailureDetail string         `json:"failure_detail,omitempty"`
}

// continueResponse answers a continuation once the follow-up run has
// finished: the revised draft and the assistant's conversation turn.
type continueResponse struct {
	SessionID     string         `json:"session_id"`
	Status        string         `json:"status"`
	Message       string         `json:"message,omitempty"`
	FinalDraft    *draftResponse `json:"final_draft,omitempty"`
	Logs          []string       `json:"logs,omitempty"`
	FailureDetail string         `json:"failure_detail,omitempty"`
}

type sessionStatusResponse struct {
	SessionID     string            `json:"session_id"`
	Query         string            `json:"query"`
	Language      string            `json:"language"`
	Status        string            `json:"status"`
	Stage         string            `json:"stage"`
	NextNodes     []string          `json:"next_nodes,omitempty"`
	Keywords      []string          `json:"keywords,omitempty"`
	Candidates    []paperResponse   `json:"candidates,omitempty"`
	Draft         *draftResponse    `json:"draft,omitempty"`
	Validated     bool              `json:"validated"`
	Defects       []string          `json:"defects,omitempty"`
	RetryCount    int               `json:"retry_count"`
	Messages      []messageResponse `json:"messages,omitempty"`
	Logs          []string          `json:"logs,omitempty"`
	FailureDetail string            `json:"failure_detail,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type sessionSummaryResponse struct {
	SessionID  string    `json:"session_id"`
	Query      string    `json:"query"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Candidates int       `json:"candidates"`
	Approved   int       `json:"approved"`
	HasDraft   bool      `json:"has_draft"`
	Validated  bool      `json:"validated"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type listSessionsResponse struct {
	Sessions   []sessionSummaryResponse `json:"sessions"`
	TotalCount int                      `json:"total_count"`
}

type paperResponse struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	URL      string   `json:"url,omitempty"`
	PDFURL   string   `json:"pdf_url,omitempty"`
	Year     int      `json:"year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	Source   string   `json:"source"`
	Approved bool     `json:"approved"`
}

type draftResponse struct {
	Title      string            `json:"title"`
	Sections   []sectionResponse `json:"sections"`
	References []paperResponse   `json:"references,omitempty"`
}

type sectionResponse struct {
	Heading       string   `json:"heading"`
	Body          string   `json:"body"`
	CitedPaperIDs []string `json:"cited_paper_ids,omitempty"`
}

type messageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// sessionStatusString maps a workflow node to the API status value.
func sessionStatusString(s *domain.Session) string {
	switch s.Current {
	case domain.NodeAwaitingApproval:
		return statusAwaitingApproval
	case domain.NodeDone:
		return statusCompleted
	case domain.NodeFailed:
		return statusFailed
	default:
		return statusRunning
	}
}

func sessionToStatusResponse(s *domain.Session) sessionStatusResponse {
	resp := sessionStatusResponse{
		SessionID:     s.ID.String(),
		Query:         s.Query,
		Language:      s.Language,
		Status:        sessionStatusString(s),
		Stage:         string(s.Current),
		Keywords:      s.Keywords,
		Validated:     s.Validated,
		Defects:       s.Defects,
		RetryCount:    s.RetryCount,
		Logs:          s.Logs,
		FailureDetail: s.FailureDetail,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}

	for _, n := range s.Next {
		resp.NextNodes = append(resp.NextNodes, string(n))
	}
	for _, p := range s.Candidates {
		resp.Candidates = append(resp.Candidates, paperToResponse(p))
	}
	for _, m := range s.Messages {
		resp.Messages = append(resp.Messages, messageResponse{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	if s.Draft != nil {
		resp.Draft = draftToResponse(s.Draft, s.ApprovedPapers())
	}
	return resp
}

func sessionToSummary(s *domain.Session) sessionSummaryResponse {
	return sessionSummaryResponse{
		SessionID:  s.ID.String(),
		Query:      s.Query,
		Status:     sessionStatusString(s),
		Stage:      string(s.Current),
		Candidates: len(s.Candidates),
		Approved:   s.ApprovedCount(),
		HasDraft:   s.HasDraft(),
		Validated:  s.Validated,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func paperToResponse(p *domain.Paper) paperResponse {
	return paperResponse{
		ID:       p.ID,
		Title:    p.Title,
		Authors:  p.Authors,
		Abstract: p.Abstract,
		URL:      p.URL,
		PDFURL:   p.PDFURL,
		Year:     p.Year,
		DOI:      p.DOI,
		Source:   string(p.Source),
		Approved: p.Approved,
	}
}

// draftToResponse renders the draft for clients: {cite:N} markers become
// [N], each section's cited paper IDs are recomputed from its body text, and
// the approved papers come along as the numbered reference list.
func draftToResponse(d *domain.Draft, approved []*domain.Paper) *draftResponse {
	resp := &draftResponse{Title: d.Title}

	for _, sec := range d.Sections {
		var citedIDs []string
		for _, idx := range citecheck.CitedIndices(sec.Body) {
			if idx >= 1 && idx <= len(approved) {
				citedIDs = append(citedIDs, approved[idx-1].ID)
			}
		}
		resp.Sections = append(resp.Sections, sectionResponse{
			Heading:       sec.Heading,
			Body:          citecheck.ResolveMarkers(sec.Body),
			CitedPaperIDs: citedIDs,
		})
	}

	for _, p := range approved {
		resp.References = append(resp.References, paperToResponse(p))
	}
	return resp
}
