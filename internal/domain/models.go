// Package domain provides domain models and business logic for the review pipeline.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Node identifies a stage of the review workflow.
// These values are persisted inside checkpoints and must remain stable.
type Node string

const (
	NodePlan             Node = "plan"
	NodeSearch           Node = "search"
	NodeAwaitingApproval Node = "awaiting_approval"
	NodeExtract          Node = "extract"
	NodeDraft            Node = "draft"
	NodeValidate         Node = "validate"
	NodeRetryDraft       Node = "retry_draft"
	NodeDone             Node = "done"
	NodeFailed           Node = "failed"
)

// IsTerminal returns true if the node represents a final state that will not change.
func (n Node) IsTerminal() bool {
	return n == NodeDone || n == NodeFailed
}

// DefaultMaxRetries is the default bound on validate -> retry_draft loops.
const DefaultMaxRetries = 3

// SourceTag identifies a literature search provider.
type SourceTag string

const (
	SourceSemanticScholar SourceTag = "semantic_scholar"
	SourceArXiv           SourceTag = "arxiv"
	SourcePubMed          SourceTag = "pubmed"
	SourceOpenAlex        SourceTag = "openalex"
)

// IsValidSourceTag reports whether the tag names a known provider.
func IsValidSourceTag(t SourceTag) bool {
	switch t {
	case SourceSemanticScholar, SourceArXiv, SourcePubMed, SourceOpenAlex:
		return true
	default:
		return false
	}
}

// Output language tags accepted by the pipeline.
const (
	LanguageEnglish = "en"
	LanguageChinese = "zh"
)

// Contribution holds the structured fields extracted from a paper's abstract.
// Every field is optional; extraction fills in what the abstract supports.
type Contribution struct {
	Problem     string `json:"problem,omitempty"`
	Method      string `json:"method,omitempty"`
	Novelty     string `json:"novelty,omitempty"`
	Dataset     string `json:"dataset,omitempty"`
	Baseline    string `json:"baseline,omitempty"`
	Results     string `json:"results,omitempty"`
	Limitations string `json:"limitations,omitempty"`
	FutureWork  string `json:"future_work,omitempty"`
}

// Empty returns true if no structured field was extracted.
func (c *Contribution) Empty() bool {
	if c == nil {
		return true
	}
	return *c == Contribution{}
}

// Paper represents one candidate or approved paper inside a session.
// Papers are created by the source aggregator during search and accumulate
// approval and extraction state in later stages; they are never deleted.
type Paper struct {
	// ID is the stable, provider-qualified identifier (e.g. "doi:10.1/x",
	// "arxiv:2104.01234", "pubmed:123456", "s2:abcdef").
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Authors          []string      `json:"authors"`
	Abstract         string        `json:"abstract"`
	URL              string        `json:"url"`
	PDFURL           string        `json:"pdf_url,omitempty"`
	Year             int           `json:"year,omitempty"`
	DOI              string        `json:"doi,omitempty"`
	Source           SourceTag     `json:"source"`
	Approved         bool          `json:"approved"`
	CoreContribution string        `json:"core_contribution,omitempty"`
	Contribution     *Contribution `json:"contribution,omitempty"`
}

// Section is one section of a generated draft. Body contains inline
// {cite:N} markers; CitedPaperIDs is advisory output from generation and is
// always recomputed from Body by the citation validator before being trusted.
type Section struct {
	Heading       string   `json:"heading"`
	Body          string   `json:"body"`
	CitedPaperIDs []string `json:"cited_paper_ids,omitempty"`
}

// Draft is a generated literature review draft.
type Draft struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single turn of the continuation conversation.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session is the complete workflow state for one end-to-end pipeline run.
// It is the unit of checkpointing: the engine persists the whole session at
// every node transition, and resuming requires only the session ID.
type Session struct {
	ID       uuid.UUID `json:"id"`
	Query    string    `json:"query"`
	Language string    `json:"language"`

	Sources  []SourceTag `json:"sources"`
	Keywords []string    `json:"keywords,omitempty"`

	// Candidates accumulates every paper found by search, in aggregator
	// order. Approval sets the Approved flag; the citation index space is
	// the order of approved papers within this slice.
	Candidates []*Paper `json:"candidates,omitempty"`

	Draft   *Draft   `json:"draft,omitempty"`
	Defects []string `json:"defects,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Validated is false when the session ended in the best-effort terminal
	// state with an unvalidated draft.
	Validated bool `json:"validated"`

	Logs     []string  `json:"logs,omitempty"`
	Messages []Message `json:"messages,omitempty"`

	// Continuation marks a follow-up run entering directly at the draft node.
	Continuation bool `json:"continuation"`

	Current Node   `json:"current"`
	Next    []Node `json:"next,omitempty"`

	// FailureDetail carries the reason for a failed terminal state.
	FailureDetail string `json:"failure_detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session in the plan state for a fresh query.
func NewSession(query, language string, sources []SourceTag) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         uuid.New(),
		Query:      query,
		Language:   language,
		Sources:    sources,
		MaxRetries: DefaultMaxRetries,
		Current:    NodePlan,
		Next:       []Node{NodePlan},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CandidateByID returns the candidate paper with the given identifier, or nil.
func (s *Session) CandidateByID(id string) *Paper {
	for _, p := range s.Candidates {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ApprovedPapers returns the approved papers in candidate order.
// Their positions (1-based) define the citation index space.
func (s *Session) ApprovedPapers() []*Paper {
	approved := make([]*Paper, 0, len(s.Candidates))
	for _, p := range s.Candidates {
		if p.Approved {
			approved = append(approved, p)
		}
	}
	return approved
}

// ApprovedCount returns the number of approved candidates.
func (s *Session) ApprovedCount() int {
	return len(s.ApprovedPapers())
}

// HasDraft reports whether the session holds a draft with at least one section.
func (s *Session) HasDraft() bool {
	return s.Draft != nil && len(s.Draft.Sections) > 0
}

// Awaiting reports whether the session is suspended at the approval gate.
func (s *Session) Awaiting() bool {
	for _, n := range s.Next {
		if n == NodeAwaitingApproval {
			return true
		}
	}
	return s.Current == NodeAwaitingApproval && !s.Current.IsTerminal()
}

// AppendLog records a human-readable progress line on the session.
// Logs are append-only and replayed in full on status queries.
func (s *Session) AppendLog(format string, args ...interface{}) string {
	line := fmt.Sprintf(format, args...)
	s.Logs = append(s.Logs, line)
	return line
}

// AppendMessage records a conversation turn with the current timestamp.
func (s *Session) AppendMessage(role MessageRole, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// RecentMessages returns up to the last maxTurns user/assistant exchanges.
func (s *Session) RecentMessages(maxTurns int) []Message {
	limit := maxTurns * 2
	if len(s.Messages) <= limit {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-limit:]
}
