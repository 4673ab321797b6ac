// Package engine runs the review workflow: a five-stage node graph with a
// human approval gate, checkpointing after every transition, bounded draft
// retries and resume-by-session-ID.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/observability"
	"github.com/helixir/review-pipeline/internal/repository"
)

// LifecycleEmitter publishes session lifecycle events to an external bus.
// All methods must be safe to call on a nil receiver so the engine never
// cares whether eventing is configured.
type LifecycleEmitter interface {
	SessionStarted(ctx context.Context, s *domain.Session)
	SessionAwaitingApproval(ctx context.Context, s *domain.Session)
	SessionCompleted(ctx context.Context, s *domain.Session)
	SessionFailed(ctx context.Context, s *domain.Session)
}

// Engine executes sessions through the workflow graph. Routing is pure
// (see Route); the engine owns execution order, checkpointing and
// suspension. One engine serves many sessions; per-session serialization is
// the caller's job (see Manager).
type Engine struct {
	stages  Stages
	store   repository.CheckpointStore
	logger  zerolog.Logger
	metrics *observability.Metrics
	emitter LifecycleEmitter
}

// NewEngine creates an engine. metrics and emitter may be nil.
func NewEngine(stages Stages, store repository.CheckpointStore, logger zerolog.Logger, metrics *observability.Metrics, emitter LifecycleEmitter) *Engine {
	return &Engine{
		stages:  stages,
		store:   store,
		logger:  logger.With().Str("component", "engine").Logger(),
		metrics: metrics,
		emitter: emitter,
	}
}

// Start runs a fresh session from its entry node. For a normal run this
// executes plan and search, then suspends at the approval gate. For a
// continuation session it runs from draft to a terminal node.
func (e *Engine) Start(ctx context.Context, s *domain.Session, sink Sink) error {
	s.Next = []domain.Node{EntryNode(s)}
	if e.metrics != nil {
		e.metrics.RecordSessionStarted()
	}
	if e.emitter != nil {
		e.emitter.SessionStarted(ctx, s)
	}
	return e.run(ctx, s, sink)
}

// ResumeApproval resumes a session suspended at the approval gate. paperIDs
// selects the approved subset of the candidates; it must be non-empty and
// every ID must name a candidate.
func (e *Engine) ResumeApproval(ctx context.Context, s *domain.Session, paperIDs []string, sink Sink) error {
	if !s.Awaiting() {
		return fmt.Errorf("session %s is not awaiting approval: %w", s.ID, domain.ErrConflict)
	}
	if len(paperIDs) == 0 {
		return domain.NewValidationError("paper_ids", "at least one paper must be approved")
	}
	for _, id := range paperIDs {
		if s.CandidateByID(id) == nil {
			return domain.NewValidationError("paper_ids", fmt.Sprintf("unknown candidate paper %q", id))
		}
	}

	for _, id := range paperIDs {
		s.CandidateByID(id).Approved = true
	}
	s.AppendLog("approved %d of %d candidate papers", s.ApprovedCount(), len(s.Candidates))

	next, err := Route(domain.NodeAwaitingApproval, s)
	if err != nil {
		return err
	}
	s.Next = []domain.Node{next}
	return e.run(ctx, s, sink)
}

// Continue starts a follow-up run on a completed session. The user message
// joins the conversation history and the run enters directly at draft.
func (e *Engine) Continue(ctx context.Context, s *domain.Session, message string, sink Sink) error {
	if s.Current != domain.NodeDone || !s.HasDraft() {
		return fmt.Errorf("session %s has no completed draft to continue from: %w", s.ID, domain.ErrConflict)
	}

	s.Continuation = true
	s.RetryCount = 0
	s.Defects = nil
	s.AppendMessage(domain.RoleUser, message)
	s.AppendLog("continuing conversation: %s", message)

	s.Next = []domain.Node{EntryNode(s)}
	if e.metrics != nil {
		e.metrics.RecordSessionStarted()
	}
	return e.run(ctx, s, sink)
}

// run drives the session until it suspends or reaches a terminal node,
// checkpointing after every transition.
func (e *Engine) run(ctx context.Context, s *domain.Session, sink Sink) error {
	start := time.Now()

	for len(s.Next) > 0 {
		node := s.Next[0]
		logger := observability.WithStageContext(e.logger, s.ID.String(), string(node))

		switch node {
		case domain.NodeAwaitingApproval:
			e.enter(s, node)
			s.Next = []domain.Node{domain.NodeAwaitingApproval}
			s.AppendLog("awaiting approval of %d candidate papers", len(s.Candidates))
			sink.StageChange(node, "waiting for paper approval")
			if err := e.checkpoint(ctx, s); err != nil {
				return err
			}
			if e.emitter != nil {
				e.emitter.SessionAwaitingApproval(ctx, s)
			}
			logger.Info().Int("candidates", len(s.Candidates)).Msg("session suspended at approval gate")
			return nil

		case domain.NodeDone:
			e.enter(s, node)
			s.Next = nil
			s.Validated = s.HasDraft() && len(s.Defects) == 0
			s.AppendLog("review complete")
			// Record the produced draft as an assistant turn so follow-up
			// runs see it in the conversation history.
			if s.HasDraft() {
				s.AppendMessage(domain.RoleAssistant, renderDraft(s.Draft))
			}
			if err := e.checkpoint(ctx, s); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.RecordSessionCompleted(time.Since(start).Seconds())
			}
			if e.emitter != nil {
				e.emitter.SessionCompleted(ctx, s)
			}
			logger.Info().Bool("validated", s.Validated).Msg("session completed")
			return nil

		case domain.NodeFailed:
			// Best-effort terminal: the retry budget is spent with defects
			// remaining. The last draft stays on the session, flagged as
			// unvalidated.
			e.enter(s, node)
			s.Next = nil
			s.Validated = false
			s.FailureDetail = fmt.Sprintf("citation defects remain after %d draft regenerations", s.MaxRetries)
			s.AppendLog("%s; returning the flagged draft", s.FailureDetail)
			if err := e.checkpoint(ctx, s); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.RecordSessionBestEffort(time.Since(start).Seconds())
			}
			if e.emitter != nil {
				e.emitter.SessionFailed(ctx, s)
			}
			logger.Warn().Int("retries", s.RetryCount).Msg("session failed citation validation; flagged draft retained")
			return domain.NewStageError(domain.NodeValidate, domain.ErrDraftUnvalidated)

		case domain.NodeRetryDraft:
			e.enter(s, node)
			s.RetryCount++
			s.AppendLog("regenerating draft, attempt %d of %d", s.RetryCount, s.MaxRetries)
			if e.metrics != nil {
				e.metrics.RecordDraftRetry()
			}
			next, err := Route(node, s)
			if err != nil {
				return e.fail(ctx, s, node, err, start)
			}
			s.Next = []domain.Node{next}
			if err := e.checkpoint(ctx, s); err != nil {
				return err
			}

		default:
			e.enter(s, node)
			sink.StageChange(node, "")
			if err := e.execute(ctx, node, s, sink); err != nil {
				return e.fail(ctx, s, node, err, start)
			}
			next, err := Route(node, s)
			if err != nil {
				return e.fail(ctx, s, node, err, start)
			}
			s.Next = []domain.Node{next}
			if err := e.checkpoint(ctx, s); err != nil {
				return err
			}
			logger.Debug().Str("next", string(next)).Msg("stage complete")
		}
	}

	return nil
}

// execute dispatches one executable node to the stage implementation.
func (e *Engine) execute(ctx context.Context, node domain.Node, s *domain.Session, sink Sink) error {
	switch node {
	case domain.NodePlan:
		return e.stages.Plan(ctx, s, sink)
	case domain.NodeSearch:
		return e.stages.Search(ctx, s, sink)
	case domain.NodeExtract:
		return e.stages.Extract(ctx, s, sink)
	case domain.NodeDraft:
		return e.stages.Draft(ctx, s, sink)
	case domain.NodeValidate:
		return e.stages.Validate(ctx, s, sink)
	default:
		return fmt.Errorf("node %s is not executable", node)
	}
}

// enter records the transition into a node.
func (e *Engine) enter(s *domain.Session, node domain.Node) {
	if e.metrics != nil {
		e.metrics.RecordStageTransition(string(s.Current), string(node))
	}
	s.Current = node
	s.UpdatedAt = time.Now().UTC()
}

// fail moves the session to the failed terminal state, checkpointing it with
// the failure detail.
func (e *Engine) fail(ctx context.Context, s *domain.Session, node domain.Node, cause error, start time.Time) error {
	stageErr := domain.NewStageError(node, cause)

	e.enter(s, domain.NodeFailed)
	s.Next = nil
	s.FailureDetail = stageErr.Error()
	s.AppendLog("run failed at %s: %v", node, cause)

	if err := e.checkpoint(ctx, s); err != nil {
		e.logger.Error().Err(err).Str("session_id", s.ID.String()).Msg("failed to checkpoint failed session")
	}
	if e.metrics != nil {
		e.metrics.RecordSessionFailed(time.Since(start).Seconds())
	}
	if e.emitter != nil {
		e.emitter.SessionFailed(ctx, s)
	}

	e.logger.Error().Err(cause).Str("session_id", s.ID.String()).Str("stage", string(node)).Msg("session failed")
	return stageErr
}

// renderDraft flattens a draft into markdown text.
func renderDraft(d *domain.Draft) string {
	var b strings.Builder
	if d.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", d.Title)
	}
	for _, sec := range d.Sections {
		if sec.Heading != "" {
			fmt.Fprintf(&b, "## %s\n\n", sec.Heading)
		}
		b.WriteString(sec.Body)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// checkpoint persists the session.
func (e *Engine) checkpoint(ctx context.Context, s *domain.Session) error {
	s.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("checkpointing session %s: %w", s.ID, err)
	}
	return nil
}
