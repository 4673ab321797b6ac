package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/observability"
	"github.com/helixir/review-pipeline/internal/repository"
	"github.com/helixir/review-pipeline/internal/stream"
)

// ManagerConfig bounds the per-run progress queues and new sessions.
type ManagerConfig struct {
	FlushWindow time.Duration
	BufferSize  int
	// MaxDraftRetries overrides the per-session retry bound when positive.
	MaxDraftRetries int
}

// Manager serializes runs per session and owns the progress feed of each
// run. A session has at most one run in flight; a second concurrent start,
// approval or continuation fails with domain.ErrConflict. Runs execute in
// the background; callers follow along through Feed and read state through
// Session.
type Manager struct {
	engine  *Engine
	store   repository.CheckpointStore
	logger  zerolog.Logger
	metrics *observability.Metrics
	cfg     ManagerConfig

	mu    sync.Mutex
	feeds map[uuid.UUID]*stream.Queue
	// running maps a session to its in-flight run's done channel, closed
	// when the run suspends or terminates.
	running map[uuid.UUID]chan struct{}
}

// NewManager creates a manager. metrics may be nil.
func NewManager(engine *Engine, store repository.CheckpointStore, logger zerolog.Logger, metrics *observability.Metrics, cfg ManagerConfig) *Manager {
	return &Manager{
		engine:  engine,
		store:   store,
		logger:  logger.With().Str("component", "manager").Logger(),
		metrics: metrics,
		cfg:     cfg,
		feeds:   make(map[uuid.UUID]*stream.Queue),
		running: make(map[uuid.UUID]chan struct{}),
	}
}

// Start creates a session for the query and launches its first run, which
// plans keywords, searches for candidates and suspends at the approval gate.
// It returns the new session's ID immediately.
func (m *Manager) Start(ctx context.Context, query, language string, sources []domain.SourceTag) (uuid.UUID, error) {
	if query == "" {
		return uuid.Nil, domain.NewValidationError("query", "query must not be empty")
	}

	s := domain.NewSession(query, language, sources)
	if m.cfg.MaxDraftRetries > 0 {
		s.MaxRetries = m.cfg.MaxDraftRetries
	}
	if err := m.store.Save(ctx, s); err != nil {
		return uuid.Nil, fmt.Errorf("saving new session: %w", err)
	}

	if err := m.launch(s, func(ctx context.Context, sink Sink) error {
		return m.engine.Start(ctx, s, sink)
	}); err != nil {
		return uuid.Nil, err
	}
	return s.ID, nil
}

// Approve resumes a session suspended at the approval gate with the approved
// paper IDs and launches the run that carries it to a terminal node.
func (m *Manager) Approve(ctx context.Context, id uuid.UUID, paperIDs []string) error {
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !s.Awaiting() {
		return fmt.Errorf("session %s is not awaiting approval: %w", id, domain.ErrConflict)
	}
	if len(paperIDs) == 0 {
		return domain.NewValidationError("paper_ids", "at least one paper must be approved")
	}
	for _, pid := range paperIDs {
		if s.CandidateByID(pid) == nil {
			return domain.NewValidationError("paper_ids", fmt.Sprintf("unknown candidate paper %q", pid))
		}
	}

	return m.launch(s, func(ctx context.Context, sink Sink) error {
		return m.engine.ResumeApproval(ctx, s, paperIDs, sink)
	})
}

// Continue launches a follow-up run on a completed session, revising the
// draft in light of the user message.
func (m *Manager) Continue(ctx context.Context, id uuid.UUID, message string) error {
	if message == "" {
		return domain.NewValidationError("message", "message must not be empty")
	}

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if s.Current != domain.NodeDone || !s.HasDraft() {
		return fmt.Errorf("session %s has no completed draft to continue from: %w", id, domain.ErrConflict)
	}

	return m.launch(s, func(ctx context.Context, sink Sink) error {
		return m.engine.Continue(ctx, s, message, sink)
	})
}

// Feed returns the progress queue of the session's most recent run. The
// queue outlives its run: after the run ends, the remaining buffered events
// and the terminal event can still be drained.
func (m *Manager) Feed(id uuid.UUID) (*stream.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.feeds[id]
	return q, ok
}

// Wait blocks until the session's in-flight run suspends or terminates.
// It returns immediately when no run is in flight, and early with the
// context error when ctx is cancelled; the run itself keeps going.
func (m *Manager) Wait(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	done, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session loads the current checkpoint of a session.
func (m *Manager) Session(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return m.store.Load(ctx, id)
}

// Sessions lists all sessions, newest first.
func (m *Manager) Sessions(ctx context.Context) ([]*domain.Session, error) {
	return m.store.List(ctx)
}

// launch reserves the session's run slot, installs a fresh progress queue
// and executes the run in the background. The queue is closed when the run
// suspends or terminates. A run already in flight fails the launch with
// domain.ErrConflict.
func (m *Manager) launch(s *domain.Session, run func(ctx context.Context, sink Sink) error) error {
	var onFlush stream.FlushFunc
	if m.metrics != nil {
		onFlush = m.metrics.RecordStreamFlush
	}
	q := stream.NewQueue(m.cfg.FlushWindow, m.cfg.BufferSize, onFlush)

	m.mu.Lock()
	if _, busy := m.running[s.ID]; busy {
		m.mu.Unlock()
		return fmt.Errorf("session %s already has a run in flight: %w", s.ID, domain.ErrConflict)
	}
	done := make(chan struct{})
	m.running[s.ID] = done
	m.feeds[s.ID] = q
	m.mu.Unlock()

	go func() {
		// Runs outlive the request that launched them.
		err := run(context.Background(), q)
		q.Close(err)

		m.mu.Lock()
		delete(m.running, s.ID)
		m.mu.Unlock()
		close(done)

		if err != nil {
			m.logger.Error().Err(err).Str("session_id", s.ID.String()).Msg("run ended with error")
		}
	}()
	return nil
}
