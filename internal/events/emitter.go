// Package events publishes session lifecycle events to Kafka so other
// services can follow review progress without polling.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/review-pipeline/internal/config"
	"github.com/helixir/review-pipeline/internal/domain"
)

// Lifecycle event types.
const (
	TypeSessionStarted          = "review.session.started"
	TypeSessionAwaitingApproval = "review.session.awaiting_approval"
	TypeSessionCompleted        = "review.session.completed"
	TypeSessionFailed           = "review.session.failed"
)

// publishTimeout bounds each publish so a slow broker never stalls a run.
const publishTimeout = 5 * time.Second

// Envelope is the wire shape of a lifecycle event.
type Envelope struct {
	EventType     string    `json:"event_type"`
	SessionID     string    `json:"session_id"`
	Query         string    `json:"query"`
	CurrentNode   string    `json:"current_node"`
	Candidates    int       `json:"candidates,omitempty"`
	Validated     bool      `json:"validated,omitempty"`
	FailureDetail string    `json:"failure_detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Emitter publishes lifecycle events. A nil *Emitter is valid and publishes
// nothing, so callers never branch on whether Kafka is configured.
type Emitter struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewEmitter creates a Kafka-backed emitter. Returns nil when publishing is
// disabled.
func NewEmitter(cfg config.KafkaConfig, logger zerolog.Logger) *Emitter {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Emitter{
		writer: writer,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Close flushes and closes the Kafka writer.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	return e.writer.Close()
}

// SessionStarted publishes a session start event.
func (e *Emitter) SessionStarted(ctx context.Context, s *domain.Session) {
	e.publish(ctx, TypeSessionStarted, s)
}

// SessionAwaitingApproval publishes a suspension event.
func (e *Emitter) SessionAwaitingApproval(ctx context.Context, s *domain.Session) {
	e.publish(ctx, TypeSessionAwaitingApproval, s)
}

// SessionCompleted publishes a completion event.
func (e *Emitter) SessionCompleted(ctx context.Context, s *domain.Session) {
	e.publish(ctx, TypeSessionCompleted, s)
}

// SessionFailed publishes a failure event.
func (e *Emitter) SessionFailed(ctx context.Context, s *domain.Session) {
	e.publish(ctx, TypeSessionFailed, s)
}

// publish writes one event, keyed by session ID so events of a session stay
// ordered within a partition. Publishing is best effort: failures are logged
// and never fail the run.
func (e *Emitter) publish(ctx context.Context, eventType string, s *domain.Session) {
	if e == nil {
		return
	}

	envelope := Envelope{
		EventType:     eventType,
		SessionID:     s.ID.String(),
		Query:         s.Query,
		CurrentNode:   string(s.Current),
		Candidates:    len(s.Candidates),
		Validated:     s.Validated,
		FailureDetail: s.FailureDetail,
		OccurredAt:    time.Now().UTC(),
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to encode lifecycle event")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = e.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(s.ID.String()),
		Value: value,
	})
	if err != nil {
		e.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("session_id", s.ID.String()).
			Msg("failed to publish lifecycle event")
		return
	}

	e.logger.Debug().
		Str("event_type", eventType).
		Str("session_id", s.ID.String()).
		Msg("lifecycle event published")
}
