// Package repository provides checkpoint persistence for workflow sessions.
//
// The whole session is the unit of persistence: the engine saves it after
// every node transition, and resuming a suspended run needs nothing but the
// session ID.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/review-pipeline/internal/domain"
)

// CheckpointStore persists and restores session checkpoints.
type CheckpointStore interface {
	// Save writes the session checkpoint, replacing any previous one.
	Save(ctx context.Context, s *domain.Session) error

	// Load restores the session with the given ID.
	// Returns an error wrapping domain.ErrNotFound when absent.
	Load(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// List returns all stored sessions, newest first.
	List(ctx context.Context) ([]*domain.Session, error)
}
