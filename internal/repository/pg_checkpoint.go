package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/review-pipeline/internal/domain"
)

// DBTX is the subset of pgx operations the store needs. Satisfied by
// *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGCheckpointStore persists session checkpoints as JSONB rows.
type PGCheckpointStore struct {
	db DBTX
}

// Compile-time check that PGCheckpointStore implements CheckpointStore.
var _ CheckpointStore = (*PGCheckpointStore)(nil)

// NewPGCheckpointStore creates a Postgres-backed checkpoint store.
func NewPGCheckpointStore(db DBTX) *PGCheckpointStore {
	return &PGCheckpointStore{db: db}
}

// Save upserts the session checkpoint.
func (r *PGCheckpointStore) Save(ctx context.Context, s *domain.Session) error {
	state, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	query := `
		INSERT INTO sessions (id, current_node, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			current_node = EXCLUDED.current_node,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query, s.ID, string(s.Current), state, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// Load restores the session with the given ID.
func (r *PGCheckpointStore) Load(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT state FROM sessions WHERE id = $1`

	var state []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("session", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &s, nil
}

// List returns all stored sessions, newest first.
func (r *PGCheckpointStore) List(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT state FROM sessions ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		var s domain.Session
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return sessions, nil
}
