package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/review-pipeline/internal/domain"
)

// MemoryStore is an in-memory CheckpointStore. It backs tests and
// database-less deployments. Sessions round-trip through JSON on every
// operation so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID][]byte
}

// Compile-time check that MemoryStore implements CheckpointStore.
var _ CheckpointStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID][]byte),
	}
}

// Save writes the session checkpoint, replacing any previous one.
func (m *MemoryStore) Save(_ context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = data
	return nil
}

// Load restores the session with the given ID.
func (m *MemoryStore) Load(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, domain.NewNotFoundError("session", id.String())
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &s, nil
}

// List returns all stored sessions, newest first.
func (m *MemoryStore) List(_ context.Context) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(m.sessions))
	for _, data := range m.sessions {
		var s domain.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
		sessions = append(sessions, &s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}
