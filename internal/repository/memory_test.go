package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	s := domain.NewSession("graph neural networks", domain.LanguageEnglish, nil)
	s.Keywords = []string{"gnn", "message passing"}
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.Query, loaded.Query)
	assert.Equal(t, s.Keywords, loaded.Keywords)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	s := domain.NewSession("q", domain.LanguageEnglish, nil)
	require.NoError(t, store.Save(ctx, s))

	// Mutating the saved session must not leak into the store.
	s.Query = "mutated after save"

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "q", loaded.Query)

	// Nor must mutating a loaded copy affect later loads.
	loaded.Keywords = append(loaded.Keywords, "leaked")

	again, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Keywords)
}

func TestMemoryStoreSaveReplaces(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	s := domain.NewSession("q", domain.LanguageEnglish, nil)
	require.NoError(t, store.Save(ctx, s))

	s.Current = domain.NodeAwaitingApproval
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeAwaitingApproval, loaded.Current)
}

func TestMemoryStoreLoadUnknown(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()

	_, err := store.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var nfe *domain.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "session", nfe.Entity)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		s := domain.NewSession("q", domain.LanguageEnglish, nil)
		s.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(ctx, s))
		ids = append(ids, s.ID)
	}

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, ids[2], sessions[0].ID)
	assert.Equal(t, ids[1], sessions[1].ID)
	assert.Equal(t, ids[0], sessions[2].ID)
}

func TestMemoryStoreListEmpty(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	sessions, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
