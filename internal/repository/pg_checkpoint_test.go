package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/domain"
)

const (
	saveQuery = `
			INSERT INTO sessions (id, current_node, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				current_node = EXCLUDED.current_node,
				state = EXCLUDED.state,
				updated_at = EXCLUDED.updated_at`
	loadQuery = `SELECT state FROM sessions WHERE id = $1`
	listQuery = `SELECT state FROM sessions ORDER BY created_at DESC`
)

func newMockStore(t *testing.T) (*PGCheckpointStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPGCheckpointStore(mock), mock
}

func encodeSession(t *testing.T, s *domain.Session) []byte {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return data
}

func TestPGCheckpointStoreSave(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	s := domain.NewSession("attention survey", domain.LanguageEnglish, nil)

	mock.ExpectExec(regexp.QuoteMeta(saveQuery)).
		WithArgs(s.ID, string(s.Current), encodeSession(t, s), s.CreatedAt, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCheckpointStoreSaveError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	s := domain.NewSession("q", domain.LanguageEnglish, nil)

	mock.ExpectExec(regexp.QuoteMeta(saveQuery)).
		WithArgs(s.ID, string(s.Current), encodeSession(t, s), s.CreatedAt, s.UpdatedAt).
		WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving checkpoint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCheckpointStoreLoad(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	s := domain.NewSession("q", domain.LanguageEnglish, nil)
	s.Current = domain.NodeAwaitingApproval
	s.Candidates = []*domain.Paper{{ID: "arxiv:1", Title: "A", Source: domain.SourceArXiv}}

	mock.ExpectQuery(regexp.QuoteMeta(loadQuery)).
		WithArgs(s.ID).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow(encodeSession(t, s)))

	loaded, err := store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, domain.NodeAwaitingApproval, loaded.Current)
	require.Len(t, loaded.Candidates, 1)
	assert.Equal(t, "arxiv:1", loaded.Candidates[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCheckpointStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(loadQuery)).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Load(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCheckpointStoreLoadCorruptState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(loadQuery)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow([]byte("{broken")))

	_, err := store.Load(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding checkpoint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCheckpointStoreList(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	first := domain.NewSession("newest", domain.LanguageEnglish, nil)
	second := domain.NewSession("older", domain.LanguageEnglish, nil)

	mock.ExpectQuery(regexp.QuoteMeta(listQuery)).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).
			AddRow(encodeSession(t, first)).
			AddRow(encodeSession(t, second)))

	sessions, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCheckpointStoreListEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(listQuery)).
		WillReturnRows(pgxmock.NewRows([]string{"state"}))

	sessions, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}
