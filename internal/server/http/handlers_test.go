package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/config"
	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/engine"
	"github.com/helixir/review-pipeline/internal/repository"
)

// scriptedStages is a minimal Stages implementation for API tests.
type scriptedStages struct{}

func (scriptedStages) Plan(_ context.Context, s *domain.Session, _ engine.Sink) error {
	s.Keywords = []string{"graph neural networks"}
	return nil
}

func (scriptedStages) Search(_ context.Context, s *domain.Session, _ engine.Sink) error {
	s.Candidates = append(s.Candidates,
		&domain.Paper{ID: "arxiv:2101.00001", Title: "GNN Survey", Source: domain.SourceArXiv},
		&domain.Paper{ID: "doi:10.1/two", Title: "Message Passing", Source: domain.SourceSemanticScholar},
	)
	return nil
}

func (scriptedStages) Extract(_ context.Context, _ *domain.Session, _ engine.Sink) error {
	return nil
}

func (scriptedStages) Draft(_ context.Context, s *domain.Session, _ engine.Sink) error {
	s.Draft = &domain.Draft{
		Title: "A Survey of Graph Neural Networks",
		Sections: []domain.Section{
			{Heading: "Introduction", Body: "GNNs generalize convolutions {cite:1}{cite:2}."},
		},
	}
	return nil
}

func (scriptedStages) Validate(_ context.Context, s *domain.Session, _ engine.Sink) error {
	s.Defects = nil
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := repository.NewMemoryStore()
	eng := engine.NewEngine(scriptedStages{}, store, zerolog.Nop(), nil, nil)
	manager := engine.NewManager(eng, store, zerolog.Nop(), nil, engine.ManagerConfig{
		FlushWindow: 10 * time.Millisecond,
		BufferSize:  64,
	})

	return NewServer(
		config.ServerConfig{Host: "127.0.0.1", HTTPPort: 8080},
		config.MetricsConfig{Enabled: false},
		manager,
		nil,
		zerolog.Nop(),
	)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// startSession starts a session and asserts the handler blocked until the
// approval gate: the response already carries the candidate papers.
func startSession(t *testing.T, srv *Server) uuid.UUID {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/api/research/start", map[string]any{
		"query": "graph neural networks survey",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID       string `json:"session_id"`
		Status          string `json:"status"`
		CandidatePapers []struct {
			ID string `json:"id"`
		} `json:"candidate_papers"`
		Logs []string `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "awaiting_approval", resp.Status)
	require.Len(t, resp.CandidatePapers, 2)
	require.NotEmpty(t, resp.Logs)

	id, err := uuid.Parse(resp.SessionID)
	require.NoError(t, err)
	return id
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzMemoryMode(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "memory", resp["checkpoints"])
}

func TestStartResearch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	id := startSession(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/research/status/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status     string   `json:"status"`
		NextNodes  []string `json:"next_nodes"`
		Candidates []struct {
			ID string `json:"id"`
		} `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "awaiting_approval", status.Status)
	assert.Equal(t, []string{"awaiting_approval"}, status.NextNodes)
	assert.Len(t, status.Candidates, 2)
}

func TestStartResearchValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing query", body: map[string]any{}},
		{name: "short query", body: map[string]any{"query": "ab"}},
		{name: "bad language", body: map[string]any{"query": "valid query", "language": "fr"}},
		{name: "bad source", body: map[string]any{"query": "valid query", "sources": []string{"scholar"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/research/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartResearchMalformedJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/research/start", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveAndComplete(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	id := startSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/research/approve", map[string]any{
		"session_id": id.String(),
		"paper_ids":  []string{"arxiv:2101.00001", "doi:10.1/two"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The approve response itself carries the finished draft and logs.
	var resp struct {
		Status        string   `json:"status"`
		Validated     bool     `json:"validated"`
		ApprovedCount int      `json:"approved_count"`
		Logs          []string `json:"logs"`
		FinalDraft    *struct {
			Title    string `json:"title"`
			Sections []struct {
				Body          string   `json:"body"`
				CitedPaperIDs []string `json:"cited_paper_ids"`
			} `json:"sections"`
			References []struct {
				ID string `json:"id"`
			} `json:"references"`
		} `json:"final_draft"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "completed", resp.Status)
	assert.True(t, resp.Validated)
	assert.Equal(t, 2, resp.ApprovedCount)
	assert.NotEmpty(t, resp.Logs)
	require.NotNil(t, resp.FinalDraft)
	require.Len(t, resp.FinalDraft.Sections, 1)

	// Markers render as bracketed reference numbers for clients.
	assert.Equal(t, "GNNs generalize convolutions [1][2].", resp.FinalDraft.Sections[0].Body)
	assert.Equal(t, []string{"arxiv:2101.00001", "doi:10.1/two"}, resp.FinalDraft.Sections[0].CitedPaperIDs)
	require.Len(t, resp.FinalDraft.References, 2)
	assert.Equal(t, "arxiv:2101.00001", resp.FinalDraft.References[0].ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/research/status/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "completed", status["status"])
}

func TestApproveErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	id := startSession(t, srv)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
	}{
		{
			name:     "unknown session",
			body:     map[string]any{"session_id": uuid.NewString(), "paper_ids": []string{"p"}},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown paper",
			body:     map[string]any{"session_id": id.String(), "paper_ids": []string{"doi:unknown"}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty selection",
			body:     map[string]any{"session_id": id.String(), "paper_ids": []string{}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed session id",
			body:     map[string]any{"session_id": "not-a-uuid", "paper_ids": []string{"p"}},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/research/approve", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestContinueOnSuspendedSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	id := startSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/research/continue", map[string]any{
		"session_id": id.String(),
		"message":    "expand the introduction",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestContinueAfterCompletion(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	id := startSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/research/approve", map[string]any{
		"session_id": id.String(),
		"paper_ids":  []string{"arxiv:2101.00001"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/research/continue", map[string]any{
		"session_id": id.String(),
		"message":    "expand the introduction",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The continuation response carries the revised draft and the
	// assistant's conversation turn.
	var resp struct {
		Status     string `json:"status"`
		Message    string `json:"message"`
		FinalDraft *struct {
			Title string `json:"title"`
		} `json:"final_draft"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Contains(t, resp.Message, "A Survey of Graph Neural Networks")
	require.NotNil(t, resp.FinalDraft)
	assert.Equal(t, "A Survey of Graph Neural Networks", resp.FinalDraft.Title)
}

func TestSessionStatusNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/research/status/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/research/status/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/research/start", map[string]any{
			"query": fmt.Sprintf("survey topic %d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/research/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Sessions []struct {
			Status     string `json:"status"`
			Candidates int    `json:"candidates"`
		} `json:"sessions"`
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.TotalCount)
	for _, s := range list.Sessions {
		assert.Equal(t, "awaiting_approval", s.Status)
		assert.Equal(t, 2, s.Candidates)
	}
}
