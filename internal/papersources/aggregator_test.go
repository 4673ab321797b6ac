package papersources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline/internal/domain"
)

// fakeSource is a scriptable PaperSource.
type fakeSource struct {
	tag     domain.SourceTag
	papers  []*domain.Paper
	err     error
	enabled bool
	calls   int
}

func (f *fakeSource) Search(_ context.Context, _ SearchParams) (*SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &SearchResult{Papers: f.papers, Source: f.tag}, nil
}

func (f *fakeSource) SourceTag() domain.SourceTag { return f.tag }
func (f *fakeSource) Name() string                { return string(f.tag) }
func (f *fakeSource) IsEnabled() bool             { return f.enabled }

func paper(id, title string, tag domain.SourceTag) *domain.Paper {
	return &domain.Paper{ID: id, Title: title, Source: tag}
}

func newTestAggregator(health *HealthTracker, sources ...*fakeSource) *Aggregator {
	registry := NewRegistry()
	for _, s := range sources {
		registry.Register(s)
	}
	return NewAggregator(registry, health, zerolog.Nop(), nil, 5*time.Second)
}

func TestAggregatorMergesInPriorityOrder(t *testing.T) {
	t.Parallel()

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, papers: []*domain.Paper{
		paper("s2:a", "Attention Is All You Need", domain.SourceSemanticScholar),
	}}
	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true, papers: []*domain.Paper{
		paper("arxiv:1706.03762", "BERT Pre-training", domain.SourceArXiv),
	}}

	agg := newTestAggregator(nil, ss, ax)
	result, err := agg.Search(context.Background(), "transformers", nil, 10)

	require.NoError(t, err)
	require.Len(t, result.Papers, 2)
	assert.Equal(t, "s2:a", result.Papers[0].ID)
	assert.Equal(t, "arxiv:1706.03762", result.Papers[1].ID)
	assert.Zero(t, result.Duplicates)
}

func TestAggregatorDeduplicatesByNormalizedTitle(t *testing.T) {
	t.Parallel()

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, papers: []*domain.Paper{
		paper("s2:a", "Attention Is All You Need", domain.SourceSemanticScholar),
	}}
	// Same paper with different case, punctuation and ID.
	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true, papers: []*domain.Paper{
		paper("arxiv:1706.03762", "attention is all you need!", domain.SourceArXiv),
		paper("arxiv:1810.04805", "BERT", domain.SourceArXiv),
	}}

	agg := newTestAggregator(nil, ss, ax)
	result, err := agg.Search(context.Background(), "attention", nil, 10)

	require.NoError(t, err)
	require.Len(t, result.Papers, 2)
	// The higher-priority source's copy wins.
	assert.Equal(t, "s2:a", result.Papers[0].ID)
	assert.Equal(t, "arxiv:1810.04805", result.Papers[1].ID)
	assert.Equal(t, 1, result.Duplicates)
}

func TestAggregatorDeduplicatesByID(t *testing.T) {
	t.Parallel()

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, papers: []*domain.Paper{
		paper("doi:10.1/x", "Title A", domain.SourceSemanticScholar),
	}}
	oa := &fakeSource{tag: domain.SourceOpenAlex, enabled: true, papers: []*domain.Paper{
		paper("doi:10.1/x", "Completely Different Title", domain.SourceOpenAlex),
	}}

	agg := newTestAggregator(nil, ss, oa)
	result, err := agg.Search(context.Background(), "q", nil, 10)

	require.NoError(t, err)
	require.Len(t, result.Papers, 1)
	assert.Equal(t, 1, result.Duplicates)
}

func TestAggregatorPartialFailure(t *testing.T) {
	t.Parallel()

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, err: errors.New("503")}
	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true, papers: []*domain.Paper{
		paper("arxiv:1", "Survivor", domain.SourceArXiv),
	}}

	agg := newTestAggregator(nil, ss, ax)
	result, err := agg.Search(context.Background(), "q", nil, 10)

	require.NoError(t, err, "one healthy source keeps the round alive")
	require.Len(t, result.Papers, 1)

	var failed, succeeded int
	for _, o := range result.Outcomes {
		if o.Err != nil {
			failed++
		} else if !o.Skipped {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)
}

func TestAggregatorAllSourcesFailed(t *testing.T) {
	t.Parallel()

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, err: errors.New("down")}
	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true, err: errors.New("down")}

	agg := newTestAggregator(nil, ss, ax)
	_, err := agg.Search(context.Background(), "q", nil, 10)

	assert.ErrorIs(t, err, domain.ErrAllSourcesFailed)
}

func TestAggregatorSkipsUnhealthySource(t *testing.T) {
	t.Parallel()

	health := NewHealthTracker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		health.RecordFailure(domain.SourceSemanticScholar)
	}

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, papers: []*domain.Paper{
		paper("s2:a", "Should Not Appear", domain.SourceSemanticScholar),
	}}
	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true, papers: []*domain.Paper{
		paper("arxiv:1", "Survivor", domain.SourceArXiv),
	}}

	agg := newTestAggregator(health, ss, ax)
	result, err := agg.Search(context.Background(), "q", nil, 10)

	require.NoError(t, err)
	assert.Zero(t, ss.calls, "unhealthy source must not be queried")
	require.Len(t, result.Papers, 1)
	assert.Equal(t, "arxiv:1", result.Papers[0].ID)

	skipped := 0
	for _, o := range result.Outcomes {
		if o.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestAggregatorAllSkippedIsNotFailure(t *testing.T) {
	t.Parallel()

	health := NewHealthTracker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		health.RecordFailure(domain.SourceArXiv)
	}

	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true}

	agg := newTestAggregator(health, ax)
	result, err := agg.Search(context.Background(), "q", nil, 10)

	require.NoError(t, err)
	assert.Empty(t, result.Papers)
}

func TestAggregatorHonorsRequestedTags(t *testing.T) {
	t.Parallel()

	ss := &fakeSource{tag: domain.SourceSemanticScholar, enabled: true, papers: []*domain.Paper{
		paper("s2:a", "A", domain.SourceSemanticScholar),
	}}
	ax := &fakeSource{tag: domain.SourceArXiv, enabled: true, papers: []*domain.Paper{
		paper("arxiv:1", "B", domain.SourceArXiv),
	}}

	agg := newTestAggregator(nil, ss, ax)
	result, err := agg.Search(context.Background(), "q", []domain.SourceTag{domain.SourceArXiv}, 10)

	require.NoError(t, err)
	require.Len(t, result.Papers, 1)
	assert.Equal(t, "arxiv:1", result.Papers[0].ID)
	assert.Zero(t, ss.calls)
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "case and punctuation",
			input:    "Attention Is All You Need!",
			expected: "attention is all you need",
		},
		{
			name:     "extra whitespace",
			input:    "  Deep   Learning \t Review ",
			expected: "deep learning review",
		},
		{
			name:     "hyphens and colons",
			input:    "BERT: Pre-training of Deep Bidirectional Transformers",
			expected: "bert pretraining of deep bidirectional transformers",
		},
		{
			name:     "digits kept",
			input:    "GPT-4 Technical Report",
			expected: "gpt4 technical report",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeTitle(tt.input))
		})
	}
}
