// Package papersources provides clients for searching academic paper databases
// and the aggregator that fans a query out across them.
//
// Each academic database (Semantic Scholar, arXiv, PubMed, OpenAlex) implements
// the PaperSource interface. The Aggregator runs enabled sources concurrently,
// deduplicates results and reports per-source outcomes.
package papersources

import (
	"context"
	"time"

	"github.com/helixir/review-pipeline/internal/domain"
)

// SearchParams defines the parameters for searching academic papers.
type SearchParams struct {
	// Query is the search query string (required). The format may vary by
	// source; providers escape it as needed.
	Query string

	// MaxResults limits the number of papers returned in a single request.
	// A value of 0 uses the source's configured limit.
	MaxResults int
}

// SearchResult contains the results from a paper source search operation.
type SearchResult struct {
	// Papers contains the papers returned by the search.
	// May be empty if no papers match the search criteria.
	Papers []*domain.Paper

	// Source identifies which paper source provided these results.
	Source domain.SourceTag

	// SearchDuration is the time taken to execute the search,
	// including network latency and response parsing.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source clients implement.
type PaperSource interface {
	// Search queries the paper source for papers matching the given parameters.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Apply rate limiting as needed
	//   - Transform source-specific responses to domain.Paper
	//   - Include appropriate error wrapping with source context
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceTag returns the tag identifying this paper source.
	// Used for attribution, deduplication, and routing.
	SourceTag() domain.SourceTag

	// Name returns a human-readable name for this paper source.
	Name() string

	// IsEnabled returns whether this paper source is currently enabled
	// and available for searches. A source may be disabled due to
	// configuration or missing API keys.
	IsEnabled() bool
}
