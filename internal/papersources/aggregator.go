package papersources

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/observability"
)

// ProviderOutcome summarizes one source's contribution to a search round.
type ProviderOutcome struct {
	Source   domain.SourceTag
	Found    int
	Kept     int
	Skipped  bool
	Err      error
	Duration time.Duration
}

// AggregateResult is the merged output of one multi-source search round.
type AggregateResult struct {
	// Papers holds the deduplicated papers, ordered by source priority and
	// within each source by arrival order.
	Papers []*domain.Paper

	// Outcomes reports what each requested source contributed, including
	// skipped and failed sources.
	Outcomes []ProviderOutcome

	// Duplicates is the number of papers dropped by deduplication.
	Duplicates int
}

// Aggregator fans a query out to the enabled paper sources concurrently,
// applies per-source timeouts, skips sources the health tracker marks
// unhealthy, and merges results with normalized-title deduplication where
// the first occurrence in priority order wins.
type Aggregator struct {
	registry      *Registry
	health        *HealthTracker
	logger        zerolog.Logger
	metrics       *observability.Metrics
	searchTimeout time.Duration
}

// NewAggregator creates an aggregator over the given registry.
// metrics may be nil when metrics are disabled.
func NewAggregator(registry *Registry, health *HealthTracker, logger zerolog.Logger, metrics *observability.Metrics, searchTimeout time.Duration) *Aggregator {
	if searchTimeout <= 0 {
		searchTimeout = 30 * time.Second
	}
	return &Aggregator{
		registry:      registry,
		health:        health,
		logger:        logger.With().Str("component", "aggregator").Logger(),
		metrics:       metrics,
		searchTimeout: searchTimeout,
	}
}

// Search runs one search round for the query against the requested sources.
// It returns an error only when every enabled, non-skipped source failed;
// partial failures are reported through Outcomes and logged.
func (a *Aggregator) Search(ctx context.Context, query string, tags []domain.SourceTag, maxResults int) (*AggregateResult, error) {
	sources := a.registry.Enabled(tags)

	outcomes := make([]ProviderOutcome, len(sources))
	results := make([]*SearchResult, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		tag := source.SourceTag()

		if a.health != nil && a.health.ShouldSkip(tag) {
			outcomes[i] = ProviderOutcome{Source: tag, Skipped: true}
			if a.metrics != nil {
				a.metrics.RecordSourceSkipped(string(tag))
			}
			a.logger.Warn().Str("source", string(tag)).Msg("skipping unhealthy source")
			continue
		}

		wg.Add(1)
		go func(i int, s PaperSource) {
			defer wg.Done()

			tag := s.SourceTag()
			searchCtx, cancel := context.WithTimeout(ctx, a.searchTimeout)
			defer cancel()

			if a.metrics != nil {
				a.metrics.RecordSearchStarted(string(tag))
			}

			start := time.Now()
			result, err := s.Search(searchCtx, SearchParams{Query: query, MaxResults: maxResults})
			elapsed := time.Since(start)

			if err != nil {
				outcomes[i] = ProviderOutcome{Source: tag, Err: err, Duration: elapsed}
				if a.health != nil {
					a.health.RecordFailure(tag)
				}
				if a.metrics != nil {
					a.metrics.RecordSearchFailed(string(tag), elapsed.Seconds())
				}
				a.logger.Warn().Err(err).Str("source", string(tag)).Msg("source search failed")
				return
			}

			results[i] = result
			outcomes[i] = ProviderOutcome{Source: tag, Found: len(result.Papers), Duration: elapsed}
			if a.health != nil {
				a.health.RecordSuccess(tag)
			}
			if a.metrics != nil {
				a.metrics.RecordSearchCompleted(string(tag), len(result.Papers), elapsed.Seconds())
			}
		}(i, source)
	}
	wg.Wait()

	agg := &AggregateResult{}

	// Merge in priority order so earlier sources win dedup conflicts.
	seenIDs := make(map[string]bool)
	seenTitles := make(map[string]bool)
	for i, result := range results {
		if result == nil {
			agg.Outcomes = append(agg.Outcomes, outcomes[i])
			continue
		}
		kept := 0
		for _, paper := range result.Papers {
			key := NormalizeTitle(paper.Title)
			if seenIDs[paper.ID] || (key != "" && seenTitles[key]) {
				agg.Duplicates++
				continue
			}
			seenIDs[paper.ID] = true
			if key != "" {
				seenTitles[key] = true
			}
			agg.Papers = append(agg.Papers, paper)
			kept++
		}
		outcomes[i].Kept = kept
		agg.Outcomes = append(agg.Outcomes, outcomes[i])
	}

	if a.metrics != nil && agg.Duplicates > 0 {
		a.metrics.RecordPaperDuplicates(agg.Duplicates)
	}

	// Fail the round only when nothing ran to completion.
	anySucceeded := false
	anyAttempted := false
	for _, o := range agg.Outcomes {
		if o.Skipped {
			continue
		}
		anyAttempted = true
		if o.Err == nil {
			anySucceeded = true
		}
	}
	if anyAttempted && !anySucceeded {
		return agg, domain.ErrAllSourcesFailed
	}

	return agg, nil
}

// NormalizeTitle lowercases a title, strips everything but letters, digits
// and spaces, and collapses runs of whitespace. Dedup keys compare equal for
// titles that differ only in case, punctuation or spacing.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
