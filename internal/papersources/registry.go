package papersources

import (
	"sync"

	"github.com/helixir/review-pipeline/internal/domain"
)

// DefaultPriority is the merge order used when aggregating results from
// several sources. Earlier sources win title-dedup conflicts.
var DefaultPriority = []domain.SourceTag{
	domain.SourceSemanticScholar,
	domain.SourceArXiv,
	domain.SourcePubMed,
	domain.SourceOpenAlex,
}

// Registry manages paper sources. It provides thread-safe registration and
// retrieval of paper sources keyed by source tag.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceTag]PaperSource
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceTag]PaperSource),
	}
}

// Register adds a source to the registry.
// If a source with the same tag already exists, it will be replaced.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceTag()] = source
}

// Get returns a source by tag, or nil if not found.
func (r *Registry) Get(tag domain.SourceTag) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[tag]
}

// Enabled returns the enabled sources among the requested tags, in priority
// order. If tags is empty, all enabled registered sources are returned in
// priority order.
func (r *Registry) Enabled(tags []domain.SourceTag) []PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := make(map[domain.SourceTag]bool, len(tags))
	for _, t := range tags {
		requested[t] = true
	}

	sources := make([]PaperSource, 0, len(r.sources))
	for _, tag := range DefaultPriority {
		if len(tags) > 0 && !requested[tag] {
			continue
		}
		source, ok := r.sources[tag]
		if !ok || !source.IsEnabled() {
			continue
		}
		sources = append(sources, source)
	}
	return sources
}
