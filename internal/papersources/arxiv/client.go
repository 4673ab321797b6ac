// Package arxiv provides an arXiv Atom API client.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the arXiv export API.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is the default rate limit. arXiv asks for no more
	// than one burst every three seconds from a single client.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum number of results per request.
	DefaultMaxResults = 10

	// sourceName is the human-readable name for this source.
	sourceName = "arXiv"
)

// Config contains configuration options for the arXiv client.
type Config struct {
	// BaseURL is the base URL for the API. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the maximum number of results to return per search.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// feed is the Atom feed returned by the arXiv query endpoint.
type feed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []entry  `xml:"entry"`
}

type entry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Authors   []author `xml:"author"`
	Links     []link   `xml:"link"`
	DOI       string   `xml:"doi"`
}

type author struct {
	Name string `xml:"name"`
}

type link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// Client implements the papersources.PaperSource interface for arXiv.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new arXiv client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	// Apply defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: cfg.BurstSize,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Search queries arXiv for papers matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("search_query", "all:"+params.Query)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(limit))
	q.Set("sortBy", "relevance")
	searchURL := strings.TrimRight(c.config.BaseURL, "/") + "/query?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var f feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}

	return &papersources.SearchResult{
		Papers:         c.convertToPapers(f.Entries),
		Source:         domain.SourceArXiv,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceTag returns the source tag identifier.
func (c *Client) SourceTag() domain.SourceTag {
	return domain.SourceArXiv
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// convertToPapers converts Atom entries to domain papers.
func (c *Client) convertToPapers(entries []entry) []*domain.Paper {
	papers := make([]*domain.Paper, 0, len(entries))
	for _, e := range entries {
		title := collapseWhitespace(e.Title)
		if title == "" {
			continue
		}

		paper := &domain.Paper{
			ID:       "arxiv:" + arxivID(e.ID),
			Title:    title,
			Abstract: collapseWhitespace(e.Summary),
			URL:      e.ID,
			DOI:      e.DOI,
			Source:   domain.SourceArXiv,
		}

		// Entry publish timestamps are RFC3339.
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			paper.Year = t.Year()
		}

		for _, l := range e.Links {
			if l.Title == "pdf" || l.Type == "application/pdf" {
				paper.PDFURL = l.Href
				break
			}
		}

		paper.Authors = make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			if a.Name != "" {
				paper.Authors = append(paper.Authors, a.Name)
			}
		}

		papers = append(papers, paper)
	}
	return papers
}

// arxivID extracts the bare identifier from an entry ID URL such as
// "http://arxiv.org/abs/2104.01234v2".
func arxivID(entryID string) string {
	if idx := strings.LastIndex(entryID, "/abs/"); idx >= 0 {
		return entryID[idx+len("/abs/"):]
	}
	return entryID
}

// collapseWhitespace joins the multi-line text arXiv wraps at 80 columns.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
