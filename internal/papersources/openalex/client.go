// Package openalex provides an OpenAlex API client.
package openalex

import (
	"context"
	"encoding/json"
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
	// DefaultBaseURL is the default base URL for the OpenAlex API.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for the polite pool.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum number of results per request.
	DefaultMaxResults = 10

	// sourceName is the human-readable name for this source.
	sourceName = "OpenAlex"
)

// Config contains configuration options for the OpenAlex client.
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

// searchResponse is the works search payload.
type searchResponse struct {
	Results []Work `json:"results"`
}

// Work is one OpenAlex work record.
type Work struct {
	ID              string          `json:"id"`
	DOI             string          `json:"doi"`
	Title           string          `json:"title"`
	PublicationYear int             `json:"publication_year"`
	Authorships     []authorship    `json:"authorships"`
	OpenAccess      *openAccessInfo `json:"open_access"`
	PrimaryLocation *workLocation   `json:"primary_location"`

	// AbstractInvertedIndex maps words to their positions in the abstract.
	// OpenAlex does not ship plain abstract text.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type openAccessInfo struct {
	OAURL string `json:"oa_url"`
}

type workLocation struct {
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
}

// Client implements the papersources.PaperSource interface for OpenAlex.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new OpenAlex client with the given configuration.
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

// Search queries OpenAlex for works matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("search", params.Query)
	q.Set("per-page", strconv.Itoa(limit))
	searchURL := strings.TrimRight(c.config.BaseURL, "/") + "/works?" + q.Encode()

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
	var searchResp searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &papersources.SearchResult{
		Papers:         convertToPapers(searchResp.Results),
		Source:         domain.SourceOpenAlex,
		SearchDuration: time.Since(start),
	}, nil
}

// GetWorkByDOI fetches a single work by DOI. Used by full-text resolution.
func (c *Client) GetWorkByDOI(ctx context.Context, doi string) (*Work, error) {
	workURL := strings.TrimRight(c.config.BaseURL, "/") + "/works/doi:" + url.PathEscape(doi)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, workURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError("work", doi)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	var work Work
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&work); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &work, nil
}

// PDFURL returns the best full-text URL carried by a work, or "".
func (w *Work) PDFURL() string {
	if w.PrimaryLocation != nil && w.PrimaryLocation.PDFURL != "" {
		return w.PrimaryLocation.PDFURL
	}
	if w.OpenAccess != nil && w.OpenAccess.OAURL != "" {
		return w.OpenAccess.OAURL
	}
	return ""
}

// SourceTag returns the source tag identifier.
func (c *Client) SourceTag() domain.SourceTag {
	return domain.SourceOpenAlex
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// convertToPapers converts work records to domain papers.
func convertToPapers(works []Work) []*domain.Paper {
	papers := make([]*domain.Paper, 0, len(works))
	for _, w := range works {
		if w.Title == "" {
			continue
		}

		paper := &domain.Paper{
			ID:       "openalex:" + strings.TrimPrefix(w.ID, "https://openalex.org/"),
			Title:    w.Title,
			Abstract: reconstructAbstract(w.AbstractInvertedIndex),
			Year:     w.PublicationYear,
			PDFURL:   w.PDFURL(),
			Source:   domain.SourceOpenAlex,
		}

		if w.DOI != "" {
			paper.DOI = strings.TrimPrefix(w.DOI, "https://doi.org/")
			paper.ID = "doi:" + paper.DOI
		}
		if w.PrimaryLocation != nil {
			paper.URL = w.PrimaryLocation.LandingPageURL
		}
		if paper.URL == "" {
			paper.URL = w.ID
		}

		paper.Authors = make([]string, 0, len(w.Authorships))
		for _, a := range w.Authorships {
			if a.Author.DisplayName != "" {
				paper.Authors = append(paper.Authors, a.Author.DisplayName)
			}
		}

		papers = append(papers, paper)
	}
	return papers
}

// reconstructAbstract rebuilds plain abstract text from the inverted index.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	maxPos := -1
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}

	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 && p < len(words) {
				words[p] = word
			}
		}
	}

	return strings.Join(strings.Fields(strings.Join(words, " ")), " ")
}
