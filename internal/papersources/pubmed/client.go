// Package pubmed provides a PubMed E-utilities client.
package pubmed

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
	// DefaultBaseURL is the default base URL for the NCBI E-utilities.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the default rate limit.
	// NCBI recommends max 3 req/sec without an API key.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum number of results per request.
	DefaultMaxResults = 10

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"
)

// Config contains configuration options for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the API. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional NCBI API key. Raises the allowed request rate.
	APIKey string

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

// esearchResponse is the JSON payload of the esearch endpoint.
type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// esummaryResponse is the JSON payload of the esummary endpoint. The result
// object maps PMIDs to summary records plus a "uids" ordering array.
type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// summaryRecord is one article summary.
type summaryRecord struct {
	UID     string `json:"uid"`
	Title   string `json:"title"`
	PubDate string `json:"pubdate"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

// Client implements the papersources.PaperSource interface for PubMed.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new PubMed client with the given configuration.
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

// Search queries PubMed for papers matching the given parameters. The search
// is two-step: esearch resolves the query to PMIDs, esummary fetches the
// article metadata for those PMIDs.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	ids, err := c.esearch(ctx, params.Query, limit)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return &papersources.SearchResult{
			Source:         domain.SourcePubMed,
			SearchDuration: time.Since(start),
		}, nil
	}

	papers, err := c.esummary(ctx, ids)
	if err != nil {
		return nil, err
	}

	return &papersources.SearchResult{
		Papers:         papers,
		Source:         domain.SourcePubMed,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceTag returns the source tag identifier.
func (c *Client) SourceTag() domain.SourceTag {
	return domain.SourcePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch resolves a free-text query to a list of PMIDs.
func (c *Client) esearch(ctx context.Context, query string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(limit))
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	var resp esearchResponse
	if err := c.getJSON(ctx, "/esearch.fcgi?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.ESearchResult.IDList, nil
}

// esummary fetches article summaries for the given PMIDs, preserving order.
func (c *Client) esummary(ctx context.Context, ids []string) ([]*domain.Paper, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "json")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	var resp esummaryResponse
	if err := c.getJSON(ctx, "/esummary.fcgi?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(ids))
	for _, id := range ids {
		raw, ok := resp.Result[id]
		if !ok {
			continue
		}
		var rec summaryRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.Title == "" {
			continue
		}
		papers = append(papers, convertToPaper(rec))
	}
	return papers, nil
}

// getJSON issues a GET against the E-utilities and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	reqURL := strings.TrimRight(c.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	// Limit body to 10MB to prevent resource exhaustion.
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// convertToPaper converts one esummary record to a domain paper.
// PubMed summaries carry no abstract; extraction works from the title alone
// unless a later stage fills it in.
func convertToPaper(rec summaryRecord) *domain.Paper {
	paper := &domain.Paper{
		ID:     "pubmed:" + rec.UID,
		Title:  rec.Title,
		URL:    "https://pubmed.ncbi.nlm.nih.gov/" + rec.UID + "/",
		Source: domain.SourcePubMed,
	}

	// PubDate forms include "2023 Jan 5", "2023 Jan", "2023".
	fields := strings.Fields(rec.PubDate)
	if len(fields) > 0 {
		if year, err := strconv.Atoi(fields[0]); err == nil {
			paper.Year = year
		}
	}

	for _, aid := range rec.ArticleIDs {
		if aid.IDType == "doi" && aid.Value != "" {
			paper.DOI = aid.Value
			paper.ID = "doi:" + aid.Value
			break
		}
	}

	paper.Authors = make([]string, 0, len(rec.Authors))
	for _, a := range rec.Authors {
		if a.Name != "" {
			paper.Authors = append(paper.Authors, a.Name)
		}
	}

	return paper
}
