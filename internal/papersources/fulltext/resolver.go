// Package fulltext resolves open access PDF URLs for papers that the search
// providers returned without one. Unpaywall is queried by DOI first, with
// OpenAlex as a fallback. Resolution is best effort; failures only log.
package fulltext

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/papersources"
	"github.com/helixir/review-pipeline/internal/papersources/openalex"
)

const (
	// DefaultUnpaywallBaseURL is the Unpaywall REST API base URL.
	DefaultUnpaywallBaseURL = "https://api.unpaywall.org/v2"

	// DefaultTimeout is the default per-lookup timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultConcurrency bounds concurrent lookups during EnrichAll.
	DefaultConcurrency = 4
)

// Config contains configuration options for the resolver.
type Config struct {
	// UnpaywallBaseURL is the Unpaywall API base URL.
	UnpaywallBaseURL string

	// UnpaywallEmail identifies the caller to Unpaywall (required by the API).
	// Unpaywall lookups are skipped when empty.
	UnpaywallEmail string

	// Timeout is the per-lookup timeout.
	Timeout time.Duration

	// Concurrency bounds concurrent lookups during EnrichAll.
	Concurrency int
}

// unpaywallResponse is the subset of the Unpaywall DOI payload we read.
type unpaywallResponse struct {
	BestOALocation *struct {
		URLForPDF     string `json:"url_for_pdf"`
		URLForLanding string `json:"url_for_landing_page"`
	} `json:"best_oa_location"`
}

// Resolver resolves PDF URLs via Unpaywall with an OpenAlex fallback.
type Resolver struct {
	httpClient *papersources.HTTPClient
	openalex   *openalex.Client
	logger     zerolog.Logger
	config     Config
}

// NewResolver creates a resolver. The OpenAlex client may be nil, in which
// case only Unpaywall is consulted.
func NewResolver(cfg Config, httpClient *papersources.HTTPClient, oa *openalex.Client, logger zerolog.Logger) *Resolver {
	if cfg.UnpaywallBaseURL == "" {
		cfg.UnpaywallBaseURL = DefaultUnpaywallBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout: cfg.Timeout,
		})
	}
	return &Resolver{
		httpClient: httpClient,
		openalex:   oa,
		logger:     logger.With().Str("component", "fulltext").Logger(),
		config:     cfg,
	}
}

// Resolve fills in the paper's PDFURL when it is missing and a DOI is known.
// Returns true if a URL was found.
func (r *Resolver) Resolve(ctx context.Context, paper *domain.Paper) bool {
	if paper.PDFURL != "" || paper.DOI == "" {
		return paper.PDFURL != ""
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	if pdfURL, err := r.unpaywall(lookupCtx, paper.DOI); err == nil && pdfURL != "" {
		paper.PDFURL = pdfURL
		return true
	} else if err != nil {
		r.logger.Debug().Err(err).Str("doi", paper.DOI).Msg("unpaywall lookup failed")
	}

	if r.openalex != nil {
		work, err := r.openalex.GetWorkByDOI(lookupCtx, paper.DOI)
		if err != nil {
			r.logger.Debug().Err(err).Str("doi", paper.DOI).Msg("openalex lookup failed")
			return false
		}
		if pdfURL := work.PDFURL(); pdfURL != "" {
			paper.PDFURL = pdfURL
			return true
		}
	}

	return false
}

// EnrichAll resolves PDF URLs for all papers missing one, with bounded
// concurrency. It never returns an error; individual failures only log.
func (r *Resolver) EnrichAll(ctx context.Context, papers []*domain.Paper) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for _, paper := range papers {
		if paper.PDFURL != "" || paper.DOI == "" {
			continue
		}
		paper := paper
		g.Go(func() error {
			r.Resolve(gctx, paper)
			return nil
		})
	}

	_ = g.Wait()
}

// unpaywall looks up the best open access location for a DOI.
func (r *Resolver) unpaywall(ctx context.Context, doi string) (string, error) {
	if r.config.UnpaywallEmail == "" {
		return "", nil
	}

	q := url.Values{}
	q.Set("email", r.config.UnpaywallEmail)
	reqURL := strings.TrimRight(r.config.UnpaywallBaseURL, "/") + "/" + url.PathEscape(doi) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", domain.NewExternalAPIError("Unpaywall", resp.StatusCode, string(body), nil)
	}

	var payload unpaywallResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if payload.BestOALocation != nil && payload.BestOALocation.URLForPDF != "" {
		return payload.BestOALocation.URLForPDF, nil
	}
	return "", nil
}
