package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/review-pipeline/internal/citecheck"
	"github.com/helixir/review-pipeline/internal/domain"
	"github.com/helixir/review-pipeline/internal/llm"
	"github.com/helixir/review-pipeline/internal/observability"
	"github.com/helixir/review-pipeline/internal/papersources"
	"github.com/helixir/review-pipeline/internal/papersources/fulltext"
)

// Sink receives progress output from running stages. stream.Queue satisfies it.
type Sink interface {
	// Push appends an incremental text record for the stage.
	Push(stage domain.Node, text string)
	// StageChange marks the transition into a stage.
	StageChange(stage domain.Node, detail string)
}

// Stages is the set of executable workflow stages. The engine owns routing
// and checkpointing; a Stages implementation owns the work inside each node.
type Stages interface {
	Plan(ctx context.Context, s *domain.Session, sink Sink) error
	Search(ctx context.Context, s *domain.Session, sink Sink) error
	Extract(ctx context.Context, s *domain.Session, sink Sink) error
	Draft(ctx context.Context, s *domain.Session, sink Sink) error
	Validate(ctx context.Context, s *domain.Session, sink Sink) error
}

// StageConfig bounds the pipeline stages.
type StageConfig struct {
	// MaxKeywords caps the search keywords produced by planning.
	MaxKeywords int
	// PapersPerQuery is the per-source result limit for one keyword.
	PapersPerQuery int
	// ExtractConcurrency bounds concurrent per-paper extraction calls.
	ExtractConcurrency int
	// ExtractRetries is the number of retries per paper on transient
	// extraction failures.
	ExtractRetries int
	// HistoryTurns is the number of conversation turns fed into prompts.
	HistoryTurns int
}

// applyDefaults fills zero fields.
func (c *StageConfig) applyDefaults() {
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 5
	}
	if c.PapersPerQuery <= 0 {
		c.PapersPerQuery = 10
	}
	if c.ExtractConcurrency <= 0 {
		c.ExtractConcurrency = 2
	}
	if c.ExtractRetries <= 0 {
		c.ExtractRetries = 2
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 5
	}
}

// PipelineStages is the production Stages implementation: LLM-backed
// planning, multi-source search, bounded-concurrency extraction, LLM
// drafting and citation validation.
type PipelineStages struct {
	llm        llm.Client
	aggregator *papersources.Aggregator
	resolver   *fulltext.Resolver
	logger     zerolog.Logger
	metrics    *observability.Metrics
	cfg        StageConfig
}

// Compile-time check that PipelineStages implements Stages.
var _ Stages = (*PipelineStages)(nil)

// NewPipelineStages creates the production stage set. resolver and metrics
// may be nil.
func NewPipelineStages(client llm.Client, aggregator *papersources.Aggregator, resolver *fulltext.Resolver, logger zerolog.Logger, metrics *observability.Metrics, cfg StageConfig) *PipelineStages {
	cfg.applyDefaults()
	return &PipelineStages{
		llm:        client,
		aggregator: aggregator,
		resolver:   resolver,
		logger:     logger.With().Str("component", "stages").Logger(),
		metrics:    metrics,
		cfg:        cfg,
	}
}

// keywordsPayload is the JSON shape planning expects from the LLM.
type keywordsPayload struct {
	Keywords []string `json:"keywords"`
}

// Plan derives search keywords from the research question.
func (p *PipelineStages) Plan(ctx context.Context, s *domain.Session, sink Sink) error {
	system, user := buildKeywordPrompt(s, p.cfg.MaxKeywords, p.cfg.HistoryTurns)

	resp, err := p.llm.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user}},
		JSONOnly: true,
	})
	if err != nil {
		return fmt.Errorf("keyword planning: %w", err)
	}
	p.recordLLM("plan", resp)

	var payload keywordsPayload
	if err := parseJSONContent(resp.Content, &payload); err != nil {
		return fmt.Errorf("keyword planning: %w", err)
	}

	keywords := make([]string, 0, p.cfg.MaxKeywords)
	for _, kw := range payload.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, kw)
		if len(keywords) == p.cfg.MaxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		return fmt.Errorf("keyword planning: model produced no keywords")
	}

	s.Keywords = keywords
	line := s.AppendLog("planned %d search keywords: %s", len(keywords), strings.Join(keywords, "; "))
	sink.Push(domain.NodePlan, line+"\n")
	return nil
}

// Search fans each keyword out to the requested sources and accumulates the
// deduplicated candidates on the session. It fails only when no keyword
// round produced papers and at least one round failed outright.
func (p *PipelineStages) Search(ctx context.Context, s *domain.Session, sink Sink) error {
	// Seed dedup state with candidates from earlier rounds.
	seenIDs := make(map[string]bool, len(s.Candidates))
	seenTitles := make(map[string]bool, len(s.Candidates))
	for _, c := range s.Candidates {
		seenIDs[c.ID] = true
		if key := papersources.NormalizeTitle(c.Title); key != "" {
			seenTitles[key] = true
		}
	}

	added := 0
	var roundErrs []error
	for _, keyword := range s.Keywords {
		result, err := p.aggregator.Search(ctx, keyword, s.Sources, p.cfg.PapersPerQuery)
		if err != nil {
			roundErrs = append(roundErrs, fmt.Errorf("keyword %q: %w", keyword, err))
			line := s.AppendLog("search for %q failed: all sources unavailable", keyword)
			sink.Push(domain.NodeSearch, line+"\n")
			continue
		}

		kept := 0
		for _, paper := range result.Papers {
			key := papersources.NormalizeTitle(paper.Title)
			if seenIDs[paper.ID] || (key != "" && seenTitles[key]) {
				continue
			}
			seenIDs[paper.ID] = true
			if key != "" {
				seenTitles[key] = true
			}
			s.Candidates = append(s.Candidates, paper)
			kept++
		}
		added += kept

		line := s.AppendLog("search for %q found %d papers (%d new after dedup)", keyword, len(result.Papers), kept)
		sink.Push(domain.NodeSearch, line+"\n")
	}

	if added == 0 && len(roundErrs) == len(s.Keywords) && len(roundErrs) > 0 {
		return fmt.Errorf("search: every keyword round failed: %w", roundErrs[0])
	}

	line := s.AppendLog("search complete: %d candidate papers", len(s.Candidates))
	sink.Push(domain.NodeSearch, line+"\n")
	return nil
}

// contributionPayload is the JSON shape extraction expects from the LLM.
type contributionPayload struct {
	CoreContribution string               `json:"core_contribution"`
	Contribution     *domain.Contribution `json:"contribution"`
}

// Extract summarizes each approved paper's contribution with bounded
// concurrency. Individual failures degrade: the paper keeps an empty
// contribution and stays in the citation ordering.
func (p *PipelineStages) Extract(ctx context.Context, s *domain.Session, sink Sink) error {
	approved := s.ApprovedPapers()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ExtractConcurrency)

	for _, paper := range approved {
		paper := paper
		g.Go(func() error {
			if err := p.extractOne(gctx, paper); err != nil {
				p.logger.Warn().Err(err).Str("paper_id", paper.ID).Msg("extraction failed, keeping paper without contribution")
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Best-effort PDF URL resolution for papers that arrived without one.
	if p.resolver != nil {
		p.resolver.EnrichAll(ctx, approved)
	}

	extracted := 0
	for _, paper := range approved {
		if paper.CoreContribution != "" {
			extracted++
		}
	}
	line := s.AppendLog("extracted contributions for %d of %d approved papers", extracted, len(approved))
	sink.Push(domain.NodeExtract, line+"\n")

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// extractOne runs the extraction call for one paper with retries on
// transient failures.
func (p *PipelineStages) extractOne(ctx context.Context, paper *domain.Paper) error {
	system, user := buildExtractionPrompt(paper)

	operation := func() error {
		resp, err := p.llm.Complete(ctx, llm.Request{
			System:   system,
			Messages: []llm.Message{{Role: llm.RoleUser, Content: user}},
			JSONOnly: true,
		})
		if err != nil {
			return err
		}
		p.recordLLM("extract", resp)

		var payload contributionPayload
		if err := parseJSONContent(resp.Content, &payload); err != nil {
			// A malformed answer may parse on a fresh attempt.
			return err
		}
		if payload.CoreContribution == "" {
			return backoff.Permanent(fmt.Errorf("extraction returned no core contribution"))
		}

		paper.CoreContribution = payload.CoreContribution
		if !payload.Contribution.Empty() {
			paper.Contribution = payload.Contribution
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.ExtractRetries)),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

// draftPayload is the JSON shape drafting expects from the LLM.
type draftPayload struct {
	Title    string `json:"title"`
	Sections []struct {
		Heading string `json:"heading"`
		Body    string `json:"body"`
	} `json:"sections"`
}

// Draft generates the review draft (or regenerates it with validator
// feedback when defects are present).
func (p *PipelineStages) Draft(ctx context.Context, s *domain.Session, sink Sink) error {
	approved := s.ApprovedPapers()
	if len(approved) == 0 {
		return fmt.Errorf("drafting: no approved papers")
	}

	system, user := buildDraftPrompt(s, approved, s.Defects, p.cfg.HistoryTurns)

	resp, err := p.llm.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user}},
		JSONOnly: true,
	})
	if err != nil {
		return fmt.Errorf("drafting: %w", err)
	}
	p.recordLLM("draft", resp)

	var payload draftPayload
	if err := parseJSONContent(resp.Content, &payload); err != nil {
		return fmt.Errorf("drafting: %w", err)
	}
	if len(payload.Sections) == 0 {
		return fmt.Errorf("drafting: model produced no sections")
	}

	draft := &domain.Draft{Title: payload.Title}
	for _, sec := range payload.Sections {
		if strings.TrimSpace(sec.Body) == "" {
			continue
		}
		draft.Sections = append(draft.Sections, domain.Section{
			Heading: sec.Heading,
			Body:    sec.Body,
		})
	}
	if len(draft.Sections) == 0 {
		return fmt.Errorf("drafting: model produced only empty sections")
	}

	s.Draft = draft

	attempt := "draft"
	if s.RetryCount > 0 {
		attempt = fmt.Sprintf("draft (retry %d)", s.RetryCount)
	}
	line := s.AppendLog("generated %s: %q with %d sections", attempt, draft.Title, len(draft.Sections))
	sink.Push(domain.NodeDraft, line+"\n")

	// Stream the generated text section by section.
	for _, sec := range draft.Sections {
		sink.Push(domain.NodeDraft, sec.Heading+"\n")
		sink.Push(domain.NodeDraft, sec.Body+"\n")
	}

	return nil
}

// Validate checks the draft's citations and stores defect feedback on the
// session. It never fails; routing decides what defects mean.
func (p *PipelineStages) Validate(ctx context.Context, s *domain.Session, sink Sink) error {
	report := citecheck.Validate(s.Draft, s.ApprovedPapers())
	s.Defects = report.Messages()

	if p.metrics != nil {
		kinds := make(map[citecheck.DefectKind]int)
		for _, d := range report.Defects {
			kinds[d.Kind]++
		}
		for kind, count := range kinds {
			p.metrics.RecordCitationDefect(string(kind), count)
		}
	}

	var line string
	if report.Valid() {
		line = s.AppendLog("citation validation passed")
	} else {
		line = s.AppendLog("citation validation found %d defects", len(report.Defects))
	}
	sink.Push(domain.NodeValidate, line+"\n")
	return nil
}

// recordLLM feeds LLM usage into metrics.
func (p *PipelineStages) recordLLM(operation string, resp *llm.Response) {
	if p.metrics == nil || resp == nil {
		return
	}
	p.metrics.RecordLLMRequest(operation, resp.Model, 0, resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

// parseJSONContent decodes a JSON object out of LLM output, tolerating
// surrounding markdown code fences.
func parseJSONContent(content string, out interface{}) error {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("parsing model JSON: %w", err)
	}
	return nil
}
