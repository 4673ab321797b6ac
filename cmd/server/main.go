// Package main provides the entry point for the review pipeline HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/review-pipeline/internal/config"
	"github.com/helixir/review-pipeline/internal/database"
	"github.com/helixir/review-pipeline/internal/engine"
	"github.com/helixir/review-pipeline/internal/events"
	"github.com/helixir/review-pipeline/internal/llm"
	"github.com/helixir/review-pipeline/internal/observability"
	"github.com/helixir/review-pipeline/internal/papersources"
	"github.com/helixir/review-pipeline/internal/papersources/arxiv"
	"github.com/helixir/review-pipeline/internal/papersources/fulltext"
	"github.com/helixir/review-pipeline/internal/papersources/openalex"
	"github.com/helixir/review-pipeline/internal/papersources/pubmed"
	"github.com/helixir/review-pipeline/internal/papersources/semanticscholar"
	"github.com/helixir/review-pipeline/internal/repository"
	httpserver "github.com/helixir/review-pipeline/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("review-pipeline server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Checkpoint storage: PostgreSQL when configured, in-memory otherwise.
	var (
		store repository.CheckpointStore
		db    *database.DB
	)
	if cfg.Database.Enabled {
		db, err = database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if cfg.Database.MigrationAutoRun {
			migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			if err := migrator.Up(); err != nil {
				migrator.Close()
				return fmt.Errorf("run migrations: %w", err)
			}
			if err := migrator.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close migrator")
			}
		}

		store = repository.NewPGCheckpointStore(db.Pool())
	} else {
		logger.Warn().Msg("database disabled, checkpoints are held in memory")
		store = repository.NewMemoryStore()
	}

	llmClient, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	logger.Info().
		Str("provider", llmClient.Provider()).
		Str("model", llmClient.Model()).
		Msg("llm client ready")

	registry, oaClient := buildSources(cfg)
	health := papersources.NewHealthTracker()
	aggregator := papersources.NewAggregator(registry, health, logger, metrics, cfg.Engine.SearchTimeout)

	var resolver *fulltext.Resolver
	if cfg.Fulltext.Enabled {
		resolver = fulltext.NewResolver(fulltext.Config{
			UnpaywallBaseURL: cfg.Fulltext.UnpaywallBaseURL,
			UnpaywallEmail:   cfg.Fulltext.UnpaywallEmail,
			Timeout:          cfg.Fulltext.Timeout,
			Concurrency:      cfg.Fulltext.Concurrency,
		}, papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout: cfg.Fulltext.Timeout,
		}), oaClient, logger)
	}

	stages := engine.NewPipelineStages(llmClient, aggregator, resolver, logger, metrics, engine.StageConfig{
		MaxKeywords:        cfg.Engine.MaxKeywords,
		PapersPerQuery:     cfg.Engine.PapersPerQuery,
		ExtractConcurrency: cfg.Engine.ExtractConcurrency,
		ExtractRetries:     cfg.LLM.MaxRetries,
		HistoryTurns:       cfg.Engine.HistoryTurns,
	})

	var emitter engine.LifecycleEmitter
	if kafkaEmitter := events.NewEmitter(cfg.Kafka, logger); kafkaEmitter != nil {
		defer func() {
			if err := kafkaEmitter.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close kafka emitter")
			}
		}()
		emitter = kafkaEmitter
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka emitter ready")
	}

	eng := engine.NewEngine(stages, store, logger, metrics, emitter)
	manager := engine.NewManager(eng, store, logger, metrics, engine.ManagerConfig{
		FlushWindow:     cfg.Stream.FlushWindow,
		BufferSize:      cfg.Stream.BufferSize,
		MaxDraftRetries: cfg.Engine.MaxDraftRetries,
	})

	httpSrv := httpserver.NewServer(cfg.Server, cfg.Metrics, manager, db, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

// buildSources registers the configured paper source clients. The OpenAlex
// client is returned separately because full-text resolution uses it as a
// fallback lookup.
func buildSources(cfg *config.Config) (*papersources.Registry, *openalex.Client) {
	registry := papersources.NewRegistry()

	ss := cfg.PaperSources.SemanticScholar
	registry.Register(semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:    ss.BaseURL,
		APIKey:     ss.APIKey,
		Timeout:    ss.Timeout,
		RateLimit:  ss.RateLimit,
		MaxResults: ss.MaxResults,
		Enabled:    ss.Enabled,
	}, nil))

	ax := cfg.PaperSources.ArXiv
	registry.Register(arxiv.NewClient(arxiv.Config{
		BaseURL:    ax.BaseURL,
		Timeout:    ax.Timeout,
		RateLimit:  ax.RateLimit,
		MaxResults: ax.MaxResults,
		Enabled:    ax.Enabled,
	}, nil))

	pm := cfg.PaperSources.PubMed
	registry.Register(pubmed.NewClient(pubmed.Config{
		BaseURL:    pm.BaseURL,
		APIKey:     pm.APIKey,
		Timeout:    pm.Timeout,
		RateLimit:  pm.RateLimit,
		MaxResults: pm.MaxResults,
		Enabled:    pm.Enabled,
	}, nil))

	oa := cfg.PaperSources.OpenAlex
	oaClient := openalex.NewClient(openalex.Config{
		BaseURL:    oa.BaseURL,
		Timeout:    oa.Timeout,
		RateLimit:  oa.RateLimit,
		MaxResults: oa.MaxResults,
		Enabled:    oa.Enabled,
	}, nil)
	registry.Register(oaClient)

	return registry, oaClient
}
