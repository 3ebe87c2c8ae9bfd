package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tabletalk/tabletalk/internal/api"
	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/critic"
	"github.com/tabletalk/tabletalk/internal/generate"
	"github.com/tabletalk/tabletalk/internal/history"
	historypostgres "github.com/tabletalk/tabletalk/internal/history/postgres"
	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/match"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/resolve"
	"github.com/tabletalk/tabletalk/internal/schema"
	"github.com/tabletalk/tabletalk/internal/storage"
	s3store "github.com/tabletalk/tabletalk/internal/storage/s3"
	duckdbengine "github.com/tabletalk/tabletalk/internal/store/duckdb"
)

// queryRowLimit caps how many rows a generated query may return.
const queryRowLimit = 1000

func main() {
	cfg, err := config.LoadFromEnv("tabletalk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	engine, err := duckdbengine.NewEngine(duckdbengine.Options{
		SampleValues:     cfg.Resolver.SampleValues,
		CategoricalLimit: cfg.Resolver.CategoricalLimit,
	})
	if err != nil {
		logger.Error("failed to open database engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	registry := schema.NewRegistry()
	if cfg.Data.Dir != "" {
		loaded, err := engine.IngestDir(startupCtx, cfg.Data.Dir)
		if err != nil {
			logger.Error("failed to ingest data directory",
				slog.String("dir", cfg.Data.Dir), slog.Any("error", err))
			os.Exit(1)
		}
		registry.Replace(loaded)
		logger.Info("loaded datasets", slog.Int("tables", len(loaded.Tables)))
	}

	var archiver *storage.Archiver
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(startupCtx, cfg.Archive)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = storage.NewArchiver(objectStore, engine, logger)
		restored, err := archiver.Restore(startupCtx)
		if err != nil {
			logger.Error("failed to restore archived tables", slog.Any("error", err))
			os.Exit(1)
		}
		for _, table := range restored {
			registry.Upsert(table)
		}
		if len(restored) > 0 {
			logger.Info("restored archived tables", slog.Int("tables", len(restored)))
		}
	}

	var recorder history.Recorder = history.Nop{}
	readiness := []api.ReadinessCheck{
		api.CheckLLMConfig(cfg),
		api.CheckDatasets(registry),
	}
	if cfg.History.DSN != "" {
		historyDB, err := historypostgres.Open(startupCtx, cfg.History)
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()

		historyStore := historypostgres.NewStore(historyDB)
		if err := historyStore.EnsureSchema(startupCtx); err != nil {
			logger.Error("failed to ensure history schema", slog.Any("error", err))
			os.Exit(1)
		}
		recorder = historyStore
		readiness = append(readiness, historyStore.HealthCheck)
	}

	semantic := semanticMatcher(startupCtx, cfg, logger)

	completer, err := llm.NewAnthropicClient(cfg.LLM)
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}

	resolver := resolve.New(semantic, resolve.Config{
		InclusionThreshold:    cfg.Resolver.InclusionThreshold,
		RelationshipThreshold: cfg.Resolver.RelationshipThreshold,
		AdmissionThreshold:    cfg.Resolver.AdmissionThreshold,
	})
	generator := generate.New(completer, cfg.LLM.Temperature)
	corrector := critic.New(generator, engine, critic.Config{
		MaxAttempts: cfg.Critic.MaxAttempts,
		RowLimit:    queryRowLimit,
	})
	questionPipeline := pipeline.New(resolver, corrector, registry, logger)

	var summarizer *generate.Summarizer
	if cfg.LLM.SummaryEnabled {
		summarizer = generate.NewSummarizer(completer)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          questionPipeline,
		Engine:            engine,
		Registry:          registry,
		Archiver:          archiver,
		History:           recorder,
		Summarizer:        summarizer,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
		deps.AdminMiddleware = auth.RequireRole(auth.RoleAdmin)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// semanticMatcher probes the embeddings endpoint once at startup. An
// unreachable endpoint downgrades matching to lexical-only instead of
// failing the boot.
func semanticMatcher(ctx context.Context, cfg config.Config, logger *slog.Logger) match.Semantic {
	if !cfg.Embeddings.Enabled {
		observability.SetSemanticMatcherAvailable(false)
		return match.Disabled{}
	}

	embedder, err := match.NewOpenAIEmbedder(match.OpenAIEmbedderConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		APIKey:  cfg.Embeddings.APIKey,
		Model:   cfg.Embeddings.Model,
		Timeout: cfg.Embeddings.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := match.Probe(probeCtx, embedder); err != nil {
		logger.Warn("embeddings endpoint unavailable, using lexical matching only",
			slog.String("base_url", cfg.Embeddings.BaseURL), slog.Any("error", err))
		observability.SetSemanticMatcherAvailable(false)
		return match.Disabled{}
	}

	observability.SetSemanticMatcherAvailable(true)
	logger.Info("semantic matcher enabled", slog.String("model", cfg.Embeddings.Model))
	return match.NewEmbeddingMatcher(embedder, cfg.Embeddings.CacheTTL)
}
