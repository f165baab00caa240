package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/docsage/docsage/db"
	"github.com/docsage/docsage/internal/answer"
	"github.com/docsage/docsage/internal/backend"
	"github.com/docsage/docsage/internal/cache"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/retrieval"
	"github.com/docsage/docsage/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := store.NewPool(ctx, cfg.PostgresConnectionString(), cfg.PostgresMaxConns)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Store = store.New(pool, cfg.EmbeddingDim, logger)

	g, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	if err := a.provideCaches(); err != nil {
		return nil, err
	}

	a.Embedder = backend.NewEmbedder(embedder, a.EmbedCache, cfg.EmbeddingDim, cfg.EmbedTimeout, logger)
	a.Generator = backend.NewGenerator(g, "ollama/"+cfg.ModelName, cfg.GenerationTimeout, logger)

	a.Retriever = retrieval.New(a.Store, a.Embedder, a.QueryCache, retrieval.Config{
		SemanticWeight: cfg.SemanticWeight,
		RelevanceFloor: cfg.RelevanceFloor,
		Timeout:        cfg.RetrievalTimeout,
	}, logger)

	a.Answer = answer.New(a.Retriever, a.Generator, a.ResponseCache, answer.Config{
		MaxSources:  cfg.TopK,
		CharBudget:  cfg.CharBudget,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, logger)

	// Corpus mutations invalidate the derived caches. The embedding
	// cache keys on input text alone and survives mutations.
	a.Store.OnMutation(a.QueryCache.InvalidateAll)
	a.Store.OnMutation(a.ResponseCache.InvalidateAll)

	return a, nil
}

// provideGenkit initializes Genkit with the Ollama provider and registers
// the generation model and embedder. Ollama requires explicit model
// registration, there is no auto-discovery.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, ai.Embedder, error) {
	ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
	g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
	if g == nil {
		return nil, nil, errors.New("initializing genkit with ollama provider")
	}

	ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
		Name: cfg.ModelName,
		Type: "chat",
	}, nil)
	ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	embedder := ollama.Embedder(g, cfg.OllamaHost)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found on %s", cfg.EmbedderModel, cfg.OllamaHost)
	}

	logger.Info("initialized genkit with ollama provider",
		"model", cfg.ModelName, "embedder", cfg.EmbedderModel, "host", cfg.OllamaHost)
	return g, embedder, nil
}

func (a *App) provideCaches() error {
	cfg := a.Config

	embedCache, err := cache.New[[]float32](cfg.EmbeddingCacheSize, 0)
	if err != nil {
		return fmt.Errorf("creating embedding cache: %w", err)
	}
	a.EmbedCache = embedCache

	queryCache, err := cache.New[[]retrieval.Candidate](cfg.QueryCacheSize, cfg.QueryCacheTTL)
	if err != nil {
		return fmt.Errorf("creating query cache: %w", err)
	}
	a.QueryCache = queryCache

	responseCache, err := cache.New[answer.Response](cfg.ResponseCacheSize, cfg.ResponseCacheTTL)
	if err != nil {
		return fmt.Errorf("creating response cache: %w", err)
	}
	a.ResponseCache = responseCache

	return nil
}
