// Package app provides application initialization and dependency wiring.
//
// App is the container that owns every long-lived component: the database
// pool, the Genkit runtime with the Ollama provider, the cache tiers, the
// retriever, and the answer pipeline. Setup builds it, Close releases it.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsage/docsage/internal/answer"
	"github.com/docsage/docsage/internal/backend"
	"github.com/docsage/docsage/internal/cache"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/retrieval"
	"github.com/docsage/docsage/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool
	Store  *store.Store

	Embedder  *backend.Embedder
	Generator *backend.Generator
	Retriever *retrieval.Retriever
	Answer    *answer.Service

	EmbedCache    *cache.Cache[[]float32]
	QueryCache    *cache.Cache[[]retrieval.Candidate]
	ResponseCache *cache.Cache[answer.Response]
}

// Close releases all resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return nil
}
