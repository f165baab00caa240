package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/singleflight"

	"github.com/docsage/docsage/internal/cache"
)

// Embedder turns text into fixed-dimension vectors via the configured
// model backend. Results are cached by content hash; concurrent requests
// for the same uncached text are collapsed into a single backend call.
//
// Embedder is safe for concurrent use.
type Embedder struct {
	embedder ai.Embedder
	cache    *cache.Cache[[]float32]
	dim      int
	timeout  time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

// NewEmbedder creates an embedding client.
// dim is the dimension every returned vector must have; a vector of any
// other length fails with ErrInvalidResponse.
func NewEmbedder(embedder ai.Embedder, c *cache.Cache[[]float32], dim int, timeout time.Duration, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		embedder: embedder,
		cache:    c,
		dim:      dim,
		timeout:  timeout,
		logger:   logger,
	}
}

// Embed returns the embedding vector for text, serving repeated texts
// from cache. Callers must not mutate the returned slice; it may be
// shared with the cache and with concurrent callers.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("embed", e.embedder.Name(), text)

	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	// Single-flight per key: the first caller pays the backend call,
	// concurrent callers for the same text wait for its result.
	result, err, _ := e.group.Do(key, func() (any, error) {
		if vec, ok := e.cache.Get(key); ok {
			return vec, nil
		}

		vec, err := e.embedOnce(ctx, text)
		if err != nil {
			return nil, err
		}

		e.cache.Put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	vec, ok := result.([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected embedding type %T", ErrInvalidResponse, result)
	}
	return vec, nil
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.embedder.Embed(callCtx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding call: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: embedding call: %w", ErrUnavailable, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		e.logger.Error("backend returned empty embedding", "text_length", len(text))
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidResponse)
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != e.dim {
		e.logger.Error("backend returned wrong embedding dimension",
			"got", len(vec), "want", e.dim, "model", e.embedder.Name())
		return nil, fmt.Errorf("%w: embedding dimension %d, want %d", ErrInvalidResponse, len(vec), e.dim)
	}

	return vec, nil
}

// CacheStats exposes embedding cache counters for the stats endpoint.
func (e *Embedder) CacheStats() cache.Stats {
	return e.cache.Stats()
}
