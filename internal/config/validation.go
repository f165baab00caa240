package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate performs fail-fast validation of all settings.
// Returns a sentinel error (wrapped with context) on the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validateCaching()
}

func (c *Config) validateBackend() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDim < 1 || c.EmbeddingDim > 8192 {
		return fmt.Errorf("%w: embedding_dim must be in [1, 8192], got %d", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	u, err := url.Parse(c.OllamaHost)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an http(s) URL", ErrInvalidOllamaHost, c.OllamaHost)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port must be in [1, 65535], got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.SemanticWeight < 0 || c.SemanticWeight > 1 {
		return fmt.Errorf("%w: semantic_weight must be in [0, 1], got %g", ErrInvalidHybridWeight, c.SemanticWeight)
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor > 1 {
		return fmt.Errorf("%w: relevance_floor must be in [0, 1], got %g", ErrInvalidRelevanceFloor, c.RelevanceFloor)
	}
	for name, d := range map[string]time.Duration{
		"retrieval_timeout":  c.RetrievalTimeout,
		"embed_timeout":      c.EmbedTimeout,
		"generation_timeout": c.GenerationTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidTimeout, name)
		}
	}
	return nil
}

func (c *Config) validateCaching() error {
	for name, size := range map[string]int{
		"embedding_cache_size": c.EmbeddingCacheSize,
		"query_cache_size":     c.QueryCacheSize,
		"response_cache_size":  c.ResponseCacheSize,
	} {
		if size < 1 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidCacheSize, name, size)
		}
	}
	return nil
}
