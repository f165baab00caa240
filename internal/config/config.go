// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DOCSAGE_* and DATABASE_URL)
//  2. Config file (~/.docsage/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - Model backend: Ollama host, generation model, embedding model and dimension
//   - Storage: PostgreSQL connection for the chunk store
//   - Retrieval: top-k, relevance floors, hybrid weights, per-call timeouts
//   - Caching: embedding LRU size, query-result and response TTLs
//   - Serve: HTTP listen address, rate limiting, proxy trust
//
// Sensitive fields (the database password) are masked in MarshalJSON.
// Validation uses sentinel errors so callers can check with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedding model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidHybridWeight indicates the semantic/keyword weight is out of range.
	ErrInvalidHybridWeight = errors.New("invalid hybrid weight")

	// ErrInvalidRelevanceFloor indicates the relevance floor is out of range.
	ErrInvalidRelevanceFloor = errors.New("invalid relevance floor")

	// ErrInvalidTimeout indicates a timeout setting is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidCacheSize indicates a cache size setting is not positive.
	ErrInvalidCacheSize = errors.New("invalid cache size")
)

// Defaults for retrieval behavior. These mirror the operational settings the
// service was tuned with; all are overridable through config.
const (
	// DefaultEmbeddingDim matches nomic-embed-text output.
	DefaultEmbeddingDim = 768

	// DefaultTopK is the candidate count per retrieval when the caller
	// does not specify one.
	DefaultTopK = 5

	// DefaultCharBudget bounds assembled context size in characters.
	DefaultCharBudget = 8000

	// DefaultSemanticWeight is the semantic share of the hybrid merge.
	// The keyword share is the complement.
	DefaultSemanticWeight = 0.7
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// sensitive fields, update MarshalJSON.
type Config struct {
	// Model backend (Ollama)
	OllamaHost    string  `mapstructure:"ollama_host" json:"ollama_host"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDim  int     `mapstructure:"embedding_dim" json:"embedding_dim"`
	Temperature   float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns" json:"postgres_max_conns"`

	// Retrieval
	TopK              int           `mapstructure:"top_k" json:"top_k"`
	CharBudget        int           `mapstructure:"char_budget" json:"char_budget"`
	SemanticWeight    float64       `mapstructure:"semantic_weight" json:"semantic_weight"`
	RelevanceFloor    float64       `mapstructure:"relevance_floor" json:"relevance_floor"`
	RetrievalTimeout  time.Duration `mapstructure:"retrieval_timeout" json:"retrieval_timeout"`
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" json:"generation_timeout"`

	// Caching
	EmbeddingCacheSize int           `mapstructure:"embedding_cache_size" json:"embedding_cache_size"`
	QueryCacheSize     int           `mapstructure:"query_cache_size" json:"query_cache_size"`
	QueryCacheTTL      time.Duration `mapstructure:"query_cache_ttl" json:"query_cache_ttl"`
	ResponseCacheSize  int           `mapstructure:"response_cache_size" json:"response_cache_size"`
	ResponseCacheTTL   time.Duration `mapstructure:"response_cache_ttl" json:"response_cache_ttl"`

	// Serve
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docsage")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("DOCSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes priority over individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Model backend
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("model_name", "mistral:7b")
	v.SetDefault("embedder_model", "nomic-embed-text:latest")
	v.SetDefault("embedding_dim", DefaultEmbeddingDim)
	v.SetDefault("temperature", 0.1)
	v.SetDefault("max_tokens", 512)

	// PostgreSQL (matches docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docsage")
	v.SetDefault("postgres_password", "docsage_dev_password")
	v.SetDefault("postgres_db_name", "docsage")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("postgres_max_conns", 10)

	// Retrieval
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("char_budget", DefaultCharBudget)
	v.SetDefault("semantic_weight", DefaultSemanticWeight)
	v.SetDefault("relevance_floor", 0.25)
	v.SetDefault("retrieval_timeout", 5*time.Second)
	v.SetDefault("embed_timeout", 10*time.Second)
	v.SetDefault("generation_timeout", 60*time.Second)

	// Caching
	v.SetDefault("embedding_cache_size", 2000)
	v.SetDefault("query_cache_size", 1000)
	v.SetDefault("query_cache_ttl", 10*time.Minute)
	v.SetDefault("response_cache_size", 1000)
	v.SetDefault("response_cache_ttl", 2*time.Hour)

	// Serve
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("rate_burst", 60)
	v.SetDefault("trust_proxy", false)

	// Logging
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// MarshalJSON masks sensitive fields when the config is serialized,
// for example by a debug endpoint or startup logging.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// SlogLevel converts the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
