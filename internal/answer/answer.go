// Package answer runs the end-to-end query pipeline: strategy
// selection, retrieval, context assembly, and grounded generation.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docsage/docsage/internal/assemble"
	"github.com/docsage/docsage/internal/backend"
	"github.com/docsage/docsage/internal/cache"
	"github.com/docsage/docsage/internal/retrieval"
)

// groundedSystemPrompt constrains answers to the assembled context and
// requires inline citations matching the assembled source indices.
const groundedSystemPrompt = `You are a documentation assistant. Answer strictly from the provided sources.
Rules:
- Use only information present in the sources below. Do not add outside knowledge.
- Cite every claim with its source marker, for example [Source 2].
- If the sources do not contain the answer, say so plainly instead of guessing.`

// noSourcesSystemPrompt handles queries where retrieval produced
// nothing usable.
const noSourcesSystemPrompt = `You are a documentation assistant. No relevant documents were found for this question.
Tell the user you could not find relevant material in the indexed documents and suggest they rephrase or ingest the relevant source. Do not attempt to answer from general knowledge.`

// Request is one question through the pipeline.
type Request struct {
	Query string

	// Strategy forces a retrieval strategy. Nil selects automatically.
	Strategy *retrieval.Strategy

	// MaxSources caps retrieved candidates. Zero uses the service default.
	MaxSources int

	// CharBudget caps the assembled context size. Zero uses the
	// service default.
	CharBudget int
}

// SourceRef is a citation entry echoed to the caller.
type SourceRef struct {
	Index      int     `json:"index"`
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// Timings records per-stage wall time for one request.
type Timings struct {
	Retrieval  time.Duration `json:"retrieval"`
	Assembly   time.Duration `json:"assembly"`
	Generation time.Duration `json:"generation"`
}

// Response is the pipeline result.
type Response struct {
	Answer       string             `json:"answer"`
	Sources      []SourceRef        `json:"sources"`
	StrategyUsed retrieval.Strategy `json:"strategy_used"`

	// Degraded is set when the primary retrieval timed out and the
	// answer came from the keyword fallback.
	Degraded bool `json:"degraded,omitempty"`

	// Cached is set when the whole response came from the response
	// cache. Never set on cache insertion, only on readback.
	Cached bool `json:"cached,omitempty"`

	Timings Timings `json:"timings"`
}

// Generator is the generation backend surface the pipeline consumes.
type Generator interface {
	Generate(ctx context.Context, prompt string, params backend.GenerateParams) (string, error)
}

// Retriever is the retrieval surface the pipeline consumes.
type Retriever interface {
	Retrieve(ctx context.Context, query string, strat retrieval.Strategy, k int) ([]retrieval.Candidate, error)
}

// Config tunes the pipeline.
type Config struct {
	// MaxSources is the default candidate cap per query.
	MaxSources int

	// CharBudget is the default assembled context budget in bytes.
	CharBudget int

	// Temperature for grounded generation. Kept low so answers track
	// the sources.
	Temperature float64

	// MaxTokens bounds the generated answer length. Zero uses the
	// service default.
	MaxTokens int
}

// Service wires retrieval, assembly, and generation into one pipeline.
// Safe for concurrent use.
type Service struct {
	retriever Retriever
	generator Generator
	responses *cache.Cache[Response]
	cfg       Config
	logger    *slog.Logger
}

// New creates the pipeline service. responses may be nil to disable
// response caching.
func New(retriever Retriever, generator Generator, responses *cache.Cache[Response], cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 5
	}
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = 8000
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Service{
		retriever: retriever,
		generator: generator,
		responses: responses,
		cfg:       cfg,
		logger:    logger,
	}
}

// ErrEmptyQuery rejects blank questions before any backend work.
var ErrEmptyQuery = errors.New("answer: empty query")

// Answer runs one request through the full pipeline. Retrieval failures
// degrade rather than abort: a timeout triggers a single keyword-strategy
// retry, and a still-failing retrieval falls through to the no-sources
// generation path so the user gets an explanation instead of an error.
// Generation failures do surface as errors.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, ErrEmptyQuery
	}

	maxSources := req.MaxSources
	if maxSources <= 0 {
		maxSources = s.cfg.MaxSources
	}
	charBudget := req.CharBudget
	if charBudget <= 0 {
		charBudget = s.cfg.CharBudget
	}

	strat := retrieval.Select(query)
	explicit := req.Strategy != nil
	if explicit {
		strat = *req.Strategy
	}

	var key string
	if s.responses != nil {
		key = cache.Key("answer", query, string(strat), strconv.Itoa(maxSources), strconv.Itoa(charBudget))
		if cached, ok := s.responses.Get(key); ok {
			cached.Cached = true
			return cached, nil
		}
	}

	resp := Response{StrategyUsed: strat}

	retrieveStart := time.Now()
	candidates, err := s.retriever.Retrieve(ctx, query, strat, maxSources)
	if err != nil && errors.Is(err, retrieval.ErrTimeout) && strat != retrieval.StrategyKeyword {
		// One cheaper retry: keyword search needs no embedding call
		// and a single indexed scan.
		s.logger.Warn("retrieval timed out, retrying with keyword strategy", "strategy", strat)
		candidates, err = s.retriever.Retrieve(ctx, query, retrieval.StrategyKeyword, maxSources)
		if err == nil {
			resp.StrategyUsed = retrieval.StrategyKeyword
			resp.Degraded = true
		}
	}
	if err != nil {
		s.logger.Error("retrieval failed, answering without sources", "error", err)
		candidates = nil
		resp.Degraded = true
	}
	resp.Timings.Retrieval = time.Since(retrieveStart)

	assembleStart := time.Now()
	assembled := assemble.Assemble(candidates, charBudget)
	resp.Timings.Assembly = time.Since(assembleStart)

	genStart := time.Now()
	text, genErr := s.generate(ctx, query, assembled)
	resp.Timings.Generation = time.Since(genStart)
	if genErr != nil {
		return Response{}, fmt.Errorf("generating answer: %w", genErr)
	}

	resp.Answer = text
	resp.Sources = make([]SourceRef, 0, len(assembled.Sources))
	for _, src := range assembled.Sources {
		resp.Sources = append(resp.Sources, SourceRef{
			Index:      src.Index,
			SourcePath: src.Chunk.SourcePath,
			ChunkIndex: src.Chunk.ChunkIndex,
			Score:      src.Score,
			Truncated:  src.Truncated,
		})
	}

	if s.responses != nil && !resp.Degraded {
		s.responses.Put(key, resp)
	}
	return resp, nil
}

func (s *Service) generate(ctx context.Context, query string, assembled assemble.Context) (string, error) {
	params := backend.GenerateParams{
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	if len(assembled.Sources) == 0 {
		params.System = noSourcesSystemPrompt
		return s.generator.Generate(ctx, query, params)
	}

	params.System = groundedSystemPrompt
	prompt := fmt.Sprintf("Sources:\n\n%s\nQuestion: %s", assembled.Text, query)
	return s.generator.Generate(ctx, prompt, params)
}
