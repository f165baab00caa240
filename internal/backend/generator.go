package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenerateParams carries per-request generation settings.
type GenerateParams struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// Generator sends prompts to the language model backend and returns the
// generated text. Safe for concurrent use.
type Generator struct {
	g         *genkit.Genkit
	modelName string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGenerator creates a generation client for the named model.
// modelName must include the provider prefix (e.g. "ollama/mistral:7b").
func NewGenerator(g *genkit.Genkit, modelName string, timeout time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		g:         g,
		modelName: modelName,
		timeout:   timeout,
		logger:    logger,
	}
}

// ModelName returns the fully qualified model identifier.
func (gen *Generator) ModelName() string {
	return gen.modelName
}

// Generate produces text for prompt. An empty completion is a backend
// defect and fails with ErrInvalidResponse rather than being passed on.
func (gen *Generator) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, gen.timeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(gen.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxTokens,
		}),
	}
	if params.System != "" {
		opts = append(opts, ai.WithSystem(params.System))
	}

	start := time.Now()
	resp, err := genkit.Generate(callCtx, gen.g, opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: generation call: %w", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: generation call: %w", ErrUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		gen.logger.Error("backend returned empty generation",
			"model", gen.modelName, "prompt_length", len(prompt))
		return "", fmt.Errorf("%w: empty generation", ErrInvalidResponse)
	}

	gen.logger.Debug("generation completed",
		"model", gen.modelName, "elapsed", time.Since(start), "output_length", len(text))
	return text, nil
}
