package testutil

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder implements ai.Embedder with deterministic vectors.
//
// By default it derives a vector from the input text with SHA-256, so the
// same text always embeds identically. Explicit vectors can be registered
// with SetVector for precise distance control. CallCount exposes how many
// Embed calls reached the backend, which cache tests assert on.
//
// Safe for concurrent use.
type MockEmbedder struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	dim       int
	callCount int

	// Err, when set, is returned from every Embed call.
	Err error

	// Delay simulates backend latency; Embed honors ctx cancellation
	// while waiting.
	Delay time.Duration
}

// NewMockEmbedder creates a mock embedder producing vectors of the given
// dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a given input text.
func (e *MockEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// CallCount reports how many Embed calls have been made.
func (e *MockEmbedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

func (e *MockEmbedder) Name() string {
	return "mock/test-embedder"
}

func (e *MockEmbedder) Register(_ api.Registry) {}

func (e *MockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.mu.Lock()
	e.callCount++
	e.mu.Unlock()

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if e.Err != nil {
		return nil, e.Err
	}

	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *MockEmbedder) vectorFor(text string) []float32 {
	e.mu.Lock()
	v, ok := e.vectors[text]
	e.mu.Unlock()
	if ok {
		return v
	}
	return DeterministicVector(text, e.dim)
}

// DeterministicVector derives a stable unit-independent vector from text.
// Equal texts always map to equal vectors.
func DeterministicVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = float32(b)/255.0 - 0.5
	}
	return vec
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
