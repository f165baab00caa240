package store

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a stored unit of source text with its embedding vector.
// Chunks are immutable once ingested and are owned by the store; they are
// removed when their source file is removed.
type Chunk struct {
	ID         uuid.UUID
	Content    string
	Embedding  []float32
	SourcePath string
	ChunkIndex int
	CharStart  int
	CharEnd    int
	CreatedAt  time.Time
}

// ChunkDistance pairs a chunk with its raw cosine distance to a query
// vector. Lower is closer.
type ChunkDistance struct {
	Chunk    Chunk
	Distance float64
}

// ChunkScore pairs a chunk with a keyword match score in [0, 1],
// the fraction of query terms present in the content.
type ChunkScore struct {
	Chunk Chunk
	Score float64
}
