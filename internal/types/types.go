package types

import (
	"context"

	"github.com/xhad/docchat/internal/models"
)

// Core interfaces

// Embedder turns text into fixed-dimension vectors. Dimension reports the
// size the embedder is configured to produce.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorIndex stores embedded records and answers nearest-neighbour queries.
// Upsert must be idempotent by record ID. Search returns at most k records in
// non-increasing score order, ties in insertion order.
type VectorIndex interface {
	Upsert(ctx context.Context, records []models.EmbeddedRecord) error
	Search(ctx context.Context, vector []float32, k int) ([]models.ScoredRecord, error)
	Dimension() int
	Close()
}

// Generator produces an answer for a question conditioned on a context block.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, contextBlock, question string) (string, error)
}

// ChunkIterator yields the chunks of one document. Next returns io.EOF once
// the document is exhausted. Iterators are single pass.
type ChunkIterator interface {
	Next() (models.DocumentChunk, error)
	Close() error
}

// Parser opens a stored document for chunk-by-chunk reading.
type Parser interface {
	Open(path, filename string) (ChunkIterator, error)
	Supports(filename string) bool
}

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}
