// Package rag answers questions from the indexed documents: it retrieves the
// nearest chunks, fits them into a bounded context and asks the chat model.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

type Config struct {
	TopK             int
	MaxContextTokens int
	MaxQuestionChars int
	ExcerptChars     int
	SystemPrompt     string
	Logger           *slog.Logger
}

type Orchestrator struct {
	config    Config
	embedder  types.Embedder
	index     types.VectorIndex
	generator types.Generator
	counter   types.TokenCounter
}

func NewWithConfig(config Config, embedder types.Embedder, index types.VectorIndex, generator types.Generator, counter types.TokenCounter) *Orchestrator {
	if config.TopK <= 0 {
		config.TopK = 10
	}
	if config.MaxContextTokens <= 0 {
		config.MaxContextTokens = 3000
	}
	if config.MaxQuestionChars <= 0 {
		config.MaxQuestionChars = 4000
	}
	if config.ExcerptChars < 0 {
		config.ExcerptChars = 0
	} else if config.ExcerptChars == 0 {
		config.ExcerptChars = 300
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Orchestrator{
		config:    config,
		embedder:  embedder,
		index:     index,
		generator: generator,
		counter:   counter,
	}
}

// Answer runs retrieval and generation for one question. Finding nothing is
// not an error: the exchange then carries no citations and the
// no-information answer.
func (o *Orchestrator) Answer(ctx context.Context, question string) (*models.ChatExchange, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", types.ErrInvalidQuery)
	}
	if n := utf8.RuneCountInString(question); n > o.config.MaxQuestionChars {
		return nil, fmt.Errorf("%w: question has %d characters, limit is %d", types.ErrInvalidQuery, n, o.config.MaxQuestionChars)
	}

	start := time.Now()

	vectors, err := o.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, o.upstream(ctx, "embedding", err)
	}
	if len(vectors) != 1 {
		return nil, types.Upstream("embedding", fmt.Errorf("expected 1 embedding, got %d", len(vectors)))
	}
	if len(vectors[0]) != o.index.Dimension() {
		return nil, types.DimensionMismatch(o.index.Dimension(), len(vectors[0]))
	}

	records, err := o.index.Search(ctx, vectors[0], o.config.TopK)
	if err != nil {
		return nil, o.upstream(ctx, "vector index", err)
	}

	contextBlock, used := BuildContext(records, o.counter, o.config.MaxContextTokens)

	answer, err := o.generator.Generate(ctx, o.config.SystemPrompt, contextBlock, question)
	if err != nil {
		return nil, o.upstream(ctx, "generation", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = NoInformation
	}

	citations := make([]models.Citation, len(records))
	for i, rec := range records {
		citations[i] = models.CitationFor(rec, o.config.ExcerptChars)
	}

	o.config.Logger.Info("answered question",
		"retrieved", len(records),
		"context_chunks", used,
		"duration", time.Since(start),
	)

	return &models.ChatExchange{
		Question:      question,
		Answer:        answer,
		Citations:     citations,
		ContextChunks: used,
	}, nil
}

// upstream reports caller cancellation as is and classifies the rest.
func (o *Orchestrator) upstream(ctx context.Context, service string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return types.Upstream(service, err)
}
