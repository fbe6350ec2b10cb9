// Package app assembles the ingestion and query components from a loaded
// configuration. The server, the worker and the CLI all start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/intake"
	"github.com/xhad/docchat/pkg/llm"
	"github.com/xhad/docchat/pkg/parser"
	"github.com/xhad/docchat/pkg/processor"
	"github.com/xhad/docchat/pkg/queue"
	"github.com/xhad/docchat/pkg/rag"
	"github.com/xhad/docchat/pkg/scraper"
	"github.com/xhad/docchat/pkg/store"
	"github.com/xhad/docchat/pkg/worker"
	"github.com/xhad/docchat/server"
)

type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Queue        queue.Queue
	Index        types.VectorIndex
	Embedder     *llm.Embedder
	Parser       *parser.Parser
	Orchestrator *rag.Orchestrator
	Uploader     *intake.Uploader
	Importer     *intake.Importer
}

// New validates cfg and builds every component. On error, anything already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.Embedder.APIKey,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
		RateLimit: cfg.Embedder.RateLimit,
		Burst:     cfg.Embedder.Burst,
		Timeout:   cfg.Embedder.Timeout,
	})
	if err != nil {
		return err
	}
	a.Embedder = embedder

	generator, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	index, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	a.Index = index

	q, err := openQueue(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.Queue = q

	a.Parser = parser.New(processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      cfg.Processor.ChunkSize,
		ChunkOverlap:   cfg.Processor.ChunkOverlap,
		MinChunkLength: cfg.Processor.MinChunkLength,
	}))

	a.Orchestrator = rag.NewWithConfig(rag.Config{
		TopK:             cfg.Query.TopK,
		MaxContextTokens: cfg.Query.MaxContextTokens,
		MaxQuestionChars: cfg.Query.MaxQuestionChars,
		ExcerptChars:     cfg.Query.ExcerptChars,
		SystemPrompt:     cfg.Query.SystemPrompt,
		Logger:           a.Logger,
	}, embedder, index, generator, llm.NewTokenCounter(a.Logger))

	uploader, err := intake.NewUploader(intake.UploaderConfig{
		Dir:               cfg.Upload.Dir,
		MaxBytes:          cfg.Upload.MaxBytes,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		Topic:             cfg.Queue.Topic,
		Logger:            a.Logger,
	}, q)
	if err != nil {
		return err
	}
	a.Uploader = uploader

	a.Importer = intake.NewImporter(scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:       cfg.Scraper.MaxDepth,
		MaxPages:       cfg.Scraper.MaxPages,
		MaxPageBytes:   cfg.Upload.MaxBytes,
		RateLimit:      cfg.Scraper.RateLimit,
		IgnorePatterns: cfg.Scraper.IgnorePatterns,
		Timeout:        cfg.Scraper.Timeout,
		Logger:         a.Logger,
	}), uploader)

	return nil
}

func openIndex(ctx context.Context, cfg *config.Config) (types.VectorIndex, error) {
	switch cfg.VectorStore.Type {
	case "pgvector":
		return store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
			Timeout:    cfg.VectorStore.Timeout,
		})
	case "qdrant":
		return store.NewQdrant(ctx, store.QdrantConfig{
			URL:        cfg.VectorStore.Qdrant.URL,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Qdrant.Collection,
			Dimension:  cfg.Embedder.Dimension,
			Timeout:    cfg.VectorStore.Timeout,
		})
	case "memory":
		return store.NewMemoryIndex(cfg.Embedder.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore.Type)
	}
}

func openQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	qc := queue.Config{
		MaxAttempts:       cfg.Queue.MaxAttempts,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		PollInterval:      cfg.Queue.PollInterval,
		RetryBackoff:      cfg.Queue.RetryBackoff,
		MaxRetryBackoff:   cfg.Queue.MaxRetryBackoff,
		Logger:            logger,
	}

	switch cfg.Queue.Driver {
	case "postgres":
		return queue.NewPostgres(ctx, cfg.Queue.URL, qc)
	case "sqlite":
		return queue.NewSQLite(cfg.Queue.Path, qc)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// Pool builds an ingestion worker pool over the app's queue.
func (a *App) Pool() *worker.Pool {
	return worker.NewPool(a.Queue, a.Parser, a.Embedder, a.Index,
		worker.WithWorkers(a.Config.Worker.Concurrency),
		worker.WithJobTimeout(a.Config.Worker.JobTimeout),
		worker.WithTopic(a.Config.Queue.Topic),
		worker.WithBatchSize(a.Config.Embedder.BatchSize),
		worker.WithLogger(a.Logger),
	)
}

func (a *App) Server() *server.Server {
	return server.New(server.Config{
		Addr:            a.Config.Server.Addr,
		Topic:           a.Config.Queue.Topic,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		Logger:          a.Logger,
	}, a.Orchestrator, a.Uploader, a.Queue).WithImporter(a.Importer)
}

func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn("failed to close queue", "error", err)
		}
	}
	if a.Index != nil {
		a.Index.Close()
	}
}
