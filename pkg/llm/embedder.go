package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/xhad/docchat/internal/types"
)

// EmbeddingClient is the provider call behind an Embedder. *ollama.LLM
// satisfies it directly.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or OpenAI-compatible endpoint
	APIKey    string
	Dimension int
	BatchSize int
	RateLimit float64 // requests per second, 0 disables
	Burst     int
	Timeout   time.Duration
}

// Embedder batches texts through an EmbeddingClient under a rate limit and
// a per-call timeout. Provider failures surface as UpstreamServiceError.
type Embedder struct {
	config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
}

var _ types.Embedder = (*Embedder)(nil)

// NewEmbedderWithConfig builds the provider client named by config.Provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = embedderDefaults(config)

	var client EmbeddingClient
	switch config.Provider {
	case "ollama":
		emb, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	case "openai":
		emb, err := NewOpenAIEmbeddings(config.APIKey, config.BaseURL, config.Model, config.Dimension)
		if err != nil {
			return nil, err
		}
		client = emb
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", config.Provider)
	}

	return NewEmbedderWithClient(config, client), nil
}

// NewEmbedderWithClient wraps an existing client.
func NewEmbedderWithClient(config EmbedderConfig, client EmbeddingClient) *Embedder {
	config = embedderDefaults(config)

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: limiter,
	}
}

func embedderDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		if config.Provider == "openai" {
			config.Model = DefaultOpenAIEmbeddingModel
		} else {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
	}
	if config.BaseURL == "" && config.Provider == "ollama" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Dimension <= 0 {
		config.Dimension = 768
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return config
}

// Dimension is the vector size the embedder is configured to produce.
func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

func (e *Embedder) Model() string {
	return e.config.Model
}

// Embed returns one vector per text, in order. Vectors are returned as the
// provider produced them; callers compare their length against the index.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, types.Upstream("embedding", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	vectors, err := e.client.CreateEmbedding(callCtx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.Upstream("embedding", err)
	}
	if len(vectors) != len(texts) {
		return nil, types.Upstream("embedding", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}

	return vectors, nil
}
