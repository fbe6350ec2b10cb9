package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xhad/docchat/pkg/parser"
	"github.com/xhad/docchat/pkg/worker"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		} else if !validHTTPURL(c.LLM.BaseURL) {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "openai":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "OpenAI API key is required",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Embedder config
	if c.Embedder.Provider != "ollama" && c.Embedder.Provider != "openai" {
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedder.Provider),
		})
	}

	if c.Embedder.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedder.BatchSize < 1 || c.Embedder.BatchSize > 100 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be between 1 and 100",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	} else if c.Embedder.Dimension > 0 && c.Database.VectorDim != c.Embedder.Dimension {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: fmt.Sprintf("vector_dim %d does not match embedder.dimension %d", c.Database.VectorDim, c.Embedder.Dimension),
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Vector store config
	switch c.VectorStore.Type {
	case "pgvector":
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "database URL is required for the pgvector store",
			})
		}
	case "qdrant":
		if !validHTTPURL(c.VectorStore.Qdrant.URL) {
			errors = append(errors, ValidationError{
				Field:   "vector_store.qdrant.url",
				Message: "invalid Qdrant URL",
			})
		}
	case "memory":
	default:
		errors = append(errors, ValidationError{
			Field:   "vector_store.type",
			Message: fmt.Sprintf("unknown vector store %q", c.VectorStore.Type),
		})
	}

	// Validate Queue config
	switch c.Queue.Driver {
	case "postgres":
		if c.Queue.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "queue.url",
				Message: "queue URL is required for the postgres driver",
			})
		}
	case "sqlite":
		if c.Queue.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "queue.path",
				Message: "queue path is required for the sqlite driver",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "queue.driver",
			Message: fmt.Sprintf("unknown queue driver %q", c.Queue.Driver),
		})
	}

	if c.Queue.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_attempts",
			Message: "max_attempts must be at least 1",
		})
	}

	// A lease must outlive the longest job plus the time spent settling it,
	// or the job is redelivered while its first worker is still running.
	if c.Queue.VisibilityTimeout <= c.Worker.JobTimeout+worker.SettleTimeout {
		msg := fmt.Sprintf("visibility_timeout must exceed worker.job_timeout plus %s (got %s, job_timeout %s)",
			worker.SettleTimeout, c.Queue.VisibilityTimeout, c.Worker.JobTimeout)
		errors = append(errors, ValidationError{
			Field:   "queue.visibility_timeout",
			Message: msg,
		})
	}

	if c.Worker.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.concurrency",
			Message: "concurrency must be positive",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Query config
	if c.Query.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "query.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Query.MaxContextTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "query.max_context_tokens",
			Message: "max_context_tokens must be positive",
		})
	}

	// Validate Upload config
	if c.Upload.MaxBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "upload.max_bytes",
			Message: "max_bytes must be positive",
		})
	}

	for _, ext := range c.Upload.AllowedExtensions {
		switch {
		case !strings.HasPrefix(ext, "."):
			errors = append(errors, ValidationError{
				Field:   "upload.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		case !parser.SupportsExtension(ext):
			errors = append(errors, ValidationError{
				Field:   "upload.allowed_extensions",
				Message: fmt.Sprintf("unsupported extension: %s", ext),
			})
		}
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must not be negative",
		})
	}

	if c.Scraper.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	return errors
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
