package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EmbedderConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

type VectorStoreConfig struct {
	Type    string        `yaml:"type"`
	Timeout time.Duration `yaml:"timeout"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

type QueueConfig struct {
	Driver            string        `yaml:"driver"`
	URL               string        `yaml:"url"`
	Path              string        `yaml:"path"`
	Topic             string        `yaml:"topic"`
	MaxAttempts       int           `yaml:"max_attempts"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff   time.Duration `yaml:"max_retry_backoff"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

type ProcessorConfig struct {
	ChunkSize      int `yaml:"chunk_size"`
	ChunkOverlap   int `yaml:"chunk_overlap"`
	MinChunkLength int `yaml:"min_chunk_length"`
}

type QueryConfig struct {
	TopK             int    `yaml:"top_k"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
	MaxQuestionChars int    `yaml:"max_question_chars"`
	ExcerptChars     int    `yaml:"excerpt_chars"`
	SystemPrompt     string `yaml:"system_prompt"`
}

type UploadConfig struct {
	Dir               string   `yaml:"dir"`
	MaxBytes          int64    `yaml:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ScraperConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	MaxPages       int           `yaml:"max_pages"`
	RateLimit      float64       `yaml:"rate_limit"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
	Timeout        time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Queue       QueueConfig       `yaml:"queue"`
	Worker      WorkerConfig      `yaml:"worker"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Query       QueryConfig       `yaml:"query"`
	Upload      UploadConfig      `yaml:"upload"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docchat/config.yaml"),
			"/etc/docchat/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = config.LLM.Provider
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == "openai" {
			config.Embedder.Model = "text-embedding-3-small"
		} else {
			config.Embedder.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.APIKey == "" {
		config.Embedder.APIKey = config.LLM.APIKey
	}
	if config.Embedder.Dimension == 0 {
		config.Embedder.Dimension = 768
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.RateLimit == 0 {
		config.Embedder.RateLimit = 10
	}
	if config.Embedder.Burst == 0 {
		config.Embedder.Burst = 1
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = 30 * time.Second
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = config.Embedder.Dimension
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.VectorStore.Type == "" {
		config.VectorStore.Type = "pgvector"
	}
	if config.VectorStore.Timeout == 0 {
		config.VectorStore.Timeout = 15 * time.Second
	}
	if config.VectorStore.Qdrant.URL == "" {
		config.VectorStore.Qdrant.URL = "http://localhost:6333"
	}
	if config.VectorStore.Qdrant.Collection == "" {
		config.VectorStore.Qdrant.Collection = "pdf-rag"
	}

	if config.Queue.Driver == "" {
		config.Queue.Driver = "postgres"
	}
	if config.Queue.URL == "" {
		config.Queue.URL = config.Database.URL
	}
	if config.Queue.Path == "" {
		config.Queue.Path = "docchat-queue.db"
	}
	if config.Queue.Topic == "" {
		config.Queue.Topic = "file-queue"
	}
	if config.Queue.MaxAttempts == 0 {
		config.Queue.MaxAttempts = 5
	}
	if config.Queue.VisibilityTimeout == 0 {
		config.Queue.VisibilityTimeout = 10 * time.Minute
	}
	if config.Queue.PollInterval == 0 {
		config.Queue.PollInterval = time.Second
	}
	if config.Queue.RetryBackoff == 0 {
		config.Queue.RetryBackoff = 5 * time.Second
	}
	if config.Queue.MaxRetryBackoff == 0 {
		config.Queue.MaxRetryBackoff = 5 * time.Minute
	}

	if config.Worker.Concurrency == 0 {
		config.Worker.Concurrency = 4
	}
	if config.Worker.JobTimeout == 0 {
		config.Worker.JobTimeout = 5 * time.Minute
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Query.TopK == 0 {
		config.Query.TopK = 10
	}
	if config.Query.MaxContextTokens == 0 {
		config.Query.MaxContextTokens = 3000
	}
	if config.Query.MaxQuestionChars == 0 {
		config.Query.MaxQuestionChars = 4000
	}
	if config.Query.ExcerptChars == 0 {
		config.Query.ExcerptChars = 300
	}

	if config.Upload.Dir == "" {
		config.Upload.Dir = "uploads"
	}
	if config.Upload.MaxBytes == 0 {
		config.Upload.MaxBytes = 32 << 20
	}
	if len(config.Upload.AllowedExtensions) == 0 {
		config.Upload.AllowedExtensions = []string{".pdf", ".txt", ".md", ".html", ".htm"}
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 2
	}
	if config.Scraper.MaxPages == 0 {
		config.Scraper.MaxPages = 50
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 15 * time.Second
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if qdrantURL := os.Getenv("QDRANT_URL"); qdrantURL != "" {
		config.VectorStore.Qdrant.URL = qdrantURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
		config.Embedder.APIKey = key
	}
	if dir := os.Getenv("DOCCHAT_UPLOAD_DIR"); dir != "" {
		config.Upload.Dir = dir
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
