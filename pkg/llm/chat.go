package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docchat/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider        string
	Model           string
	Temperature     float64
	MaxTokens       int
	ContextTemplate string
	BaseURL         string // Ollama server URL or OpenAI-compatible endpoint
	APIKey          string
	Timeout         time.Duration
}

// Completer sends a system and user message pair to a chat model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config    ChatConfig
	completer Completer
}

var _ types.Generator = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := chatDefaults(config)
	if err != nil {
		return nil, err
	}

	var completer Completer
	switch config.Provider {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		completer = NewModelCompleter(llm, config.Temperature, config.MaxTokens)
	case "openai":
		completer, err = NewOpenAIChat(config.APIKey, config.BaseURL, config.Model, config.Temperature, config.MaxTokens)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", config.Provider)
	}

	return &ChatEngine{
		config:    config,
		completer: completer,
	}, nil
}

// NewWithCompleter builds a ChatEngine around an existing Completer.
func NewWithCompleter(config ChatConfig, completer Completer) (*ChatEngine, error) {
	config, err := chatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, completer: completer}, nil
}

func chatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		if config.Provider == "openai" {
			config.Model = DefaultOpenAIChatModel
		} else {
			config.Model = "mistral" // Default Ollama model
		}
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Relevant documentation:\n%s\n\nQuestion: %s"
	}
	if config.BaseURL == "" && config.Provider == "ollama" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return config, nil
}

// Generate answers question from contextBlock under systemInstruction.
func (ce *ChatEngine) Generate(ctx context.Context, systemInstruction, contextBlock, question string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	answer, err := ce.completer.Complete(callCtx, systemInstruction, ce.UserMessage(contextBlock, question))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", types.Upstream("generation", err)
	}

	return strings.TrimSpace(answer), nil
}

// UserMessage renders the human turn sent with the system instruction.
func (ce *ChatEngine) UserMessage(contextBlock, question string) string {
	return fmt.Sprintf(ce.config.ContextTemplate, contextBlock, question)
}

// ModelCompleter adapts a langchaingo model.
type ModelCompleter struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func NewModelCompleter(model llms.Model, temperature float64, maxTokens int) *ModelCompleter {
	return &ModelCompleter{model: model, temperature: temperature, maxTokens: maxTokens}
}

func (m *ModelCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	response, err := m.model.GenerateContent(ctx, content,
		llms.WithTemperature(m.temperature),
		llms.WithMaxTokens(m.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", fmt.Errorf("no response from LLM")
	}

	return response.Choices[0].Content, nil
}
