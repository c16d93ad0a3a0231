package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retry"
)

const (
	DefaultOllamaChatModel  = "mistral"
	DefaultOpenAIChatModel  = "gpt-4o"
	DefaultTemperature      = 0.3
	DefaultMaxTokens        = 1500
	DefaultMaxContextLength = 6000
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxContextLength bounds the formatted context, in characters.
	MaxContextLength int
	BaseURL          string // Ollama server URL or OpenAI compatible endpoint
	APIKey           string
	Retry            retry.Policy
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	var model llms.Model
	switch config.Provider {
	case ProviderOllama:
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key is not set", types.ErrConfiguration)
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown chat provider %q", types.ErrConfiguration, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// NewWithModel creates a ChatEngine around an existing langchaingo model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: chat model is nil", types.ErrConfiguration)
	}
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func (c ChatConfig) withDefaults() (ChatConfig, error) {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		if c.Provider == ProviderOpenAI {
			c.Model = DefaultOpenAIChatModel
		} else {
			c.Model = DefaultOllamaChatModel
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return c, fmt.Errorf("%w: temperature must be between 0 and 2", types.ErrConfiguration)
	} else if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens < 0 {
		return c, fmt.Errorf("%w: max tokens cannot be negative", types.ErrConfiguration)
	} else if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxContextLength <= 0 {
		c.MaxContextLength = DefaultMaxContextLength
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = DefaultOllamaURL
	}
	return c, nil
}

func (ce *ChatEngine) Config() ChatConfig {
	return ce.config
}

// Generate answers userQuery with systemContext as the system message.
// Transient failures are retried with the configured policy.
func (ce *ChatEngine) Generate(ctx context.Context, systemContext, userQuery string) (types.Generation, error) {
	return retry.DoValue(ctx, ce.config.Retry, func(ctx context.Context) (types.Generation, error) {
		return ce.generate(ctx, systemContext, userQuery)
	})
}

// ChatStream is Generate with onChunk called for every streamed fragment.
// It is not retried since fragments may already have been delivered.
func (ce *ChatEngine) ChatStream(ctx context.Context, systemContext, userQuery string, onChunk func(chunk string) error) (types.Generation, error) {
	stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	})
	return ce.generate(ctx, systemContext, userQuery, stream)
}

func (ce *ChatEngine) generate(ctx context.Context, systemContext, userQuery string, opts ...llms.CallOption) (types.Generation, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemContext),
		llms.TextParts(schema.ChatMessageTypeHuman, userQuery),
	}

	opts = append(opts,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)

	resp, err := ce.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return types.Generation{}, fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return types.Generation{}, fmt.Errorf("chat error: no response from LLM")
	}

	choice := resp.Choices[0]
	return types.Generation{
		Text:         choice.Content,
		Model:        ce.config.Model,
		FinishReason: choice.StopReason,
		Usage: types.TokenUsage{
			PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
			TotalTokens:      intInfo(choice.GenerationInfo, "TotalTokens"),
		},
	}, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
