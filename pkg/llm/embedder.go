package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultOllamaURL            = "http://localhost:11434"
	DefaultOllamaEmbeddingModel = "nomic-embed-text:latest"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-large"
	DefaultEmbeddingBatchSize   = 100
)

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or OpenAI compatible endpoint
	APIKey    string
	BatchSize int
	// RequestsPerSecond throttles calls to the provider. Zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// Embedder turns text into vectors through a langchaingo embedding client.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
	limiter  *rate.Limiter
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = config.withDefaults()

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = llm
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key is not set", types.ErrConfiguration)
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrConfiguration, config.Provider)
	}

	return NewEmbedderWithClient(config, client)
}

// NewEmbedderWithClient wraps an existing langchaingo embedding client.
func NewEmbedderWithClient(config EmbedderConfig, client embeddings.EmbedderClient) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: embedding client is nil", types.ErrConfiguration)
	}
	config = config.withDefaults()

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	e := &Embedder{
		config:   config,
		embedder: emb,
	}
	if config.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}
	return e, nil
}

func (c EmbedderConfig) withDefaults() EmbedderConfig {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		if c.Provider == ProviderOpenAI {
			c.Model = DefaultOpenAIEmbeddingModel
		} else {
			c.Model = DefaultOllamaEmbeddingModel
		}
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = DefaultOllamaURL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultEmbeddingBatchSize
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

func (e *Embedder) Config() EmbedderConfig {
	return e.config
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("failed to embed query: empty embedding")
	}
	return vec, nil
}

// EmbedDocuments embeds texts in batches of BatchSize, one rate limiter
// token per batch. The result is aligned with texts.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))

		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := e.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("failed to embed documents %d-%d: got %d embeddings", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("embedding rate limiter: %w", err)
	}
	return nil
}
