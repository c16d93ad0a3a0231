package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/byessilyurt/polish-legal-assistant/pkg/processor"
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
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// LLM
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "OpenAI API key is required")
		}
	default:
		add("llm.provider", "unknown provider %q, expected ollama or openai", c.LLM.Provider)
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", "invalid base URL")
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	if c.LLM.MaxContextLength < 1000 {
		add("llm.max_context_length", "max_context_length must be at least 1000")
	}

	if c.LLM.RequestsPerSecond < 0 {
		add("llm.requests_per_second", "requests_per_second must not be negative")
	}

	// Database
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			add("database.url", "invalid database URL")
		}
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Retrieval
	r := c.Retrieval
	if r.Tier1Threshold < 0 || r.Tier1Threshold > 1 {
		add("retrieval.tier1_threshold", "threshold must be between 0 and 1")
	}
	if r.Tier2Threshold < 0 || r.Tier2Threshold > 1 {
		add("retrieval.tier2_threshold", "threshold must be between 0 and 1")
	}
	if r.Tier1TopK < 1 || r.Tier1TopK > 20 {
		add("retrieval.tier1_top_k", "top_k must be between 1 and 20")
	}
	if r.Tier2TopK < 1 || r.Tier2TopK > 30 {
		add("retrieval.tier2_top_k", "top_k must be between 1 and 30")
	}
	if r.Tier1MinDocuments < 1 || r.Tier1MinDocuments > r.Tier1TopK {
		add("retrieval.tier1_min_documents", "min_documents must be between 1 and tier1_top_k")
	}
	if r.Tier2MinDocuments < 1 || r.Tier2MinDocuments > r.Tier2TopK {
		add("retrieval.tier2_min_documents", "min_documents must be between 1 and tier2_top_k")
	}
	if r.MaxAttempts < 1 {
		add("retrieval.max_attempts", "max_attempts must be positive")
	}
	if r.Reranker != "score" && r.Reranker != "recency" {
		add("retrieval.reranker", "unknown reranker %q, expected score or recency", r.Reranker)
	}

	// Scraper
	if c.Scraper.MaxDepth < 1 {
		add("scraper.max_depth", "max_depth must be positive")
	}

	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", "invalid extension format: %s", ext)
		}
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	if _, ok := processor.ParseStrategy(c.Processor.Strategy); !ok {
		add("processor.strategy", "unknown strategy %q", c.Processor.Strategy)
	}

	switch strings.ToLower(c.Processor.Tokenizer) {
	case processor.TokenizerWords, processor.TokenizerTiktoken:
	default:
		add("processor.tokenizer", "unknown tokenizer %q", c.Processor.Tokenizer)
	}

	if c.Processor.Workers < 1 {
		add("processor.workers", "workers must be positive")
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "unknown log level %q", c.Log.Level)
	}

	return errors
}
