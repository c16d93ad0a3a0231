package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/processor"
)

type Config struct {
	LLM struct {
		Provider          string  `yaml:"provider"`
		BaseURL           string  `yaml:"base_url"`
		APIKey            string  `yaml:"api_key"`
		Model             string  `yaml:"model"`
		EmbeddingModel    string  `yaml:"embedding_model"`
		MaxTokens         int     `yaml:"max_tokens"`
		Temperature       float64 `yaml:"temperature"`
		MaxContextLength  int     `yaml:"max_context_length"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Streaming         bool    `yaml:"streaming"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
		Lists     int    `yaml:"lists"`
	} `yaml:"database"`

	Retrieval struct {
		Tier1Threshold    float64 `yaml:"tier1_threshold"`
		Tier1TopK         int     `yaml:"tier1_top_k"`
		Tier1MinDocuments int     `yaml:"tier1_min_documents"`
		Tier2Threshold    float64 `yaml:"tier2_threshold"`
		Tier2TopK         int     `yaml:"tier2_top_k"`
		Tier2MinDocuments int     `yaml:"tier2_min_documents"`
		MaxAttempts       int     `yaml:"max_attempts"`
		Reranker          string  `yaml:"reranker"`
	} `yaml:"retrieval"`

	Scraper struct {
		MaxDepth          int      `yaml:"max_depth"`
		RateLimit         float64  `yaml:"rate_limit"`
		IgnorePatterns    []string `yaml:"ignore_patterns"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
		Category          string   `yaml:"category"`
		Organization      string   `yaml:"organization"`
	} `yaml:"scraper"`

	Processor struct {
		ChunkSize    int    `yaml:"chunk_size"`
		ChunkOverlap int    `yaml:"chunk_overlap"`
		Strategy     string `yaml:"strategy"`
		Tokenizer    string `yaml:"tokenizer"`
		Encoding     string `yaml:"encoding"`
		Workers      int    `yaml:"workers"`
	} `yaml:"processor"`

	Metrics struct {
		File  string `yaml:"file"`
		Table string `yaml:"table"`
	} `yaml:"metrics"`

	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadConfig reads path, or the first config file found in the default
// locations, then applies environment overrides and defaults. A missing .env
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/polish-legal-assistant/config.yaml"),
			"/etc/polish-legal-assistant/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := seeded()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}
	applyDefaults(config)

	return config, nil
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	config := seeded()
	applyDefaults(config)
	return config
}

// seeded presets the fields where zero is a meaningful value, so they are
// defaulted only when the file leaves them out.
func seeded() *Config {
	config := &Config{}
	config.Retrieval.Tier1Threshold = 0.65
	config.Retrieval.Tier2Threshold = 0.50
	config.Processor.ChunkOverlap = 100
	return config
}

// ProcessorConfig maps the processor section onto the chunker. A
// chunk_overlap of 0 turns overlap off.
func (c *Config) ProcessorConfig(counter types.TokenCounter) processor.ProcessorConfig {
	overlap := c.Processor.ChunkOverlap
	if overlap == 0 {
		overlap = processor.NoOverlap
	}
	strategy, _ := processor.ParseStrategy(c.Processor.Strategy)
	return processor.ProcessorConfig{
		ChunkSize:    c.Processor.ChunkSize,
		ChunkOverlap: overlap,
		Strategy:     strategy,
		Counter:      counter,
	}
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "gpt-4o"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.EmbeddingModel = "text-embedding-3-large"
		} else {
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1500
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.3
	}
	if config.LLM.MaxContextLength == 0 {
		config.LLM.MaxContextLength = 6000
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.Lists == 0 {
		config.Database.Lists = 100
	}

	if config.Retrieval.Tier1TopK == 0 {
		config.Retrieval.Tier1TopK = 5
	}
	if config.Retrieval.Tier1MinDocuments == 0 {
		config.Retrieval.Tier1MinDocuments = 2
	}
	if config.Retrieval.Tier2TopK == 0 {
		config.Retrieval.Tier2TopK = 15
	}
	if config.Retrieval.Tier2MinDocuments == 0 {
		config.Retrieval.Tier2MinDocuments = 1
	}
	if config.Retrieval.MaxAttempts == 0 {
		config.Retrieval.MaxAttempts = 3
	}
	if config.Retrieval.Reranker == "" {
		config.Retrieval.Reranker = "score"
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 600
	}
	if config.Processor.Strategy == "" {
		config.Processor.Strategy = "hybrid"
	}
	if config.Processor.Tokenizer == "" {
		config.Processor.Tokenizer = "words"
	}
	if config.Processor.Encoding == "" {
		config.Processor.Encoding = "cl100k_base"
	}
	if config.Processor.Workers == 0 {
		config.Processor.Workers = 4
	}

	if config.Metrics.Table == "" {
		config.Metrics.Table = "query_metrics"
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
	if len(config.Server.CORSOrigins) == 0 {
		config.Server.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) error {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if metricsFile := os.Getenv("METRICS_FILE"); metricsFile != "" {
		config.Metrics.File = metricsFile
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		config.Server.Port = p
	}
	return nil
}
