package types

import (
	"context"
	"errors"
	"time"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

// ErrConfiguration marks failures that retrying cannot fix, such as a
// missing API key or an index that was never configured.
var ErrConfiguration = errors.New("configuration error")

// Core interfaces

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores chunk embeddings and answers nearest-neighbour queries.
// Filter is an equality match on metadata fields; nil means no filter.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error
	Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]models.Match, error)
}

type Generator interface {
	Generate(ctx context.Context, systemContext, userQuery string) (Generation, error)
}

// Generation is the text returned by a Generator with its usage metadata.
type Generation struct {
	Text         string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completed reports whether generation ended without hitting a length limit.
func (g Generation) Completed() bool {
	switch g.FinishReason {
	case "length", "max_tokens":
		return false
	default:
		return true
	}
}

type TokenCounter interface {
	CountTokens(text string) int
}

// MetricsSink receives one observation per answered query. Implementations
// must not fail the query; errors are handled internally.
type MetricsSink interface {
	Record(ctx context.Context, obs Observation)
}

type Observation struct {
	Timestamp  time.Time
	Query      string
	Tier       string
	Documents  []models.RetrievedDocument
	Category   string
	Confidence float64
	Error      string
}
