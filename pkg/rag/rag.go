package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/llm"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
	"github.com/byessilyurt/polish-legal-assistant/pkg/scoring"
)

// NoContextAnswer is returned when the knowledge base holds nothing relevant.
const NoContextAnswer = "I apologize, but I couldn't find relevant information in my knowledge base " +
	"to answer your question about Polish law and daily life.\n\n" +
	"This could mean:\n" +
	"1. The information hasn't been added to the knowledge base yet\n" +
	"2. Your query might need to be rephrased\n" +
	"3. This topic might not be covered in the current database\n\n" +
	"I recommend:\n" +
	"- Trying a different phrasing of your question\n" +
	"- Checking official Polish government websites (gov.pl)\n" +
	"- Consulting with a legal professional for specific cases"

const generationFailedMessage = "An error occurred while processing your query. Please try again later."

// Retriever finds the documents a query is answered from.
type Retriever interface {
	Retrieve(ctx context.Context, q string, category retriever.Category) ([]models.RetrievedDocument, retriever.Tier)
}

// StreamGenerator is implemented by generators that can emit partial output.
type StreamGenerator interface {
	ChatStream(ctx context.Context, systemContext, userQuery string, onChunk func(chunk string) error) (types.Generation, error)
}

type Request struct {
	Query        string
	Category     retriever.Category
	IncludeDebug bool
}

// Source is a citation for one retrieved document, numbered from 1 in
// retrieval order.
type Source struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Organization   string  `json:"organization"`
	URL            string  `json:"url,omitempty"`
	LastVerified   string  `json:"last_verified,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	Category       string  `json:"category,omitempty"`
}

type Response struct {
	Answer     string     `json:"answer"`
	Sources    []Source   `json:"sources"`
	Confidence float64    `json:"confidence"`
	Category   string     `json:"category,omitempty"`
	Tier       string     `json:"-"`
	Error      string     `json:"-"`
	Debug      *DebugInfo `json:"debug_info,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

type DebugInfo struct {
	Tier             string            `json:"tier_used"`
	RetrievedCount   int               `json:"retrieved_docs_count"`
	RetrievalScores  []ScoreInfo       `json:"retrieval_scores"`
	Model            string            `json:"model,omitempty"`
	FinishReason     string            `json:"finish_reason,omitempty"`
	Usage            *types.TokenUsage `json:"usage,omitempty"`
	Confidence       float64           `json:"confidence_score"`
	DetectedCategory string            `json:"detected_category,omitempty"`
	Error            string            `json:"error,omitempty"`
}

type ScoreInfo struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Health struct {
	Healthy    bool              `json:"overall_healthy"`
	Components map[string]string `json:"components"`
}

type ServiceConfig struct {
	// MaxContextLength bounds the formatted context, in characters.
	MaxContextLength int
}

type Service struct {
	config    ServiceConfig
	retriever Retriever
	generator types.Generator
	metrics   types.MetricsSink
	checks    map[string]HealthCheck
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithMetrics(sink types.MetricsSink) Option {
	return func(s *Service) {
		s.metrics = sink
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck registers a named dependency probe for Health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Service) {
		s.checks[name] = check
	}
}

func NewWithConfig(config ServiceConfig, r Retriever, g types.Generator, opts ...Option) (*Service, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: retriever unavailable", types.ErrConfiguration)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: generator unavailable", types.ErrConfiguration)
	}
	if config.MaxContextLength <= 0 {
		config.MaxContextLength = llm.DefaultMaxContextLength
	}

	s := &Service{
		config:    config,
		retriever: r,
		generator: g,
		checks:    make(map[string]HealthCheck),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ask answers a query from the knowledge base. It never fails: retrieval
// without evidence yields NoContextAnswer and generation errors yield an
// apology with Error set.
func (s *Service) Ask(ctx context.Context, req Request) Response {
	return s.answer(ctx, req, nil, func(ctx context.Context, prompt string) (types.Generation, error) {
		return s.generator.Generate(ctx, prompt, req.Query)
	})
}

// AskStream is Ask with the answer delivered through onChunk as it is
// produced. Generators without streaming support deliver a single chunk.
func (s *Service) AskStream(ctx context.Context, req Request, onChunk func(chunk string) error) Response {
	sg, ok := s.generator.(StreamGenerator)
	return s.answer(ctx, req, onChunk, func(ctx context.Context, prompt string) (types.Generation, error) {
		if !ok {
			gen, err := s.generator.Generate(ctx, prompt, req.Query)
			if err != nil {
				return gen, err
			}
			return gen, onChunk(gen.Text)
		}
		return sg.ChatStream(ctx, prompt, req.Query, onChunk)
	})
}

func (s *Service) answer(ctx context.Context, req Request, onChunk func(string) error, generate func(context.Context, string) (types.Generation, error)) Response {
	log := s.logger.With(zap.String("category", req.Category.String()))
	log.Info("processing query", zap.Int("query_length", len(req.Query)))

	docs, tier := s.retriever.Retrieve(ctx, req.Query, req.Category)

	var debug *DebugInfo
	if req.IncludeDebug {
		debug = &DebugInfo{
			Tier:            string(tier),
			RetrievedCount:  len(docs),
			RetrievalScores: make([]ScoreInfo, 0, len(docs)),
		}
		for _, d := range docs {
			debug.RetrievalScores = append(debug.RetrievalScores, ScoreInfo{ID: d.ID, Score: d.Score})
		}
	}

	if tier == retriever.NoContext || len(docs) == 0 {
		log.Warn("no relevant documents found")
		requested, _ := req.Category.Value()
		s.record(ctx, types.Observation{Query: req.Query, Tier: string(retriever.NoContext), Category: requested})
		if onChunk != nil {
			if err := onChunk(NoContextAnswer); err != nil {
				log.Debug("failed to deliver answer", zap.Error(err))
			}
		}
		return Response{
			Answer:    NoContextAnswer,
			Sources:   []Source{},
			Tier:      string(retriever.NoContext),
			Debug:     debug,
			Timestamp: s.now().UTC(),
		}
	}

	prompt := llm.BuildSystemPrompt(llm.FormatContext(docs, s.config.MaxContextLength), req.Query)
	gen, err := generate(ctx, prompt)
	if err != nil {
		log.Error("failed to generate response", zap.String("tier", string(tier)), zap.Error(err))
		s.record(ctx, types.Observation{Query: req.Query, Tier: string(tier), Documents: docs, Error: err.Error()})
		if debug != nil {
			debug.Error = err.Error()
		}
		return Response{
			Answer:    "I apologize, but I encountered an issue: " + generationFailedMessage,
			Sources:   []Source{},
			Tier:      string(tier),
			Error:     err.Error(),
			Debug:     debug,
			Timestamp: s.now().UTC(),
		}
	}

	confidence := scoring.Confidence(docs, gen.Completed())
	category, _ := scoring.DetectCategory(docs, req.Category)

	if debug != nil {
		debug.Model = gen.Model
		debug.FinishReason = gen.FinishReason
		usage := gen.Usage
		debug.Usage = &usage
		debug.Confidence = confidence
		debug.DetectedCategory = category
	}

	log.Info("query processed",
		zap.String("tier", string(tier)),
		zap.Float64("confidence", confidence),
		zap.String("detected_category", category),
	)
	s.record(ctx, types.Observation{
		Query:      req.Query,
		Tier:       string(tier),
		Documents:  docs,
		Category:   category,
		Confidence: confidence,
	})

	return Response{
		Answer:     gen.Text,
		Sources:    FormatSources(docs),
		Confidence: confidence,
		Category:   category,
		Tier:       string(tier),
		Debug:      debug,
		Timestamp:  s.now().UTC(),
	}
}

func (s *Service) record(ctx context.Context, obs types.Observation) {
	if s.metrics == nil {
		return
	}
	obs.Timestamp = s.now()
	s.metrics.Record(ctx, obs)
}

// FormatSources turns retrieved documents into numbered citations.
func FormatSources(docs []models.RetrievedDocument) []Source {
	sources := make([]Source, 0, len(docs))
	for i, d := range docs {
		sources = append(sources, Source{
			ID:             fmt.Sprint(i + 1),
			Title:          d.Title,
			Organization:   d.Organization,
			URL:            d.URL,
			LastVerified:   d.LastVerified,
			RelevanceScore: scoring.Round(d.Score, 3),
			Category:       d.Category,
		})
	}
	return sources
}

// Health runs every registered check. A failing check marks the service
// unhealthy and reports its error under the check's name.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Healthy: true, Components: make(map[string]string, len(s.checks))}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			h.Healthy = false
			h.Components[name] = err.Error()
			s.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			continue
		}
		h.Components[name] = "ok"
	}
	return h
}
