package retriever

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/query"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retry"
)

// Tier labels the retrieval outcome.
type Tier string

const (
	TierStrict  Tier = "tier1"
	TierRelaxed Tier = "tier2"
	NoContext   Tier = "no_context"
)

var (
	ErrEmbedderUnavailable = fmt.Errorf("%w: embedder unavailable", types.ErrConfiguration)
	ErrIndexUnavailable    = fmt.Errorf("%w: vector index unavailable", types.ErrConfiguration)
)

// TierConfig is one (threshold, result cap) attempt. A tier succeeds when at
// least MinDocuments matches score at or above Threshold.
type TierConfig struct {
	Threshold    float64
	TopK         int
	MinDocuments int
}

type RetrieverConfig struct {
	Strict  TierConfig
	Relaxed TierConfig
	Retry   retry.Policy
}

func DefaultConfig() RetrieverConfig {
	return RetrieverConfig{
		Strict:  TierConfig{Threshold: 0.65, TopK: 5, MinDocuments: 2},
		Relaxed: TierConfig{Threshold: 0.50, TopK: 15, MinDocuments: 1},
		Retry:   retry.DefaultPolicy(),
	}
}

// Category is an optional metadata filter. The zero value means no filter.
type Category struct {
	value string
	set   bool
}

var NoCategory = Category{}

// CategoryOf returns a filter on category s, or NoCategory when s is empty.
func CategoryOf(s string) Category {
	if s == "" {
		return NoCategory
	}
	return Category{value: s, set: true}
}

func (c Category) Value() (string, bool) {
	return c.value, c.set
}

func (c Category) String() string {
	return c.value
}

func (c Category) filter() map[string]string {
	if !c.set {
		return nil
	}
	return map[string]string{models.KeyCategory: c.value}
}

type Retriever struct {
	config     RetrieverConfig
	embedder   types.Embedder
	index      types.VectorIndex
	normalizer *query.Normalizer
	reranker   Reranker
	logger     *zap.Logger
}

type Option func(*Retriever)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithNormalizer(n *query.Normalizer) Option {
	return func(r *Retriever) {
		if n != nil {
			r.normalizer = n
		}
	}
}

func WithReranker(rr Reranker) Option {
	return func(r *Retriever) {
		if rr != nil {
			r.reranker = rr
		}
	}
}

// New checks the configuration and capabilities up front. Errors returned
// here wrap types.ErrConfiguration; retrieval itself never fails.
func New(config RetrieverConfig, embedder types.Embedder, index types.VectorIndex, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, ErrEmbedderUnavailable
	}
	if index == nil {
		return nil, ErrIndexUnavailable
	}

	defaults := DefaultConfig()
	config.Strict = config.Strict.withDefaults(defaults.Strict)
	config.Relaxed = config.Relaxed.withDefaults(defaults.Relaxed)
	if err := config.Strict.validate("tier1"); err != nil {
		return nil, err
	}
	if err := config.Relaxed.validate("tier2"); err != nil {
		return nil, err
	}

	r := &Retriever{
		config:     config,
		embedder:   embedder,
		index:      index,
		normalizer: query.New(),
		reranker:   ScoreReranker{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// withDefaults replaces an unset tier with d. A partly set tier keeps its
// threshold, so 0 admits every match; only a zero TopK or MinDocuments is
// filled in.
func (t TierConfig) withDefaults(d TierConfig) TierConfig {
	if t == (TierConfig{}) {
		return d
	}
	if t.TopK == 0 {
		t.TopK = d.TopK
	}
	if t.MinDocuments == 0 {
		t.MinDocuments = d.MinDocuments
	}
	return t
}

func (t TierConfig) validate(name string) error {
	switch {
	case t.Threshold < 0 || t.Threshold > 1:
		return fmt.Errorf("%w: %s threshold %.2f outside [0, 1]", types.ErrConfiguration, name, t.Threshold)
	case t.TopK < 1:
		return fmt.Errorf("%w: %s top_k must be positive", types.ErrConfiguration, name)
	case t.MinDocuments < 1 || t.MinDocuments > t.TopK:
		return fmt.Errorf("%w: %s min documents must be between 1 and top_k", types.ErrConfiguration, name)
	}
	return nil
}

func (r *Retriever) Config() RetrieverConfig {
	return r.config
}

// Retrieve runs the strict tier, then the relaxed tier, and reports which one
// produced the documents. It returns (nil, NoContext) when neither tier finds
// enough evidence or both fail.
func (r *Retriever) Retrieve(ctx context.Context, q string, category Category) ([]models.RetrievedDocument, Tier) {
	log := r.logger.With(zap.String("query", preview(q)), zap.String("category", category.String()))

	docs, err := r.attempt(ctx, q, r.config.Strict, category)
	switch {
	case err != nil:
		log.Warn("tier1 retrieval failed, falling back to tier2", zap.Error(err))
	case len(docs) >= r.config.Strict.MinDocuments:
		log.Info("tier1 retrieval succeeded", zap.Int("documents", len(docs)))
		return docs, TierStrict
	default:
		log.Info("tier1 insufficient, falling back to tier2", zap.Int("documents", len(docs)))
	}

	docs, err = r.attempt(ctx, q, r.config.Relaxed, category)
	switch {
	case err != nil:
		log.Error("tier2 retrieval failed", zap.Error(err))
	case len(docs) >= r.config.Relaxed.MinDocuments:
		log.Info("tier2 retrieval succeeded", zap.Int("documents", len(docs)))
		return docs, TierRelaxed
	default:
		log.Warn("tier2 returned too few documents", zap.Int("documents", len(docs)))
	}
	return nil, NoContext
}

func (r *Retriever) attempt(ctx context.Context, q string, tier TierConfig, category Category) ([]models.RetrievedDocument, error) {
	return r.RetrieveDocuments(ctx, q, tier.TopK, tier.Threshold, category)
}

// RetrieveDocuments is a single search: normalize, embed, query the index,
// drop matches below minScore and rerank.
func (r *Retriever) RetrieveDocuments(ctx context.Context, q string, topK int, minScore float64, category Category) ([]models.RetrievedDocument, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be positive", types.ErrConfiguration)
	}

	normalized := r.normalizer.Normalize(q)
	if normalized == "" {
		return nil, nil
	}

	embedding, err := retry.DoValue(ctx, r.config.Retry, func(ctx context.Context) ([]float32, error) {
		return r.embedder.EmbedQuery(ctx, normalized)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filter := category.filter()
	matches, err := retry.DoValue(ctx, r.config.Retry, func(ctx context.Context) ([]models.Match, error) {
		return r.index.Query(ctx, embedding, topK, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	docs := make([]models.RetrievedDocument, 0, len(matches))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		docs = append(docs, models.NewRetrievedDocument(m))
	}

	r.logger.Debug("retrieved documents",
		zap.String("normalized", preview(normalized)),
		zap.Int("matches", len(matches)),
		zap.Int("above_threshold", len(docs)),
		zap.Float64("min_score", minScore),
	)

	return r.reranker.Rerank(normalized, docs), nil
}

func preview(s string) string {
	const limit = 100
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
