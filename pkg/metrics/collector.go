package metrics

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/scoring"
)

const (
	maxQueryLength = 200
	recentFailures = 10

	// DefaultMaxRecords bounds the detailed records kept in memory.
	DefaultMaxRecords = 1000
)

// Record is the persisted form of one answered query.
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	QueryID           string    `json:"query_id"`
	Query             string    `json:"query"`
	QueryLength       int       `json:"query_length"`
	Tier              string    `json:"tier_used"`
	DocumentCount     int       `json:"documents_retrieved"`
	AvgScore          float64   `json:"avg_similarity_score"`
	MaxScore          float64   `json:"max_similarity_score"`
	Category          string    `json:"category,omitempty"`
	Confidence        float64   `json:"confidence"`
	ResponseGenerated bool      `json:"response_generated"`
	Error             string    `json:"error,omitempty"`
}

// Writer persists records. Errors are logged by the Collector, never returned
// to the query path.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

type Failure struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

type TierDistribution struct {
	Tier1Success  int     `json:"tier1_success"`
	Tier1Rate     float64 `json:"tier1_rate"`
	Tier2Success  int     `json:"tier2_success"`
	Tier2Rate     float64 `json:"tier2_rate"`
	NoContext     int     `json:"no_context"`
	NoContextRate float64 `json:"no_context_rate"`
}

type SimilarityScores struct {
	Tier1Avg float64 `json:"tier1_avg"`
	Tier2Avg float64 `json:"tier2_avg"`
}

type Summary struct {
	TotalQueries         int              `json:"total_queries"`
	ResponseRate         float64          `json:"response_rate"`
	TierDistribution     TierDistribution `json:"tier_distribution"`
	SimilarityScores     SimilarityScores `json:"similarity_scores"`
	CategoryDistribution map[string]int   `json:"category_distribution"`
	FailedQueriesCount   int              `json:"failed_queries_count"`
	RecentFailures       []Failure        `json:"recent_failures"`
}

// Collector aggregates query observations in memory and forwards each record
// to its writers. It is safe for concurrent use.
type Collector struct {
	logger     *zap.Logger
	writers    []Writer
	maxRecords int
	now        func() time.Time

	mu            sync.Mutex
	records       []Record
	total         int
	withContext   int
	tier1         int
	tier2         int
	noContext     int
	tier1ScoreSum float64
	tier2ScoreSum float64
	categories    map[string]int
	failed        int
	failures      []Failure
}

func NewCollector(logger *zap.Logger, writers ...Writer) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger:     logger,
		writers:    writers,
		maxRecords: DefaultMaxRecords,
		now:        time.Now,
		categories: make(map[string]int),
	}
}

// Record implements types.MetricsSink.
func (c *Collector) Record(ctx context.Context, obs types.Observation) {
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	ts = ts.UTC()

	stats := scoring.Summarize(obs.Documents)
	rec := Record{
		Timestamp:         ts,
		QueryID:           uuid.NewString(),
		Query:             truncate(obs.Query, maxQueryLength),
		QueryLength:       utf8.RuneCountInString(obs.Query),
		Tier:              obs.Tier,
		DocumentCount:     stats.Count,
		AvgScore:          scoring.Round(stats.AvgScore, 3),
		MaxScore:          scoring.Round(stats.MaxScore, 3),
		Category:          obs.Category,
		Confidence:        scoring.Round(obs.Confidence, 3),
		ResponseGenerated: stats.Count > 0 && obs.Error == "",
		Error:             obs.Error,
	}

	c.mu.Lock()
	c.add(rec)
	c.mu.Unlock()

	c.logger.Debug("recorded query metric",
		zap.String("query_id", rec.QueryID),
		zap.String("tier", rec.Tier),
		zap.Int("documents", rec.DocumentCount),
		zap.Float64("avg_score", rec.AvgScore),
		zap.Float64("confidence", rec.Confidence),
	)

	for _, w := range c.writers {
		if err := w.Write(ctx, rec); err != nil {
			c.logger.Error("failed to persist query metric", zap.String("query_id", rec.QueryID), zap.Error(err))
		}
	}
}

// Restore replays persisted records into the aggregates without forwarding
// them to the writers.
func (c *Collector) Restore(records []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		c.add(rec)
	}
}

// add folds rec into the aggregates. c.mu must be held.
func (c *Collector) add(rec Record) {
	c.total++
	if rec.DocumentCount > 0 {
		c.withContext++
	}
	switch rec.Tier {
	case "tier1":
		c.tier1++
		c.tier1ScoreSum += rec.AvgScore
	case "tier2":
		c.tier2++
		c.tier2ScoreSum += rec.AvgScore
	default:
		c.noContext++
	}
	// A query without context or with an error counts as failed.
	if rec.Error != "" || (rec.Tier != "tier1" && rec.Tier != "tier2") {
		c.failed++
		c.failures = append(c.failures, Failure{Query: rec.Query, Timestamp: rec.Timestamp, Error: rec.Error})
		if len(c.failures) > recentFailures {
			c.failures = c.failures[len(c.failures)-recentFailures:]
		}
	}
	if rec.Category != "" {
		c.categories[rec.Category]++
	}
	c.records = append(c.records, rec)
	if len(c.records) > c.maxRecords {
		c.records = c.records[len(c.records)-c.maxRecords:]
	}
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	denom := float64(max(c.total, 1))
	categories := make(map[string]int, len(c.categories))
	for k, v := range c.categories {
		categories[k] = v
	}

	return Summary{
		TotalQueries: c.total,
		ResponseRate: scoring.Round(float64(c.withContext)/denom, 3),
		TierDistribution: TierDistribution{
			Tier1Success:  c.tier1,
			Tier1Rate:     scoring.Round(float64(c.tier1)/denom, 3),
			Tier2Success:  c.tier2,
			Tier2Rate:     scoring.Round(float64(c.tier2)/denom, 3),
			NoContext:     c.noContext,
			NoContextRate: scoring.Round(float64(c.noContext)/denom, 3),
		},
		SimilarityScores: SimilarityScores{
			Tier1Avg: scoring.Round(mean(c.tier1ScoreSum, c.tier1), 3),
			Tier2Avg: scoring.Round(mean(c.tier2ScoreSum, c.tier2), 3),
		},
		CategoryDistribution: categories,
		FailedQueriesCount:   c.failed,
		RecentFailures:       append([]Failure{}, c.failures...),
	}
}

// Records returns the most recent records, oldest first.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = nil
	c.total, c.withContext = 0, 0
	c.tier1, c.tier2, c.noContext = 0, 0, 0
	c.tier1ScoreSum, c.tier2ScoreSum = 0, 0
	c.categories = make(map[string]int)
	c.failed = 0
	c.failures = nil
	c.logger.Info("metrics reset")
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
