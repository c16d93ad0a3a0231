package scoring

import (
	"math"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
)

const (
	scoreWeight        = 0.6
	coverageWeight     = 0.2
	completenessWeight = 0.2

	// CoverageSaturation is the document count at which coverage stops growing.
	CoverageSaturation = 5
	// TruncatedCompleteness penalizes answers cut off by a length limit.
	TruncatedCompleteness = 0.8
)

// AvgScore is the mean similarity score, 0 for no documents.
func AvgScore(docs []models.RetrievedDocument) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs {
		sum += d.Score
	}
	return sum / float64(len(docs))
}

// MaxScore is the highest similarity score, 0 for no documents.
func MaxScore(docs []models.RetrievedDocument) float64 {
	var best float64
	for i, d := range docs {
		if i == 0 || d.Score > best {
			best = d.Score
		}
	}
	return best
}

func CoverageFactor(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(float64(n)/CoverageSaturation, 1)
}

func CompletenessFactor(completed bool) float64 {
	if completed {
		return 1
	}
	return TruncatedCompleteness
}

// Confidence combines retrieval quality, source coverage and generation
// completeness into a value in [0, 1] rounded to three decimals. Without
// documents there is no grounded answer and confidence is 0.
func Confidence(docs []models.RetrievedDocument, completed bool) float64 {
	if len(docs) == 0 {
		return 0
	}
	c := AvgScore(docs)*scoreWeight +
		CoverageFactor(len(docs))*coverageWeight +
		CompletenessFactor(completed)*completenessWeight
	return Round(clamp(c, 0, 1), 3)
}

// DetectCategory prefers the requested category, then the category of the
// top ranked document.
func DetectCategory(docs []models.RetrievedDocument, requested retriever.Category) (string, bool) {
	if v, ok := requested.Value(); ok {
		return v, true
	}
	if len(docs) > 0 && docs[0].Category != "" {
		return docs[0].Category, true
	}
	return "", false
}

// Summary holds the score statistics recorded for a query.
type Summary struct {
	Count    int
	AvgScore float64
	MaxScore float64
}

func Summarize(docs []models.RetrievedDocument) Summary {
	return Summary{
		Count:    len(docs),
		AvgScore: AvgScore(docs),
		MaxScore: MaxScore(docs),
	}
}

func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
