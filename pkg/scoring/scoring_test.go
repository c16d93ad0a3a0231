package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
	"github.com/byessilyurt/polish-legal-assistant/pkg/scoring"
)

func docs(scores ...float64) []models.RetrievedDocument {
	out := make([]models.RetrievedDocument, len(scores))
	for i, s := range scores {
		out[i] = models.RetrievedDocument{ID: string(rune('a' + i)), Score: s}
	}
	return out
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		docs      []models.RetrievedDocument
		completed bool
		want      float64
	}{
		{"no documents", nil, true, 0},
		{"no documents truncated", nil, false, 0},
		// 0.68*0.6 + 0.2*0.2 + 1.0*0.2
		{"single document", docs(0.68), true, 0.648},
		// 0.68*0.6 + 0.6*0.2 + 1.0*0.2
		{"three documents", docs(0.70, 0.68, 0.66), true, 0.728},
		// 0.68*0.6 + 0.6*0.2 + 0.8*0.2
		{"truncated generation", docs(0.70, 0.68, 0.66), false, 0.688},
		// 1.0*0.6 + 1.0*0.2 + 1.0*0.2
		{"saturated", docs(1, 1, 1, 1, 1, 1, 1), true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scoring.Confidence(tt.docs, tt.completed), 1e-9)
		})
	}
}

func TestConfidence_Bounds(t *testing.T) {
	for _, set := range [][]models.RetrievedDocument{
		docs(0),
		docs(0.5, 0.5),
		docs(1, 1, 1, 1, 1, 1, 1, 1, 1, 1),
		docs(1.2, 1.5),
		docs(-0.3),
	} {
		for _, completed := range []bool{true, false} {
			c := scoring.Confidence(set, completed)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
		}
	}
}

func TestFactors(t *testing.T) {
	assert.Equal(t, 0.0, scoring.CoverageFactor(0))
	assert.InDelta(t, 0.4, scoring.CoverageFactor(2), 1e-9)
	assert.Equal(t, 1.0, scoring.CoverageFactor(5))
	assert.Equal(t, 1.0, scoring.CoverageFactor(12))

	assert.Equal(t, 1.0, scoring.CompletenessFactor(true))
	assert.Equal(t, 0.8, scoring.CompletenessFactor(false))
}

func TestDetectCategory(t *testing.T) {
	ranked := []models.RetrievedDocument{
		{ID: "a", Score: 0.9, Category: "taxes"},
		{ID: "b", Score: 0.8, Category: "healthcare"},
	}

	got, ok := scoring.DetectCategory(ranked, retriever.CategoryOf("immigration"))
	assert.True(t, ok)
	assert.Equal(t, "immigration", got)

	got, ok = scoring.DetectCategory(ranked, retriever.NoCategory)
	assert.True(t, ok)
	assert.Equal(t, "taxes", got)

	_, ok = scoring.DetectCategory([]models.RetrievedDocument{{ID: "a"}}, retriever.NoCategory)
	assert.False(t, ok)

	_, ok = scoring.DetectCategory(nil, retriever.NoCategory)
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	s := scoring.Summarize(docs(0.55, 0.81, 0.62))

	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 0.66, s.AvgScore, 1e-9)
	assert.Equal(t, 0.81, s.MaxScore)

	assert.Equal(t, scoring.Summary{}, scoring.Summarize(nil))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.123, scoring.Round(0.12345, 3))
	assert.Equal(t, 0.5, scoring.Round(0.4996, 3))
}
