package processor_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/pkg/processor"
)

// narrative builds n distinct ten-word sentences.
func narrative(n int) string {
	sentences := make([]string, n)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Sentence %d covers the rules for residence permits in Poland.", i+1)
	}
	return strings.Join(sentences, " ")
}

func sentencesOf(text string) []string {
	var out []string
	for _, part := range strings.SplitAfter(text, ". ") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func testDocument(content string) models.Document {
	return models.Document{
		ID:      "residence-permits",
		Content: content,
		Metadata: models.DocumentMetadata{
			Title:        "Temporary residence permit",
			Organization: "Ministry of Interior",
			Category:     "immigration",
			Extra:        map[string]any{"language": "en"},
		},
	}
}

func TestProcessor_EmptyContent(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	for _, content := range []string{"", "   \n\t  "} {
		for _, strategy := range []processor.Strategy{processor.StrategySemantic, processor.StrategyStructural, processor.StrategyHybrid} {
			assert.Empty(t, p.ChunkDocument(testDocument(content), strategy))
		}
	}
}

func TestProcessor_NarrativeUsesSemanticOverlap(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 600, ChunkOverlap: 100})
	content := narrative(65)
	require.Equal(t, 650, p.CountTokens(content))
	require.False(t, processor.HasStructure(content))

	chunks := p.ChunkDocument(testDocument(content), processor.StrategyHybrid)
	require.Len(t, chunks, 2)

	first := sentencesOf(chunks[0].Content)
	second := sentencesOf(chunks[1].Content)
	assert.Len(t, first, 60)
	assert.Equal(t, first[len(first)-1], second[9])
	assert.Equal(t, first[50], second[0])
	assert.Equal(t, 600, chunks[0].Metadata.TokenCount)
	assert.Equal(t, 150, chunks[1].Metadata.TokenCount)
}

func TestProcessor_ChunkMetadata(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 10})
	doc := testDocument(narrative(20))

	chunks := p.ChunkDocument(doc, processor.StrategySemantic)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, fmt.Sprintf("residence-permits__chunk_%d", i), chunk.ID)
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), chunk.Metadata.TotalChunks)
		assert.Equal(t, doc.ID, chunk.Metadata.ParentDocumentID)
		assert.Equal(t, p.CountTokens(chunk.Content), chunk.Metadata.TokenCount)
		assert.Equal(t, "immigration", chunk.Metadata.Category)
		assert.Equal(t, "en", chunk.Metadata.Extra["language"])
	}

	flat := chunks[0].Metadata.Map()
	assert.Equal(t, 0, flat[models.KeyChunkIndex])
	assert.Equal(t, doc.ID, flat[models.KeyParentDocumentID])
	assert.Equal(t, "Temporary residence permit", flat[models.KeyTitle])
}

func TestProcessor_SizeBound(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 30)) + "."
	content := narrative(3) + " " + long + " " + narrative(4)

	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 25, ChunkOverlap: 10})
	chunks := p.ChunkDocument(testDocument(content), processor.StrategySemantic)

	oversized := 0
	for _, chunk := range chunks {
		if chunk.Metadata.TokenCount > 25 {
			oversized++
			assert.Equal(t, long, chunk.Content, "only a lone sentence may exceed the budget")
		}
	}
	assert.Equal(t, 1, oversized)
}

func TestProcessor_OverlapContinuity(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 40, ChunkOverlap: 15})
	chunks := p.ChunkDocument(testDocument(narrative(30)), processor.StrategySemantic)
	require.Greater(t, len(chunks), 2)

	for i := 0; i+1 < len(chunks); i++ {
		prev := sentencesOf(chunks[i].Content)
		next := sentencesOf(chunks[i+1].Content)
		assert.Equal(t, prev[len(prev)-1], next[0], "chunk %d should repeat the tail of chunk %d", i+1, i)
	}
}

func TestProcessor_SemanticCoverage(t *testing.T) {
	content := narrative(37)
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 45, ChunkOverlap: 20})
	chunks := p.ChunkDocument(testDocument(content), processor.StrategySemantic)

	var rebuilt []string
	for _, chunk := range chunks {
		next := sentencesOf(chunk.Content)
		shared := 0
		for k := len(next); k > 0; k-- {
			if k <= len(rebuilt) && equalStrings(rebuilt[len(rebuilt)-k:], next[:k]) {
				shared = k
				break
			}
		}
		rebuilt = append(rebuilt, next[shared:]...)
	}
	assert.Equal(t, sentencesOf(content), rebuilt)
}

func TestProcessor_Deterministic(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 30})
	doc := testDocument(narrative(12))

	assert.Equal(t, p.ChunkDocument(doc, processor.StrategyHybrid), p.ChunkDocument(doc, processor.StrategyHybrid))
}

const procedure = `Residence Permits in Poland

## Types of Permits

1. Temporary residence permit - Valid for up to 3 years

2. Permanent residence permit - Valid indefinitely

3. EU long-term residence - Valid across EU

## Application Process

Step: Gather required documents and submit the application at the voivodeship office.

Note: Always keep copies of all documents.

- Bring your passport
`

func TestProcessor_StructuralKeepsMarkers(t *testing.T) {
	require.True(t, processor.HasStructure(procedure))

	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 20, ChunkOverlap: 5})
	chunks := p.ChunkDocument(testDocument(procedure), processor.StrategyHybrid)
	require.Greater(t, len(chunks), 1)

	var joined []string
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.Metadata.TokenCount, 20)
		joined = append(joined, chunk.Content)
	}
	assert.Equal(t, strings.Fields(procedure), strings.Fields(strings.Join(joined, " ")))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "## Types of Permits") ||
		strings.Contains(chunks[0].Content, "## Types of Permits"))
}

func TestProcessor_StructuralPacksSmallSections(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 600})
	chunks := p.ChunkDocument(testDocument(procedure), processor.StrategyStructural)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "## Application Process\n\nStep: Gather")
}

func TestProcessor_StructuralFallsBackToSemanticForLargeSections(t *testing.T) {
	content := "## Overview\n\n" + narrative(10) + "\n\n## Fees\n\nThe fee is 340 PLN."
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 30, ChunkOverlap: 10})

	chunks := p.ChunkDocument(testDocument(content), processor.StrategyHybrid)
	require.Greater(t, len(chunks), 2)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.Metadata.TokenCount, 30)
	}
	assert.Equal(t, "## Fees\n\nThe fee is 340 PLN.", chunks[len(chunks)-1].Content)
}

// runeCounter charges every rune, so the separators chunks are joined with
// count against the budget.
type runeCounter struct{}

func (runeCounter) CountTokens(text string) int {
	return utf8.RuneCountInString(text)
}

func TestProcessor_StructuralBoundCountsSeparators(t *testing.T) {
	items := []string{"Intro"}
	for i := 1; i <= 30; i++ {
		items = append(items, fmt.Sprintf("%d. Item", i))
	}
	content := strings.Join(items, "\n\n")

	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 40, ChunkOverlap: 10, Counter: runeCounter{}})
	chunks := p.ChunkDocument(testDocument(content), processor.StrategyStructural)
	require.Greater(t, len(chunks), 1)

	var joined []string
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.Metadata.TokenCount, 40, chunk.Content)
		assert.Equal(t, utf8.RuneCountInString(chunk.Content), chunk.Metadata.TokenCount)
		joined = append(joined, chunk.Content)
	}
	assert.Equal(t, strings.Fields(content), strings.Fields(strings.Join(joined, " ")))
	assert.Equal(t, "Intro\n\n1. Item\n\n2. Item\n\n3. Item", chunks[0].Content)
}

func TestProcessor_SemanticBoundCountsSeparators(t *testing.T) {
	content := narrative(25)

	for size := 100; size <= 200; size += 10 {
		p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: size, ChunkOverlap: 70, Counter: runeCounter{}})
		chunks := p.ChunkDocument(testDocument(content), processor.StrategySemantic)
		require.NotEmpty(t, chunks)

		for _, chunk := range chunks {
			assert.LessOrEqual(t, chunk.Metadata.TokenCount, size, "chunk size %d: %q", size, chunk.Content)
		}
	}
}

func TestProcessor_NegativeOverlapDisablesOverlap(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 40, ChunkOverlap: -1})
	assert.Equal(t, 0, p.Config().ChunkOverlap)

	chunks := p.ChunkDocument(testDocument(narrative(12)), processor.StrategySemantic)
	require.Len(t, chunks, 3)
	for i := 0; i+1 < len(chunks); i++ {
		prev := sentencesOf(chunks[i].Content)
		next := sentencesOf(chunks[i+1].Content)
		assert.NotEqual(t, prev[len(prev)-1], next[0])
	}
}

func TestHasStructure_CRLFAndPolishLabels(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"crlf numbered", "Wstęp\r\n\r\n1. Złóż wniosek.", true},
		{"crlf indented bullet", "Wstęp\r\n \r\n  - Paszport", true},
		{"polish label", "Zasiłek rodzinny\n\nŚwiadczenia: zasiłek przysługuje rodzicom.", true},
		{"label at start", "Żłobek: opłata zależy od gminy.", true},
		{"plain prose", "Wniosek składa się w urzędzie wojewódzkim.\r\nOpłata wynosi 340 zł.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, processor.HasStructure(tt.text))
		})
	}
}

func TestProcessor_StructuralSplitsCRLFSections(t *testing.T) {
	content := "Wstęp do procedury\r\n\r\n1. Złóż wniosek osobiście.\r\n\r\n2. Zapłać opłatę skarbową."
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 4, ChunkOverlap: 1})

	chunks := p.ChunkDocument(testDocument(content), processor.StrategyHybrid)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Wstęp do procedury", chunks[0].Content)
	assert.Equal(t, "1. Złóż wniosek osobiście.", chunks[1].Content)
	assert.Equal(t, "2. Zapłać opłatę skarbową.", chunks[2].Content)
}

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50})
	a := testDocument(narrative(8))
	b := testDocument(narrative(3))
	b.ID = "short"

	chunks := p.Process([]models.Document{a, b})
	require.NotEmpty(t, chunks)
	assert.Equal(t, "short__chunk_0", chunks[len(chunks)-1].ID)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want processor.Strategy
		ok   bool
	}{
		{"semantic", processor.StrategySemantic, true},
		{"Structural", processor.StrategyStructural, true},
		{"", processor.StrategyHybrid, true},
		{"paragraph", processor.StrategyHybrid, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := processor.ParseStrategy(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
