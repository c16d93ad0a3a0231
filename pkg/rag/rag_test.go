package rag_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/rag"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
)

type stubRetriever struct {
	docs     []models.RetrievedDocument
	tier     retriever.Tier
	category retriever.Category
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, category retriever.Category) ([]models.RetrievedDocument, retriever.Tier) {
	s.category = category
	return s.docs, s.tier
}

type stubGenerator struct {
	gen     types.Generation
	err     error
	calls   int
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, systemContext, _ string) (types.Generation, error) {
	g.calls++
	g.prompts = append(g.prompts, systemContext)
	return g.gen, g.err
}

type streamingGenerator struct {
	stubGenerator
	chunks []string
}

func (g *streamingGenerator) ChatStream(_ context.Context, _, _ string, onChunk func(string) error) (types.Generation, error) {
	for _, c := range g.chunks {
		if err := onChunk(c); err != nil {
			return types.Generation{}, err
		}
	}
	return types.Generation{Text: strings.Join(g.chunks, ""), FinishReason: "stop"}, nil
}

type recordingSink struct {
	mu  sync.Mutex
	obs []types.Observation
}

func (r *recordingSink) Record(_ context.Context, obs types.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, obs)
}

func retrieved() []models.RetrievedDocument {
	return []models.RetrievedDocument{
		{ID: "permit__chunk_0", Score: 0.9123, Title: "Temporary residence permit", Organization: "UdSC", URL: "https://www.gov.pl/web/udsc", Category: "immigration", LastVerified: "2025-07-01", Content: "Apply at the voivodeship office."},
		{ID: "permit__chunk_1", Score: 0.8, Title: "Temporary residence permit", Organization: "UdSC", Category: "immigration", Content: "The fee is 340 PLN."},
		{ID: "pesel__chunk_0", Score: 0.7, Title: "PESEL", Organization: "Gov.pl", Category: "administration", Content: "PESEL is issued by the municipality."},
	}
}

func newService(t *testing.T, r rag.Retriever, g types.Generator, sink types.MetricsSink) *rag.Service {
	t.Helper()
	s, err := rag.NewWithConfig(rag.ServiceConfig{}, r, g, rag.WithMetrics(sink))
	require.NoError(t, err)
	return s
}

func TestAsk_NoContext(t *testing.T) {
	gen := &stubGenerator{}
	sink := &recordingSink{}
	s := newService(t, &stubRetriever{tier: retriever.NoContext}, gen, sink)

	resp := s.Ask(context.Background(), rag.Request{Query: "Jak zarejestrować samochód?", Category: retriever.CategoryOf("transport")})

	assert.Equal(t, rag.NoContextAnswer, resp.Answer)
	assert.Zero(t, resp.Confidence)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.Equal(t, "no_context", resp.Tier)
	assert.Zero(t, gen.calls)

	require.Len(t, sink.obs, 1)
	assert.Equal(t, "no_context", sink.obs[0].Tier)
	assert.Equal(t, "transport", sink.obs[0].Category)
	assert.Empty(t, sink.obs[0].Documents)
	assert.Zero(t, sink.obs[0].Confidence)
}

func TestAsk_Answer(t *testing.T) {
	gen := &stubGenerator{gen: types.Generation{Text: "Apply at the voivodeship office [1].", FinishReason: "stop", Model: "mistral"}}
	sink := &recordingSink{}
	r := &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}
	s := newService(t, r, gen, sink)

	resp := s.Ask(context.Background(), rag.Request{Query: "How do I get a residence permit?"})

	assert.Equal(t, "Apply at the voivodeship office [1].", resp.Answer)
	assert.Equal(t, 0.802, resp.Confidence)
	assert.Equal(t, "immigration", resp.Category)
	assert.Equal(t, "tier1", resp.Tier)
	assert.Empty(t, resp.Error)
	assert.Nil(t, resp.Debug)
	assert.Equal(t, retriever.NoCategory, r.category)

	require.Len(t, resp.Sources, 3)
	assert.Equal(t, rag.Source{
		ID:             "1",
		Title:          "Temporary residence permit",
		Organization:   "UdSC",
		URL:            "https://www.gov.pl/web/udsc",
		LastVerified:   "2025-07-01",
		RelevanceScore: 0.912,
		Category:       "immigration",
	}, resp.Sources[0])
	assert.Equal(t, "3", resp.Sources[2].ID)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "[Source 1: Temporary residence permit - UdSC]")
	assert.Contains(t, gen.prompts[0], "User Query: How do I get a residence permit?")

	require.Len(t, sink.obs, 1)
	assert.Equal(t, "tier1", sink.obs[0].Tier)
	assert.Len(t, sink.obs[0].Documents, 3)
	assert.Equal(t, 0.802, sink.obs[0].Confidence)
	assert.Equal(t, "immigration", sink.obs[0].Category)
}

func TestAsk_TruncatedAnswerLowersConfidence(t *testing.T) {
	gen := &stubGenerator{gen: types.Generation{Text: "Apply at", FinishReason: "length"}}
	s := newService(t, &stubRetriever{docs: retrieved(), tier: retriever.TierRelaxed}, gen, &recordingSink{})

	resp := s.Ask(context.Background(), rag.Request{Query: "How do I get a residence permit?"})
	assert.Equal(t, 0.762, resp.Confidence)
	assert.Equal(t, "tier2", resp.Tier)
}

func TestAsk_RequestedCategoryWins(t *testing.T) {
	gen := &stubGenerator{gen: types.Generation{Text: "ok"}}
	r := &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}
	s := newService(t, r, gen, &recordingSink{})

	resp := s.Ask(context.Background(), rag.Request{Query: "PESEL", Category: retriever.CategoryOf("administration")})
	assert.Equal(t, "administration", resp.Category)
	assert.Equal(t, retriever.CategoryOf("administration"), r.category)
}

func TestAsk_GenerationError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model not found")}
	sink := &recordingSink{}
	s := newService(t, &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}, gen, sink)

	resp := s.Ask(context.Background(), rag.Request{Query: "How do I get a residence permit?", IncludeDebug: true})

	assert.True(t, strings.HasPrefix(resp.Answer, "I apologize, but I encountered an issue:"))
	assert.Equal(t, "model not found", resp.Error)
	assert.Zero(t, resp.Confidence)
	assert.Empty(t, resp.Sources)
	require.NotNil(t, resp.Debug)
	assert.Equal(t, "model not found", resp.Debug.Error)

	require.Len(t, sink.obs, 1)
	assert.Equal(t, "model not found", sink.obs[0].Error)
	assert.Equal(t, "tier1", sink.obs[0].Tier)
}

func TestAsk_Debug(t *testing.T) {
	gen := &stubGenerator{gen: types.Generation{
		Text:         "ok",
		Model:        "gpt-4o",
		FinishReason: "stop",
		Usage:        types.TokenUsage{PromptTokens: 900, CompletionTokens: 100, TotalTokens: 1000},
	}}
	s := newService(t, &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}, gen, nil)

	resp := s.Ask(context.Background(), rag.Request{Query: "How do I get a residence permit?", IncludeDebug: true})
	require.NotNil(t, resp.Debug)
	assert.Equal(t, "tier1", resp.Debug.Tier)
	assert.Equal(t, 3, resp.Debug.RetrievedCount)
	assert.Equal(t, rag.ScoreInfo{ID: "permit__chunk_0", Score: 0.9123}, resp.Debug.RetrievalScores[0])
	assert.Equal(t, "gpt-4o", resp.Debug.Model)
	assert.Equal(t, 1000, resp.Debug.Usage.TotalTokens)
	assert.Equal(t, 0.802, resp.Debug.Confidence)
	assert.Equal(t, "immigration", resp.Debug.DetectedCategory)
}

func TestAskStream(t *testing.T) {
	gen := &streamingGenerator{chunks: []string{"Apply ", "at the ", "office [1]."}}
	s := newService(t, &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}, gen, &recordingSink{})

	var got []string
	resp := s.AskStream(context.Background(), rag.Request{Query: "How do I get a residence permit?"}, func(c string) error {
		got = append(got, c)
		return nil
	})

	assert.Equal(t, []string{"Apply ", "at the ", "office [1]."}, got)
	assert.Equal(t, "Apply at the office [1].", resp.Answer)
	assert.Equal(t, 0.802, resp.Confidence)
	assert.Zero(t, gen.calls)
}

func TestAskStream_FallsBackToGenerate(t *testing.T) {
	gen := &stubGenerator{gen: types.Generation{Text: "Whole answer."}}
	s := newService(t, &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}, gen, nil)

	var got []string
	resp := s.AskStream(context.Background(), rag.Request{Query: "How do I get a residence permit?"}, func(c string) error {
		got = append(got, c)
		return nil
	})
	assert.Equal(t, []string{"Whole answer."}, got)
	assert.Equal(t, "Whole answer.", resp.Answer)
}

func TestAskStream_NoContext(t *testing.T) {
	s := newService(t, &stubRetriever{tier: retriever.NoContext}, &stubGenerator{}, nil)

	var got []string
	resp := s.AskStream(context.Background(), rag.Request{Query: "?"}, func(c string) error {
		got = append(got, c)
		return nil
	})
	assert.Equal(t, []string{rag.NoContextAnswer}, got)
	assert.Equal(t, rag.NoContextAnswer, resp.Answer)
}

func TestAskStream_ClientGone(t *testing.T) {
	gen := &streamingGenerator{chunks: []string{"a", "b"}}
	sink := &recordingSink{}
	s := newService(t, &stubRetriever{docs: retrieved(), tier: retriever.TierStrict}, gen, sink)

	resp := s.AskStream(context.Background(), rag.Request{Query: "How do I get a residence permit?"}, func(string) error {
		return errors.New("connection closed")
	})
	assert.Equal(t, "connection closed", resp.Error)
	require.Len(t, sink.obs, 1)
	assert.Equal(t, "connection closed", sink.obs[0].Error)
}

func TestHealth(t *testing.T) {
	s, err := rag.NewWithConfig(rag.ServiceConfig{}, &stubRetriever{}, &stubGenerator{},
		rag.WithHealthCheck("vector_index", func(context.Context) error { return nil }),
		rag.WithHealthCheck("embedder", func(context.Context) error { return errors.New("connection refused") }),
	)
	require.NoError(t, err)

	h := s.Health(context.Background())
	assert.False(t, h.Healthy)
	assert.Equal(t, map[string]string{"vector_index": "ok", "embedder": "connection refused"}, h.Components)

	s, err = rag.NewWithConfig(rag.ServiceConfig{}, &stubRetriever{}, &stubGenerator{})
	require.NoError(t, err)
	assert.True(t, s.Health(context.Background()).Healthy)
}

func TestNewWithConfig_Errors(t *testing.T) {
	_, err := rag.NewWithConfig(rag.ServiceConfig{}, nil, &stubGenerator{})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = rag.NewWithConfig(rag.ServiceConfig{}, &stubRetriever{}, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
