package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/pkg/store"
)

func getTestConfig(t *testing.T) store.VectorStoreConfig {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return store.VectorStoreConfig{
		ConnString: connString,
		TableName:  "test_chunks",
		VectorDim:  3,
		Lists:      1,
	}
}

func TestVectorStore(t *testing.T) {
	config := getTestConfig(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, config)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.DeleteDocument(ctx, "pesel"))
	require.NoError(t, s.DeleteDocument(ctx, "nfz"))

	err = s.Upsert(ctx, []models.EmbeddedChunk{
		embeddedChunk("pesel", 0, "administration", "PESEL is issued by the municipal office.", 1, 0, 0),
		embeddedChunk("pesel", 1, "administration", "Bring a passport.", 0.8, 0.6, 0),
		embeddedChunk("nfz", 0, "healthcare", "Register with a GP.", 0, 1, 0),
	})
	require.NoError(t, err)

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "pesel__chunk_0", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
	assert.Equal(t, "PESEL is issued by the municipal office.", matches[0].Metadata[models.KeyContent])

	matches, err = s.Query(ctx, []float32{1, 0, 0}, 5, map[string]string{models.KeyCategory: "healthcare"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "nfz__chunk_0", matches[0].ID)

	require.NoError(t, s.PruneDocument(ctx, "pesel", []string{"pesel__chunk_0"}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = s.Upsert(ctx, []models.EmbeddedChunk{embeddedChunk("bad", 0, "", "x", 1, 0)})
	assert.Error(t, err)

	require.NoError(t, s.DeleteDocument(ctx, "pesel"))
	require.NoError(t, s.DeleteDocument(ctx, "nfz"))
}
