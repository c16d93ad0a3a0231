package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byessilyurt/polish-legal-assistant/pkg/metrics"
)

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "query_metrics.jsonl")
	w := metrics.NewFileWriter(path)
	ctx := context.Background()

	first := metrics.Record{Timestamp: now, QueryID: "1", Query: "Jak uzyskać PESEL?", Tier: "tier1", DocumentCount: 2}
	second := metrics.Record{Timestamp: now, QueryID: "2", Query: "Pogoda?", Tier: "no_context"}
	require.NoError(t, w.Write(ctx, first))
	require.NoError(t, w.Write(ctx, second))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tier_used":"tier1"`)
	assert.NotContains(t, string(raw), `"category"`)

	records, err := metrics.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []metrics.Record{first, second}, records)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := metrics.ReadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
