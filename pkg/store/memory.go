package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

type memoryRecord struct {
	id        string
	parentID  string
	content   string
	vector    []float32
	norm      float64
	metadata  map[string]any
	insertSeq int
}

// Memory is an in-process index using brute-force cosine similarity.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	records   []memoryRecord
	byID      map[string]int
	seq       int
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]int)}
}

// Upsert stores chunks, replacing any chunk with the same ID in place. All
// embeddings must share the dimension of the first one stored.
func (m *Memory) Upsert(_ context.Context, chunks []models.EmbeddedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dimension
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s: empty embedding", c.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, want %d", c.ID, len(c.Embedding), dim)
		}
	}
	m.dimension = dim

	for _, c := range chunks {
		rec := memoryRecord{
			id:       c.ID,
			parentID: c.Metadata.ParentDocumentID,
			content:  c.Content,
			vector:   append([]float32(nil), c.Embedding...),
			norm:     norm(c.Embedding),
			metadata: IndexMetadata(c.Chunk),
		}
		if i, ok := m.byID[c.ID]; ok {
			rec.insertSeq = m.records[i].insertSeq
			m.records[i] = rec
			continue
		}
		rec.insertSeq = m.seq
		m.seq++
		m.byID[c.ID] = len(m.records)
		m.records = append(m.records, rec)
	}
	return nil
}

// Query ranks stored chunks by cosine similarity. Ties keep insertion order.
func (m *Memory) Query(_ context.Context, embedding []float32, topK int, filter map[string]string) ([]models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topK <= 0 || len(m.records) == 0 {
		return nil, nil
	}
	if len(embedding) != m.dimension {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d", len(embedding), m.dimension)
	}

	qnorm := norm(embedding)
	type scored struct {
		rec   *memoryRecord
		score float64
	}
	candidates := make([]scored, 0, len(m.records))
	for i := range m.records {
		rec := &m.records[i]
		if !matchesFilter(rec.metadata, filter) {
			continue
		}
		candidates = append(candidates, scored{rec: rec, score: cosine(rec.vector, rec.norm, embedding, qnorm)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rec.insertSeq < candidates[j].rec.insertSeq
	})
	if topK < len(candidates) {
		candidates = candidates[:topK]
	}

	matches := make([]models.Match, len(candidates))
	for i, c := range candidates {
		meta := make(map[string]any, len(c.rec.metadata))
		for k, v := range c.rec.metadata {
			meta[k] = v
		}
		meta[models.KeyContent] = c.rec.content
		matches[i] = models.Match{
			ID:       c.rec.id,
			Score:    clampScore(c.score),
			Metadata: meta,
		}
	}
	return matches, nil
}

// DeleteDocument removes every chunk of a document.
func (m *Memory) DeleteDocument(ctx context.Context, documentID string) error {
	return m.PruneDocument(ctx, documentID, nil)
}

// PruneDocument removes the chunks of a document whose IDs are not in keep.
func (m *Memory) PruneDocument(_ context.Context, documentID string, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	kept := m.records[:0]
	for _, rec := range m.records {
		if rec.parentID != documentID || keepSet[rec.id] {
			kept = append(kept, rec)
		}
	}
	m.records = kept
	m.byID = make(map[string]int, len(kept))
	for i, rec := range kept {
		m.byID[rec.id] = i
	}
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func matchesFilter(meta map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
