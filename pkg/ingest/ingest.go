package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/processor"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// KnowledgeFile is the on-disk format of a curated knowledge base.
type KnowledgeFile struct {
	Documents []models.Document `json:"documents"`
}

func LoadKnowledgeFile(path string) ([]models.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	var kf KnowledgeFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file %s: %w", path, err)
	}
	return kf.Documents, nil
}

// Validate checks a document at the ingestion boundary.
func Validate(doc models.Document) error {
	if err := validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid document %q: %s failed %q", doc.ID, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid document %q: %w", doc.ID, err)
	}
	return nil
}

// Chunker splits a document into ordered chunks.
type Chunker interface {
	ChunkDocument(doc models.Document, strategy processor.Strategy) []models.Chunk
}

// documentPruner is implemented by indexes that can drop the chunks a
// re-ingested document no longer has.
type documentPruner interface {
	PruneDocument(ctx context.Context, documentID string, keep []string) error
}

type PipelineConfig struct {
	Workers   int
	BatchSize int
	// ReplaceExisting removes a document's stored chunks that the new
	// version no longer produces, once the new chunks are upserted.
	ReplaceExisting bool
	Retry           retry.Policy
}

type Pipeline struct {
	config   PipelineConfig
	chunker  Chunker
	embedder types.Embedder
	index    types.VectorIndex
	logger   *zap.Logger
}

// DocumentError ties an ingestion failure to its document.
type DocumentError struct {
	DocumentID string
	Err        error
}

func (e DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.DocumentID, e.Err)
}

func (e DocumentError) Unwrap() error {
	return e.Err
}

type Report struct {
	Documents int
	Chunks    int
	Skipped   int
	Errors    []DocumentError
}

// Progress is called after each document is processed.
type Progress func(done, total int)

func NewWithConfig(config PipelineConfig, chunker Chunker, embedder types.Embedder, index types.VectorIndex, logger *zap.Logger) (*Pipeline, error) {
	if chunker == nil {
		return nil, fmt.Errorf("%w: chunker unavailable", types.ErrConfiguration)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder unavailable", types.ErrConfiguration)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index unavailable", types.ErrConfiguration)
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		config:   config,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}, nil
}

// Run chunks, embeds and stores documents concurrently. Documents that fail
// validation or ingestion are reported and skipped. Chunks of one document
// are written in a single ordered upsert.
func (p *Pipeline) Run(ctx context.Context, docs []models.Document, strategy processor.Strategy, progress Progress) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
		done   int
		failed = make(map[int]DocumentError)
	)

	finish := func(i int, chunks int, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			report.Skipped++
			failed[i] = DocumentError{DocumentID: docs[i].ID, Err: err}
		case chunks == 0:
			report.Skipped++
		default:
			report.Documents++
			report.Chunks += chunks
		}
		done++
		if progress != nil {
			progress(done, len(docs))
		}
	}

	seen := make(map[string]bool, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i, doc := range docs {
		if err := Validate(doc); err != nil {
			finish(i, 0, err)
			continue
		}
		if seen[doc.ID] {
			finish(i, 0, fmt.Errorf("duplicate document id"))
			continue
		}
		seen[doc.ID] = true

		i, doc := i, doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := p.ingestDocument(gctx, doc, strategy)
			if err != nil {
				p.logger.Warn("failed to ingest document", zap.String("document_id", doc.ID), zap.Error(err))
			}
			finish(i, n, err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	idx := make([]int, 0, len(failed))
	for i := range failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		report.Errors = append(report.Errors, failed[i])
	}

	p.logger.Info("ingestion finished",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (p *Pipeline) ingestDocument(ctx context.Context, doc models.Document, strategy processor.Strategy) (int, error) {
	chunks := p.chunker.ChunkDocument(doc, strategy)
	if len(chunks) == 0 {
		return 0, nil
	}

	embedded := make([]models.EmbeddedChunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := retry.DoValue(ctx, p.config.Retry, func(ctx context.Context) ([][]float32, error) {
			return p.embedder.EmbedDocuments(ctx, texts)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}
		for i, c := range chunks[start:end] {
			embedded = append(embedded, models.EmbeddedChunk{Chunk: c, Embedding: vecs[i]})
		}
	}

	err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		return p.index.Upsert(ctx, embedded)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert chunks: %w", err)
	}

	// Stale chunks go only after the new ones are stored, so a failed upsert
	// leaves the previous version searchable.
	if pruner, ok := p.index.(documentPruner); ok && p.config.ReplaceExisting {
		keep := make([]string, len(chunks))
		for i, c := range chunks {
			keep[i] = c.ID
		}
		err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
			return pruner.PruneDocument(ctx, doc.ID, keep)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to remove stale chunks: %w", err)
		}
	}

	p.logger.Debug("ingested document", zap.String("document_id", doc.ID), zap.Int("chunks", len(embedded)))
	return len(embedded), nil
}
