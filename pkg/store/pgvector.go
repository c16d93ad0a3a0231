package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	// Lists is the ivfflat list count of the embedding index.
	Lists int
}

// VectorStore is a pgvector backed chunk index.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	table  string
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs, err := NewWithPool(ctx, pool, config)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

// NewWithPool uses an existing pool and creates the schema if needed.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Lists == 0 {
		config.Lists = 100
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		return nil, err
	}
	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			parent_document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT,
			embedding vector(%d),
			metadata JSONB
		)`, vs.table, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table, vs.config.Lists)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createParentIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (parent_document_id, chunk_index)`,
		pgx.Identifier{vs.config.TableName + "_parent_idx"}.Sanitize(), vs.table)
	if _, err := vs.pool.Exec(ctx, createParentIndex); err != nil {
		return fmt.Errorf("failed to create parent index: %w", err)
	}

	return nil
}

// Upsert writes chunks in one transaction, in the order given.
func (vs *VectorStore) Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, parent_document_id, chunk_index, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			parent_document_id = EXCLUDED.parent_document_id,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.table)

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(chunks))

		batch := &pgx.Batch{}
		for _, c := range chunks[start:end] {
			if len(c.Embedding) != vs.config.VectorDim {
				return fmt.Errorf("chunk %s: embedding has %d dimensions, want %d", c.ID, len(c.Embedding), vs.config.VectorDim)
			}
			batch.Queue(stmt,
				c.ID,
				c.Metadata.ParentDocumentID,
				c.Metadata.ChunkIndex,
				sanitizeUTF8(c.Content),
				pgvector.NewVector(c.Embedding),
				IndexMetadata(c.Chunk),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for _, c := range chunks[start:end] {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Query returns the topK nearest chunks by cosine distance. Score is
// 1 - distance clamped to [0, 1]. Filter entries must all match metadata.
func (vs *VectorStore) Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	args := []any{pgvector.NewVector(embedding), topK}
	where := ""
	if len(filter) > 0 {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		where = "WHERE metadata @> $3::jsonb"
		args = append(args, string(raw))
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.table, where)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var (
			m       models.Match
			content string
		)
		if err := rows.Scan(&m.ID, &content, &m.Metadata, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]any)
		}
		m.Metadata[models.KeyContent] = content
		m.Score = clampScore(m.Score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return matches, nil
}

// DeleteDocument removes every chunk of a document.
func (vs *VectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE parent_document_id = $1", vs.table)
	if _, err := vs.pool.Exec(ctx, query, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// PruneDocument removes the chunks of a document whose IDs are not in keep.
func (vs *VectorStore) PruneDocument(ctx context.Context, documentID string, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE parent_document_id = $1 AND NOT (id = ANY($2))", vs.table)
	if _, err := vs.pool.Exec(ctx, query, documentID, keep); err != nil {
		return fmt.Errorf("failed to prune document %s: %w", documentID, err)
	}
	return nil
}

func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (vs *VectorStore) Ping(ctx context.Context) error {
	return vs.pool.Ping(ctx)
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
