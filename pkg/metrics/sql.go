package metrics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLWriter inserts records into a query metrics table through database/sql.
type SQLWriter struct {
	db    *sql.DB
	table string
}

// OpenSQLWriter connects with the pgx database/sql driver.
func OpenSQLWriter(dsn, table string) (*SQLWriter, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}
	return NewSQLWriter(db, table), nil
}

func NewSQLWriter(db *sql.DB, table string) *SQLWriter {
	if table == "" {
		table = "query_metrics"
	}
	return &SQLWriter{db: db, table: pgx.Identifier{table}.Sanitize()}
}

func (w *SQLWriter) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			query_id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			query TEXT NOT NULL,
			query_length INTEGER NOT NULL,
			tier TEXT NOT NULL,
			documents_retrieved INTEGER NOT NULL,
			avg_similarity_score DOUBLE PRECISION NOT NULL,
			max_similarity_score DOUBLE PRECISION NOT NULL,
			category TEXT,
			confidence DOUBLE PRECISION NOT NULL,
			response_generated BOOLEAN NOT NULL,
			error TEXT
		)`, w.table)
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create metrics table: %w", err)
	}
	return nil
}

func (w *SQLWriter) Write(ctx context.Context, rec Record) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (query_id, created_at, query, query_length, tier, documents_retrieved,
			avg_similarity_score, max_similarity_score, category, confidence, response_generated, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, w.table)

	_, err := w.db.ExecContext(ctx, stmt,
		rec.QueryID,
		rec.Timestamp,
		rec.Query,
		rec.QueryLength,
		rec.Tier,
		rec.DocumentCount,
		rec.AvgScore,
		rec.MaxScore,
		nullString(rec.Category),
		rec.Confidence,
		rec.ResponseGenerated,
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
