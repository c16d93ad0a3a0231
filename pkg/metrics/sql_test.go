package metrics_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byessilyurt/polish-legal-assistant/pkg/metrics"
)

func TestSQLWriter_Write(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := metrics.NewSQLWriter(db, "")
	rec := metrics.Record{
		Timestamp:         now,
		QueryID:           "5f0c6a4e-8d0b-4a53-9a56-0d8f1c1f8e21",
		Query:             "Jak uzyskać PESEL?",
		QueryLength:       18,
		Tier:              "tier2",
		DocumentCount:     1,
		AvgScore:          0.55,
		MaxScore:          0.55,
		Confidence:        0.57,
		ResponseGenerated: true,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "query_metrics"`)).
		WithArgs(rec.QueryID, now, rec.Query, 18, "tier2", 1, 0.55, 0.55, nil, 0.57, true, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, w.Write(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWriter_WriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "metrics"`)).
		WillReturnError(errors.New("connection refused"))

	err = metrics.NewSQLWriter(db, "metrics").Write(context.Background(), metrics.Record{Category: "taxes"})
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWriter_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "query_metrics"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, metrics.NewSQLWriter(db, "").EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
