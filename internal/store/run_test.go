package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloadbench/apiserver/types"
)

var runColumns = []string{"id", "client_id", "event", "kind", "payload_bytes", "item_count", "encode_duration_us", "created_at"}

func TestRunRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRunRepository(db)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("client-1", "response-tuple-mode", "tuple", 412345, 5000, int64(1800), created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	run, err := repo.Create(context.Background(), types.Run{
		ClientID:       "client-1",
		Event:          "response-tuple-mode",
		Kind:           "tuple",
		PayloadBytes:   412345,
		ItemCount:      5000,
		EncodeDuration: 1800,
		CreatedAt:      created,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositoryGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRunRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(runColumns).AddRow(3, "c", "response-object-mode", "object", 900000, 5000, 2500, now))

	run, err := repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "object", run.Kind)
	assert.Equal(t, 900000, run.PayloadBytes)

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(runColumns))

	_, err = repo.Get(context.Background(), 4)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositoryList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRunRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM runs")).
		WithArgs("tuple").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("tuple", 0, 20).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow(12, "a", "response-tuple-mode", "tuple", 400000, 5000, 1500, now).
			AddRow(11, "b", "response-tuple-mode", "tuple", 400000, 5000, 1700, now))

	runs, total, err := repo.List(context.Background(), "tuple", -5, 0)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(12), runs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepositorySummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY kind")).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "count", "avg", "avg"}).
			AddRow("object", 3, 900000.0, 2500.0).
			AddRow("tuple", 4, 400000.0, 1600.5))

	summaries, err := NewRunRepository(db).Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "tuple", summaries[1].Kind)
	assert.Equal(t, 4, summaries[1].Runs)
	assert.InDelta(t, 1600.5, summaries[1].AvgEncodeDuration, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
