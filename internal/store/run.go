package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/payloadbench/apiserver/types"
)

// RunRepository persists served responses.
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run types.Run) (types.Run, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO runs (client_id, event, kind, payload_bytes, item_count, encode_duration_us, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		run.ClientID,
		run.Event,
		run.Kind,
		run.PayloadBytes,
		run.ItemCount,
		run.EncodeDuration,
		run.CreatedAt,
	).Scan(&run.ID); err != nil {
		return types.Run{}, err
	}
	return run, nil
}

func (r *RunRepository) Get(ctx context.Context, id int64) (types.Run, error) {
	const query = `
		SELECT id, client_id, event, kind, payload_bytes, item_count, encode_duration_us, created_at
		FROM runs
		WHERE id = $1`
	var run types.Run
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.ClientID,
		&run.Event,
		&run.Kind,
		&run.PayloadBytes,
		&run.ItemCount,
		&run.EncodeDuration,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Run{}, ErrNotFound
		}
		return types.Run{}, err
	}
	return run, nil
}

// List returns runs newest first. An empty kind matches every kind.
func (r *RunRepository) List(ctx context.Context, kind string, offset, limit int) ([]types.Run, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM runs WHERE ($1 = '' OR kind = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, kind).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, client_id, event, kind, payload_bytes, item_count, encode_duration_us, created_at
		FROM runs
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, kind, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := make([]types.Run, 0, limit)
	for rows.Next() {
		var run types.Run
		if err := rows.Scan(
			&run.ID,
			&run.ClientID,
			&run.Event,
			&run.Kind,
			&run.PayloadBytes,
			&run.ItemCount,
			&run.EncodeDuration,
			&run.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Summary aggregates runs per kind.
func (r *RunRepository) Summary(ctx context.Context) ([]types.RunSummary, error) {
	const query = `
		SELECT kind, COUNT(1), AVG(payload_bytes), AVG(encode_duration_us)
		FROM runs
		GROUP BY kind
		ORDER BY kind`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []types.RunSummary
	for rows.Next() {
		var s types.RunSummary
		if err := rows.Scan(&s.Kind, &s.Runs, &s.AvgPayloadBytes, &s.AvgEncodeDuration); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
