package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyoco/updownbot/internal/domain"
)

// ResultStore implements domain.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore backed by the given pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Insert records one terminal OCO result.
func (s *ResultStore) Insert(ctx context.Context, r domain.OCOResult) error {
	const query = `
		INSERT INTO oco_results (
			slug, up_order_id, down_order_id, winner,
			winning_order_id, winning_trade_id, losing_order_id,
			cancel_success, anomaly, dry_run, started_at, ended_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		r.Slug, r.UpOrderID, r.DownOrderID, string(r.Winner),
		r.WinningOrderID, r.WinningTradeID, r.LosingOrderID,
		r.CancelSuccess, r.Anomaly, r.DryRun, r.StartedAt, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert oco result for %s: %w", r.Slug, err)
	}
	return nil
}

// ListBySlug returns the most recent results for a slug, newest first.
func (s *ResultStore) ListBySlug(ctx context.Context, slug string, limit int) ([]domain.OCOResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT slug, up_order_id, down_order_id, winner,
		       winning_order_id, winning_trade_id, losing_order_id,
		       cancel_success, anomaly, dry_run, started_at, ended_at
		FROM oco_results
		WHERE slug = $1
		ORDER BY ended_at DESC
		LIMIT $2`,
		slug, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list oco results for %s: %w", slug, err)
	}
	defer rows.Close()

	return scanResultRows(rows)
}

func scanResultRows(rows pgx.Rows) ([]domain.OCOResult, error) {
	var results []domain.OCOResult
	for rows.Next() {
		var (
			r      domain.OCOResult
			winner string
		)
		if err := rows.Scan(
			&r.Slug, &r.UpOrderID, &r.DownOrderID, &winner,
			&r.WinningOrderID, &r.WinningTradeID, &r.LosingOrderID,
			&r.CancelSuccess, &r.Anomaly, &r.DryRun, &r.StartedAt, &r.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan oco result: %w", err)
		}
		r.Winner = domain.Winner(winner)
		results = append(results, r)
	}
	return results, rows.Err()
}
