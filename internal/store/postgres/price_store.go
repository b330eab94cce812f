package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyoco/updownbot/internal/domain"
)

// PriceStore implements domain.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a PriceStore backed by the given pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// InsertBatch inserts price snapshots using a pgx batch so one round
// trip covers the whole flush.
func (s *PriceStore) InsertBatch(ctx context.Context, snaps []domain.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const query = `
		INSERT INTO price_snapshots (time, slug, side, best_bid, best_ask)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(query, snap.Time, snap.Slug, string(snap.Side), snap.BestBid, snap.BestAsk)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert snapshot %d/%d: %w", i+1, len(snaps), err)
		}
	}
	return nil
}

// LastSnapshotTime returns the time of the most recent snapshot for a
// slug, or domain.ErrNotFound when none exists.
func (s *PriceStore) LastSnapshotTime(ctx context.Context, slug string) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT time FROM price_snapshots WHERE slug = $1 ORDER BY time DESC LIMIT 1`,
		slug,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("postgres: snapshots for %s: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last snapshot time: %w", err)
	}
	return t, nil
}
