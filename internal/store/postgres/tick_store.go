package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// TickStore implements domain.TickStore using PostgreSQL.
type TickStore struct {
	pool *pgxpool.Pool
}

var _ domain.TickStore = (*TickStore)(nil)

// NewTickStore creates a TickStore backed by the given connection pool.
func NewTickStore(pool *pgxpool.Pool) *TickStore {
	return &TickStore{pool: pool}
}

// InsertBatch inserts trade ticks using a pgx Batch.
func (s *TickStore) InsertBatch(ctx context.Context, ticks []domain.TradeTick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO ticks (symbol, traded_at, price, size, side)
		VALUES ($1, $2, $3, $4, $5)`

	for _, t := range ticks {
		batch.Queue(query, t.Symbol, t.TradedAt, t.Price, t.Size, string(t.Side))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ticks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert tick %d/%d: %w", i+1, len(ticks), err)
		}
	}
	return nil
}

// ListBefore returns all ticks traded before the given time.
func (s *TickStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeTick, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, traded_at, price, size, side
		FROM ticks
		WHERE traded_at < $1
		ORDER BY traded_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeTick
	for rows.Next() {
		var t domain.TradeTick
		var side string
		if err := rows.Scan(&t.Symbol, &t.TradedAt, &t.Price, &t.Size, &side); err != nil {
			return nil, fmt.Errorf("postgres: scan tick: %w", err)
		}
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteBefore removes ticks traded before the given time.
func (s *TickStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE traded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}
