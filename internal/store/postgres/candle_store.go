package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// CandleStore implements domain.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *pgxpool.Pool
}

var _ domain.CandleStore = (*CandleStore)(nil)

// NewCandleStore creates a CandleStore backed by the given connection pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// InsertBatch inserts candles using a pgx Batch. Re-inserting an existing
// (symbol, timeframe, bucket_ts) is silently skipped via ON CONFLICT DO
// NOTHING, so overlapping drains never duplicate bars.
func (s *CandleStore) InsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO candles (symbol, timeframe, bucket_ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, bucket_ts) DO NOTHING`

	for _, c := range candles {
		batch.Queue(query,
			c.Symbol, c.Timeframe, c.BucketTS,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert candle %d/%d: %w", i+1, len(candles), err)
		}
	}
	return nil
}

// ListBefore returns all candles with bucket_ts before the given time.
func (s *CandleStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, timeframe, bucket_ts, open, high, low, close, volume
		FROM candles
		WHERE bucket_ts < $1
		ORDER BY bucket_ts`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.BucketTS,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// DeleteBefore removes candles with bucket_ts before the given time and
// returns the number of rows deleted.
func (s *CandleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM candles WHERE bucket_ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete candles: %w", err)
	}
	return tag.RowsAffected(), nil
}
