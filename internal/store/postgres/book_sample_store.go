package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// BookSampleStore implements domain.BookSampleStore using PostgreSQL. The
// bid/ask payloads arrive pre-encoded (and possibly gzip-compressed) from the
// persistence writer and are stored opaquely as BYTEA.
type BookSampleStore struct {
	pool *pgxpool.Pool
}

var _ domain.BookSampleStore = (*BookSampleStore)(nil)

// NewBookSampleStore creates a BookSampleStore backed by the given pool.
func NewBookSampleStore(pool *pgxpool.Pool) *BookSampleStore {
	return &BookSampleStore{pool: pool}
}

// InsertBatch inserts sample rows using a pgx Batch.
func (s *BookSampleStore) InsertBatch(ctx context.Context, rows []domain.BookSampleRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO book_samples (symbol, sampled_at, bids, asks, compressed)
		VALUES ($1, $2, $3, $4, $5)`

	for _, r := range rows {
		batch.Queue(query, r.Symbol, r.SampledAt, r.Bids, r.Asks, r.Compressed)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert book sample %d/%d: %w", i+1, len(rows), err)
		}
	}
	return nil
}

// ListBefore returns all samples taken before the given time.
func (s *BookSampleStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BookSampleRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, sampled_at, bids, asks, compressed
		FROM book_samples
		WHERE sampled_at < $1
		ORDER BY sampled_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list book samples: %w", err)
	}
	defer rows.Close()

	var out []domain.BookSampleRow
	for rows.Next() {
		var r domain.BookSampleRow
		if err := rows.Scan(&r.Symbol, &r.SampledAt, &r.Bids, &r.Asks, &r.Compressed); err != nil {
			return nil, fmt.Errorf("postgres: scan book sample: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteBefore removes samples taken before the given time.
func (s *BookSampleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM book_samples WHERE sampled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete book samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
