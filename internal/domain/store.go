package domain

import (
	"context"
	"time"
)

// CandleStore persists OHLCV bars. InsertBatch must be idempotent: re-inserting
// a (symbol, timeframe, bucket_ts) that already exists is silently skipped so
// redelivery or overlapping drains never corrupt stored history.
type CandleStore interface {
	InsertBatch(ctx context.Context, candles []Candle) error
	ListBefore(ctx context.Context, before time.Time) ([]Candle, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BookSampleStore persists periodic order-book samples with pre-encoded
// bid/ask payloads.
type BookSampleStore interface {
	InsertBatch(ctx context.Context, rows []BookSampleRow) error
	ListBefore(ctx context.Context, before time.Time) ([]BookSampleRow, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TickStore persists public trade executions.
type TickStore interface {
	InsertBatch(ctx context.Context, ticks []TradeTick) error
	ListBefore(ctx context.Context, before time.Time) ([]TradeTick, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BookCache mirrors the most recent replica snapshot per symbol so external
// consumers can read the book without reaching into the ingestion process.
// Implementations return ErrNotFound when no snapshot has been published.
type BookCache interface {
	SetLatest(ctx context.Context, symbol string, snap BookSnapshot) error
	GetLatest(ctx context.Context, symbol string) (BookSnapshot, error)
}

// BlobWriter uploads an object to blob storage at the given path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
