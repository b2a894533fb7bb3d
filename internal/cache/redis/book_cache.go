package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// BookCache implements domain.BookCache. The latest replica snapshot per
// symbol is stored as a JSON blob with a TTL, so a reader never sees a book
// older than the TTL even if the pipeline stalls.
//
// Key schema:
//
//	book:latest:{symbol} - JSON-encoded domain.BookSnapshot
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by the given Client. A ttl of zero
// stores snapshots without expiry.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func latestKey(symbol string) string { return "book:latest:" + symbol }

// SetLatest replaces the cached snapshot for symbol.
func (bc *BookCache) SetLatest(ctx context.Context, symbol string, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book snapshot: %w", err)
	}
	if err := bc.rdb.Set(ctx, latestKey(symbol), data, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set latest book %s: %w", symbol, err)
	}
	return nil
}

// GetLatest returns the cached snapshot for symbol, or domain.ErrNotFound
// when nothing is cached or the entry has expired.
func (bc *BookCache) GetLatest(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	data, err := bc.rdb.Get(ctx, latestKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get latest book %s: %w", symbol, err)
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: decode book snapshot %s: %w", symbol, err)
	}
	return snap, nil
}
