// Package domain defines the core value types shared across the ingestion
// pipeline: order-book levels and updates, candles, trade ticks, wall
// analytics, and the store/cache interfaces implemented by the infrastructure
// packages.
package domain

import "time"

// Side identifies which half of the book a level belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// PriceLevel is a single price+size entry in an orderbook. A size of zero in a
// delta means the level is removed; a stored level never has size zero.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// UpdateKind distinguishes full book snapshots from incremental deltas.
type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateDelta    UpdateKind = "delta"
)

// BookUpdate is a parsed orderbook message from the feed: either a full
// snapshot or an incremental delta for one symbol.
type BookUpdate struct {
	Kind      UpdateKind
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdateID  int64
	Timestamp time.Time
}

// BookSnapshot is a point-in-time read of the local replica: bids sorted
// descending, asks ascending.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdateID  int64        `json:"update_id"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid, or zero if the bid side is empty.
func (s *BookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero if the ask side is empty.
func (s *BookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Candle is one OHLCV bar for a symbol and timeframe.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	BucketTS  time.Time `json:"bucket_ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TradeTick is a single public trade execution.
type TradeTick struct {
	Symbol   string    `json:"symbol"`
	TradedAt time.Time `json:"traded_at"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Side     Side      `json:"side"` // aggressor side
}

// BookSample is a periodic snapshot of the replica destined for durable
// storage. Samples are taken on their own timer, deliberately decoupled from
// the much higher-frequency mutation stream.
type BookSample struct {
	Symbol    string       `json:"symbol"`
	SampledAt time.Time    `json:"sampled_at"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// BookSampleRow is the storage form of a BookSample: bid/ask payloads encoded
// (and optionally gzip-compressed) by the persistence writer.
type BookSampleRow struct {
	Symbol     string
	SampledAt  time.Time
	Bids       []byte
	Asks       []byte
	Compressed bool
}
