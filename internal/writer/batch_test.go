package writer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
	"github.com/quantfeed/wallwatch/internal/queue"
)

type fakeCandleStore struct {
	mu      sync.Mutex
	batches [][]domain.Candle
	failOn  int // 1-based batch index that returns an error, 0 = never
	calls   int
}

func (s *fakeCandleStore) InsertBatch(_ context.Context, candles []domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn != 0 && s.calls == s.failOn {
		return errors.New("insert failed")
	}
	s.batches = append(s.batches, candles)
	return nil
}

func (s *fakeCandleStore) ListBefore(context.Context, time.Time) ([]domain.Candle, error) {
	return nil, nil
}
func (s *fakeCandleStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeSampleStore struct {
	mu      sync.Mutex
	batches [][]domain.BookSampleRow
	err     error
}

func (s *fakeSampleStore) InsertBatch(_ context.Context, rows []domain.BookSampleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, rows)
	return nil
}

func (s *fakeSampleStore) ListBefore(context.Context, time.Time) ([]domain.BookSampleRow, error) {
	return nil, nil
}
func (s *fakeSampleStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeTickStore struct {
	mu      sync.Mutex
	batches [][]domain.TradeTick
}

func (s *fakeTickStore) InsertBatch(_ context.Context, ticks []domain.TradeTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, ticks)
	return nil
}

func (s *fakeTickStore) ListBefore(context.Context, time.Time) ([]domain.TradeTick, error) {
	return nil, nil
}
func (s *fakeTickStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeCache struct {
	mu     sync.Mutex
	latest map[string]domain.BookSnapshot
}

func (c *fakeCache) SetLatest(_ context.Context, symbol string, snap domain.BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		c.latest = make(map[string]domain.BookSnapshot)
	}
	c.latest[symbol] = snap
	return nil
}

func (c *fakeCache) GetLatest(_ context.Context, symbol string) (domain.BookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.latest[symbol]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type writerHarness struct {
	w       *Writer
	candleQ *queue.Queue[domain.Candle]
	sampleQ *queue.Queue[domain.BookSample]
	tickQ   *queue.Queue[domain.TradeTick]
	candles *fakeCandleStore
	samples *fakeSampleStore
	ticks   *fakeTickStore
	cache   *fakeCache
}

func newWriterHarness(cfg Config) *writerHarness {
	logger := slog.Default()
	h := &writerHarness{
		candleQ: queue.New[domain.Candle]("candles", 10000, 0, logger),
		sampleQ: queue.New[domain.BookSample]("book_samples", 10000, 0, logger),
		tickQ:   queue.New[domain.TradeTick]("ticks", 10000, 0, logger),
		candles: &fakeCandleStore{},
		samples: &fakeSampleStore{},
		ticks:   &fakeTickStore{},
		cache:   &fakeCache{},
	}
	h.w = New(cfg, h.candleQ, h.sampleQ, h.tickQ,
		h.candles, h.samples, h.ticks, h.cache, nil, logger)
	return h
}

func TestFlushChunksAtMaxBatchRows(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 3})
	for i := 0; i < 7; i++ {
		h.candleQ.Enqueue(domain.Candle{Symbol: "BTCUSDT", Timeframe: "1m"})
	}

	h.w.flush(context.Background())

	h.candles.mu.Lock()
	defer h.candles.mu.Unlock()
	sizes := make([]int, len(h.candles.batches))
	for i, b := range h.candles.batches {
		sizes[i] = len(b)
	}
	want := []int{3, 3, 1}
	if len(sizes) != 3 || sizes[0] != want[0] || sizes[1] != want[1] || sizes[2] != want[2] {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
}

func TestChunkFailureIsIsolated(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 2})
	h.candles.failOn = 2
	for i := 0; i < 6; i++ {
		h.candleQ.Enqueue(domain.Candle{Symbol: "BTCUSDT"})
	}

	h.w.flush(context.Background())

	h.candles.mu.Lock()
	defer h.candles.mu.Unlock()
	// 3 chunks attempted, middle one failed.
	if h.candles.calls != 3 {
		t.Errorf("insert calls = %d, want 3", h.candles.calls)
	}
	if len(h.candles.batches) != 2 {
		t.Errorf("stored batches = %d, want 2 surviving the failed chunk", len(h.candles.batches))
	}
}

func TestSampleCompressionRoundTrip(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 100, CompressionEnabled: true})
	bids := []domain.PriceLevel{{Price: 100, Size: 10}, {Price: 99, Size: 5}}
	h.sampleQ.Enqueue(domain.BookSample{
		Symbol:    "BTCUSDT",
		SampledAt: time.Now(),
		Bids:      bids,
		Asks:      []domain.PriceLevel{{Price: 101, Size: 8}},
	})

	h.w.flush(context.Background())

	h.samples.mu.Lock()
	defer h.samples.mu.Unlock()
	if len(h.samples.batches) != 1 || len(h.samples.batches[0]) != 1 {
		t.Fatalf("batches = %+v, want 1 row", h.samples.batches)
	}
	row := h.samples.batches[0][0]
	if !row.Compressed {
		t.Fatal("row not flagged compressed")
	}

	gz, err := gzip.NewReader(bytes.NewReader(row.Bids))
	if err != nil {
		t.Fatalf("bids payload is not gzip: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress bids: %v", err)
	}
	var got []domain.PriceLevel
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode bids: %v", err)
	}
	if len(got) != 2 || got[0] != bids[0] {
		t.Errorf("decoded bids = %+v, want %+v", got, bids)
	}
}

func TestSampleUncompressedWhenDisabled(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 100})
	h.sampleQ.Enqueue(domain.BookSample{
		Symbol: "BTCUSDT", SampledAt: time.Now(),
		Bids: []domain.PriceLevel{{Price: 100, Size: 1}},
	})

	h.w.flush(context.Background())

	h.samples.mu.Lock()
	defer h.samples.mu.Unlock()
	row := h.samples.batches[0][0]
	if row.Compressed {
		t.Fatal("row flagged compressed with compression disabled")
	}
	var got []domain.PriceLevel
	if err := json.Unmarshal(row.Bids, &got); err != nil {
		t.Fatalf("bids are not plain JSON: %v", err)
	}
}

func TestCacheMirrorsLatestSamplePerSymbol(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 100})
	early := time.Now().Add(-time.Minute)
	late := time.Now()
	h.sampleQ.Enqueue(domain.BookSample{Symbol: "BTCUSDT", SampledAt: early,
		Bids: []domain.PriceLevel{{Price: 90, Size: 1}}})
	h.sampleQ.Enqueue(domain.BookSample{Symbol: "BTCUSDT", SampledAt: late,
		Bids: []domain.PriceLevel{{Price: 100, Size: 1}}})

	h.w.flush(context.Background())

	snap, err := h.cache.GetLatest(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLatest() error: %v", err)
	}
	if !snap.Timestamp.Equal(late) || snap.Bids[0].Price != 100 {
		t.Errorf("cached snapshot = %+v, want the later sample", snap)
	}
}

func TestCacheSkippedWhenInsertFails(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 100})
	h.samples.err = errors.New("db down")
	h.sampleQ.Enqueue(domain.BookSample{Symbol: "BTCUSDT", SampledAt: time.Now()})

	h.w.flush(context.Background())

	if _, err := h.cache.GetLatest(context.Background(), "BTCUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cache populated despite failed insert, err = %v", err)
	}
}

func TestStopRunsFinalFlush(t *testing.T) {
	h := newWriterHarness(Config{Interval: time.Hour, MaxBatchRows: 100})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.w.Start(ctx)

	h.tickQ.Enqueue(domain.TradeTick{Symbol: "BTCUSDT", Price: 100})
	if err := h.w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}

	h.ticks.mu.Lock()
	defer h.ticks.mu.Unlock()
	if len(h.ticks.batches) != 1 || len(h.ticks.batches[0]) != 1 {
		t.Fatalf("tick batches after Stop = %+v, want the buffered tick flushed", h.ticks.batches)
	}

	// Stop is idempotent.
	if err := h.w.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() = %v", err)
	}
}

func TestPeriodicFlush(t *testing.T) {
	h := newWriterHarness(Config{Interval: 5 * time.Millisecond, MaxBatchRows: 100})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.w.Start(ctx)
	defer h.w.Stop(context.Background())

	h.candleQ.Enqueue(domain.Candle{Symbol: "BTCUSDT"})

	deadline := time.After(2 * time.Second)
	for {
		h.candles.mu.Lock()
		n := len(h.candles.batches)
		h.candles.mu.Unlock()
		if n > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("ticker never flushed the candle queue")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
