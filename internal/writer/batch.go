// Package writer drains the ingestion queues on a timer and persists their
// contents in batched inserts.
package writer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
	"github.com/quantfeed/wallwatch/internal/queue"
)

// Alerter delivers operator alerts on persistence failures. May be nil.
type Alerter interface {
	Notify(ctx context.Context, subject, body string) error
}

// Config carries the writer's tunables.
type Config struct {
	Interval           time.Duration
	MaxBatchRows       int
	CompressionEnabled bool
}

// Writer drains the candle, book-sample and tick queues every Interval and
// writes each batch in chunks of at most MaxBatchRows rows. A failed chunk is
// logged and skipped; the remaining chunks still go through. All storage I/O
// happens here, never on the ingestion dispatch path.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	candleQ *queue.Queue[domain.Candle]
	sampleQ *queue.Queue[domain.BookSample]
	tickQ   *queue.Queue[domain.TradeTick]

	candles domain.CandleStore
	samples domain.BookSampleStore
	ticks   domain.TickStore
	cache   domain.BookCache // optional
	alerter Alerter          // optional

	mu      sync.Mutex
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New wires a stopped writer. cache and alerter may be nil.
func New(
	cfg Config,
	candleQ *queue.Queue[domain.Candle],
	sampleQ *queue.Queue[domain.BookSample],
	tickQ *queue.Queue[domain.TradeTick],
	candles domain.CandleStore,
	samples domain.BookSampleStore,
	ticks domain.TickStore,
	cache domain.BookCache,
	alerter Alerter,
	logger *slog.Logger,
) *Writer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxBatchRows <= 0 {
		cfg.MaxBatchRows = 1000
	}
	return &Writer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "writer")),
		candleQ: candleQ,
		sampleQ: sampleQ,
		tickQ:   tickQ,
		candles: candles,
		samples: samples,
		ticks:   ticks,
		cache:   cache,
		alerter: alerter,
		done:    make(chan struct{}),
	}
}

// Start launches the drain loop.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
				w.flush(ctx)
			}
		}
	}()
}

// Stop halts the loop and runs one final best-effort flush so data buffered
// at shutdown still reaches storage.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	w.flush(ctx)
	return nil
}

// flush drains all three queues and persists each batch.
func (w *Writer) flush(ctx context.Context) {
	w.flushCandles(ctx)
	w.flushSamples(ctx)
	w.flushTicks(ctx)
}

func (w *Writer) flushCandles(ctx context.Context) {
	batch := w.candleQ.DrainAll()
	if len(batch) == 0 {
		return
	}
	for _, chunk := range chunks(batch, w.cfg.MaxBatchRows) {
		if err := w.candles.InsertBatch(ctx, chunk); err != nil {
			w.persistFailed(ctx, "candles", len(chunk), err)
			continue
		}
	}
	w.logger.Debug("candles flushed", slog.Int("rows", len(batch)))
}

func (w *Writer) flushSamples(ctx context.Context) {
	batch := w.sampleQ.DrainAll()
	if len(batch) == 0 {
		return
	}

	rows := make([]domain.BookSampleRow, 0, len(batch))
	latest := make(map[string]domain.BookSample, 4)
	for _, s := range batch {
		row, err := w.encodeSample(s)
		if err != nil {
			w.logger.Error("book sample encode failed",
				slog.String("symbol", s.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		rows = append(rows, row)
		if prev, ok := latest[s.Symbol]; !ok || s.SampledAt.After(prev.SampledAt) {
			latest[s.Symbol] = s
		}
	}

	wrote := false
	for _, chunk := range chunks(rows, w.cfg.MaxBatchRows) {
		if err := w.samples.InsertBatch(ctx, chunk); err != nil {
			w.persistFailed(ctx, "book_samples", len(chunk), err)
			continue
		}
		wrote = true
	}
	if wrote {
		w.mirrorLatest(ctx, latest)
	}
	w.logger.Debug("book samples flushed", slog.Int("rows", len(rows)))
}

func (w *Writer) flushTicks(ctx context.Context) {
	batch := w.tickQ.DrainAll()
	if len(batch) == 0 {
		return
	}
	for _, chunk := range chunks(batch, w.cfg.MaxBatchRows) {
		if err := w.ticks.InsertBatch(ctx, chunk); err != nil {
			w.persistFailed(ctx, "ticks", len(chunk), err)
			continue
		}
	}
	w.logger.Debug("ticks flushed", slog.Int("rows", len(batch)))
}

// encodeSample serializes a sample's bid/ask payloads, gzip-compressing each
// independently when enabled.
func (w *Writer) encodeSample(s domain.BookSample) (domain.BookSampleRow, error) {
	bids, err := encodePayload(s.Bids, w.cfg.CompressionEnabled)
	if err != nil {
		return domain.BookSampleRow{}, fmt.Errorf("writer: encode bids: %w", err)
	}
	asks, err := encodePayload(s.Asks, w.cfg.CompressionEnabled)
	if err != nil {
		return domain.BookSampleRow{}, fmt.Errorf("writer: encode asks: %w", err)
	}
	return domain.BookSampleRow{
		Symbol:     s.Symbol,
		SampledAt:  s.SampledAt,
		Bids:       bids,
		Asks:       asks,
		Compressed: w.cfg.CompressionEnabled,
	}, nil
}

// mirrorLatest pushes the freshest stored sample per symbol to the book
// cache. Cache failures are logged and ignored; the cache is a convenience
// mirror, not a system of record.
func (w *Writer) mirrorLatest(ctx context.Context, latest map[string]domain.BookSample) {
	if w.cache == nil {
		return
	}
	for sym, s := range latest {
		snap := domain.BookSnapshot{
			Symbol:    sym,
			Bids:      s.Bids,
			Asks:      s.Asks,
			Timestamp: s.SampledAt,
		}
		if err := w.cache.SetLatest(ctx, sym, snap); err != nil {
			w.logger.Warn("book cache update failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()))
		}
	}
}

func (w *Writer) persistFailed(ctx context.Context, table string, rows int, err error) {
	w.logger.Error("batch insert failed",
		slog.String("table", table),
		slog.Int("rows", rows),
		slog.String("error", err.Error()))
	if w.alerter != nil {
		detail := fmt.Sprintf("insert into %s failed for %d rows: %v", table, rows, err)
		if nerr := w.alerter.Notify(ctx, "persist_failure", detail); nerr != nil {
			w.logger.Warn("notifier send failed", slog.String("error", nerr.Error()))
		}
	}
}

func encodePayload(levels []domain.PriceLevel, compress bool) ([]byte, error) {
	data, err := json.Marshal(levels)
	if err != nil {
		return nil, err
	}
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// chunks splits items into slices of at most size elements.
func chunks[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
