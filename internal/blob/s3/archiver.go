package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// Verifier confirms that an uploaded archive object exists before the source
// rows are pruned. Reader satisfies it.
type Verifier interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged market data from Postgres to object storage: rows older
// than the retention cutoff are serialized to JSONL, uploaded, verified, and
// only then deleted from the primary store.
type Archiver struct {
	writer  domain.BlobWriter
	verify  Verifier
	candles domain.CandleStore
	samples domain.BookSampleStore
	ticks   domain.TickStore
	logger  *slog.Logger
}

// NewArchiver wires an Archiver. verify may be nil, in which case uploads are
// trusted and pruning proceeds without a HeadObject round trip.
func NewArchiver(
	writer domain.BlobWriter,
	verify Verifier,
	candles domain.CandleStore,
	samples domain.BookSampleStore,
	ticks domain.TickStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:  writer,
		verify:  verify,
		candles: candles,
		samples: samples,
		ticks:   ticks,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAll archives candles, book samples and ticks older than before.
// Each kind is archived independently; a failure in one does not stop the
// others. The combined count of archived rows is returned along with the
// first error encountered.
func (a *Archiver) ArchiveAll(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	var firstErr error

	for _, job := range []struct {
		kind string
		run  func(context.Context, time.Time) (int64, error)
	}{
		{"candles", a.ArchiveCandles},
		{"book_samples", a.ArchiveBookSamples},
		{"ticks", a.ArchiveTicks},
	} {
		n, err := job.run(ctx, before)
		total += n
		if err != nil {
			a.logger.Error("archive failed",
				slog.String("kind", job.kind),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			a.logger.Info("archived",
				slog.String("kind", job.kind),
				slog.Int64("rows", n))
		}
	}
	return total, firstErr
}

// ArchiveCandles uploads all candles with bucket_ts before the cutoff to
// archive/candles/YYYY-MM.jsonl and prunes them from the store.
func (a *Archiver) ArchiveCandles(ctx context.Context, before time.Time) (int64, error) {
	candles, err := a.candles.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive candles query: %w", err)
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := uploadJSONL(ctx, a, archivePath("candles", before), candles); err != nil {
		return 0, err
	}
	if _, err := a.candles.DeleteBefore(ctx, before); err != nil {
		return int64(len(candles)), fmt.Errorf("s3blob: prune candles: %w", err)
	}
	return int64(len(candles)), nil
}

// ArchiveBookSamples uploads all samples taken before the cutoff to
// archive/book_samples/YYYY-MM.jsonl and prunes them from the store.
func (a *Archiver) ArchiveBookSamples(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.samples.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive book samples query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := uploadJSONL(ctx, a, archivePath("book_samples", before), rows); err != nil {
		return 0, err
	}
	if _, err := a.samples.DeleteBefore(ctx, before); err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: prune book samples: %w", err)
	}
	return int64(len(rows)), nil
}

// ArchiveTicks uploads all ticks traded before the cutoff to
// archive/ticks/YYYY-MM.jsonl and prunes them from the store.
func (a *Archiver) ArchiveTicks(ctx context.Context, before time.Time) (int64, error) {
	ticks, err := a.ticks.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks query: %w", err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}
	if err := uploadJSONL(ctx, a, archivePath("ticks", before), ticks); err != nil {
		return 0, err
	}
	if _, err := a.ticks.DeleteBefore(ctx, before); err != nil {
		return int64(len(ticks)), fmt.Errorf("s3blob: prune ticks: %w", err)
	}
	return int64(len(ticks)), nil
}

// uploadJSONL serializes records to JSONL, writes the object, and verifies it
// landed before the caller prunes anything.
func uploadJSONL[T any](ctx context.Context, a *Archiver, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
	}
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	if a.verify != nil {
		ok, err := a.verify.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("s3blob: archive verify %s: %w", path, err)
		}
		if !ok {
			return fmt.Errorf("s3blob: archive verify %s: object missing after upload", path)
		}
	}
	return nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/candles/2025-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
