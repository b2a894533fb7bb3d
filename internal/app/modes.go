package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/wallwatch/internal/domain"
	"github.com/quantfeed/wallwatch/internal/ingest"
	"github.com/quantfeed/wallwatch/internal/platform/deriva"
	"github.com/quantfeed/wallwatch/internal/queue"
	"github.com/quantfeed/wallwatch/internal/server"
	"github.com/quantfeed/wallwatch/internal/server/handler"
	"github.com/quantfeed/wallwatch/internal/wall"
	"github.com/quantfeed/wallwatch/internal/writer"
)

// shutdownTimeout bounds the drain-and-flush window on mode exit.
const shutdownTimeout = 10 * time.Second

// orderBookDepth is the level count requested from the feed per side.
const orderBookDepth = 50

// pipeline bundles the running ingestion components so modes can expose them
// to the HTTP layer and stop them in order.
type pipeline struct {
	orchestrator *ingest.Orchestrator
	writer       *writer.Writer
}

// IngestMode runs the feed orchestrator and the batch writer without the HTTP
// read API. It blocks until the context is cancelled.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	p, err := a.startPipeline(ctx, g, deps)
	if err != nil {
		return err
	}

	a.startArchiveLoop(ctx, g, deps)

	g.Go(func() error {
		<-ctx.Done()
		a.stopPipeline(p)
		return ctx.Err()
	})

	return g.Wait()
}

// FullMode runs the ingestion pipeline and serves the HTTP read API directly
// from the in-memory replicas.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	p, err := a.startPipeline(ctx, g, deps)
	if err != nil {
		return err
	}

	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, handler.Sources{
			Status: p.orchestrator,
			Book:   p.orchestrator,
			Walls:  p.orchestrator,
			Queues: p.orchestrator,
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.stopPipeline(p)
		return ctx.Err()
	})

	return g.Wait()
}

// ServerMode serves the HTTP read API without ingesting. Book snapshots come
// from the Redis mirror written by a separate ingest process; endpoints that
// need live in-memory state answer 503.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	if deps.BookCache == nil {
		return fmt.Errorf("app: server mode requires redis")
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, handler.Sources{
		Book: &cachedBookSource{cache: deps.BookCache, logger: a.logger},
	})

	return g.Wait()
}

// startPipeline builds the queues, writer, and orchestrator, starts them, and
// registers the writer drain loop on the group.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*pipeline, error) {
	logger := a.logger

	candleQ := queue.New[domain.Candle]("candles", a.cfg.Queues.MaxQueueSize, a.cfg.Queues.WarnQueueSize, logger)
	sampleQ := queue.New[domain.BookSample]("book_samples", a.cfg.Queues.MaxQueueSize, a.cfg.Queues.WarnQueueSize, logger)
	tickQ := queue.New[domain.TradeTick]("ticks", a.cfg.Queues.MaxQueueSize, a.cfg.Queues.WarnQueueSize, logger)

	w := writer.New(
		writer.Config{
			Interval:           a.cfg.Writer.BatchInterval(),
			MaxBatchRows:       a.cfg.Writer.MaxBatchRows,
			CompressionEnabled: a.cfg.Writer.CompressionEnabled,
		},
		candleQ, sampleQ, tickQ,
		deps.CandleStore, deps.SampleStore, deps.TickStore,
		deps.BookCache,
		deps.Notifier,
		logger,
	)
	w.Start(ctx)

	parser := deriva.NewParser()
	factory := func(onMessage func([]byte), onDisconnect func(error)) ingest.Transport {
		return deriva.NewWSClient(a.cfg.Feed.WsURL, onMessage, onDisconnect)
	}

	orch := ingest.NewOrchestrator(
		ingest.Config{
			Symbols:              a.cfg.Feed.Symbols,
			Topics:               deriva.Topics(a.cfg.Feed.Symbols, a.cfg.Feed.Timeframes, orderBookDepth),
			PingInterval:         a.cfg.Feed.PingInterval(),
			ReconnectBaseDelay:   a.cfg.Feed.ReconnectBaseDelay(),
			MaxReconnectAttempts: a.cfg.Feed.MaxReconnectAttempts,
			SampleInterval:       a.cfg.Feed.SampleInterval(),
			MaxLevels:            a.cfg.Book.MaxLevels,
			StalenessThreshold:   a.cfg.Book.StalenessThreshold(),
			Wall: wall.Options{
				SpoofingThreshold:       a.cfg.Tracker.SpoofingThreshold(),
				MinLifetime:             a.cfg.Tracker.MinLifetime(),
				MinRefillsForIceberg:    a.cfg.Tracker.MinRefillsForIceberg,
				ClusterProximityPercent: a.cfg.Tracker.ClusterProximityPercent,
				ClusterMinWalls:         a.cfg.Tracker.ClusterMinWalls,
				HistoryCapacity:         a.cfg.Tracker.HistoryCapacity,
			},
		},
		factory,
		parser,
		candleQ, sampleQ, tickQ,
		deps.Notifier,
		w,
		logger,
	)

	if err := orch.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: start orchestrator: %w", err)
	}

	return &pipeline{orchestrator: orch, writer: w}, nil
}

// stopPipeline shuts the orchestrator down with a bounded deadline. The
// orchestrator stops the writer as its flusher, so one call drains both.
func (a *App) stopPipeline(p *pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.orchestrator.Stop(ctx); err != nil {
		a.logger.Warn("pipeline shutdown incomplete", slog.String("error", err.Error()))
	}
}

// startArchiveLoop runs periodic cold-storage sweeps when archival is wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Archive.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				n, err := deps.Archiver.ArchiveAll(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive sweep failed",
						slog.Int64("archived", n),
						slog.String("error", err.Error()),
					)
					continue
				}
				a.logger.InfoContext(ctx, "archive sweep complete",
					slog.Int64("archived", n),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	})
}

// startHTTPServer launches the read API on the group and shuts it down when
// the context is cancelled. Absent sources leave their endpoints answering
// 503 so the route surface stays identical across modes.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, sources handler.Sources) {
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Status: handler.NewStatusHandler(sources.Status, a.logger),
			Book:   handler.NewBookHandler(sources.Book, a.logger),
			Walls:  handler.NewWallHandler(sources.Walls, a.logger),
			Queues: handler.NewQueueHandler(sources.Queues, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// cachedBookSource adapts the Redis latest-book mirror to the HTTP book
// endpoint for server mode.
type cachedBookSource struct {
	cache  domain.BookCache
	logger *slog.Logger
}

var _ handler.BookSource = (*cachedBookSource)(nil)

func (s *cachedBookSource) Snapshot(symbol string) *domain.BookSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := s.cache.GetLatest(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("book cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return &snap
}
