package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfeed/wallwatch/internal/book"
	"github.com/quantfeed/wallwatch/internal/domain"
	"github.com/quantfeed/wallwatch/internal/queue"
	"github.com/quantfeed/wallwatch/internal/wall"
)

// State is the orchestrator's connection lifecycle state.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateReconnectScheduled State = "reconnect_scheduled"
	StateGivenUp            State = "given_up"
)

// stopGracePeriod lets in-flight dispatch callbacks finish before the
// connection and storage are torn down.
const stopGracePeriod = 100 * time.Millisecond

// Transport is one feed connection. Implementations deliver inbound frames
// and disconnects through the callbacks passed to the TransportFactory and
// must not reconnect on their own.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topics []string) error
	Send(payload []byte) error
	Close() error
}

// TransportFactory builds a fresh Transport for each connection attempt.
type TransportFactory func(onMessage func([]byte), onDisconnect func(error)) Transport

// Parser turns a raw feed frame into a typed message.
type Parser interface {
	Parse(raw []byte) (*domain.FeedMessage, error)
}

// Notifier delivers operator alerts. May be nil.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Flusher is the persistence writer's shutdown hook.
type Flusher interface {
	Stop(ctx context.Context) error
}

// Config carries the orchestrator's tunables, pre-resolved by the app layer.
type Config struct {
	Symbols              []string
	Topics               []string
	PingInterval         time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	SampleInterval       time.Duration
	MaxLevels            int
	StalenessThreshold   time.Duration
	Wall                 wall.Options
}

// marketState bundles the replica and tracker for one symbol. Both are
// mutated only from the dispatch path.
type marketState struct {
	replica *book.Replica
	tracker *wall.Tracker
}

// Orchestrator owns the feed connection lifecycle and the per-symbol market
// state registry. Inbound messages are dispatched synchronously: book updates
// mutate the replica (which drives the wall tracker), candles and ticks are
// enqueued for the persistence writer. Dispatch never does I/O.
type Orchestrator struct {
	cfg          Config
	newTransport TransportFactory
	parser       Parser
	keepalive    *Keepalive
	notifier     Notifier
	flusher      Flusher
	logger       *slog.Logger

	candleQ *queue.Queue[domain.Candle]
	sampleQ *queue.Queue[domain.BookSample]
	tickQ   *queue.Queue[domain.TradeTick]

	mu         sync.RWMutex
	registry   map[string]*marketState
	state      State
	attempt    int
	connecting bool
	transport  Transport
	sessionID  string
	stopping   bool

	runCtx      context.Context
	samplerDone chan struct{}

	lastDropTotal    uint64
	lastOverflowWarn time.Time
}

// overflowAlertInterval rate-limits queue_overflow alerts during sustained
// backpressure.
const overflowAlertInterval = time.Minute

// heartbeatMissLimit is how many ping intervals may pass without an ack
// before the connection is treated as half-open and torn down.
const heartbeatMissLimit = 3

// NewOrchestrator wires an orchestrator. notifier and flusher may be nil.
func NewOrchestrator(
	cfg Config,
	factory TransportFactory,
	parser Parser,
	candleQ *queue.Queue[domain.Candle],
	sampleQ *queue.Queue[domain.BookSample],
	tickQ *queue.Queue[domain.TradeTick],
	notifier Notifier,
	flusher Flusher,
	logger *slog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		newTransport: factory,
		parser:       parser,
		keepalive:    NewKeepalive(cfg.PingInterval, logger),
		notifier:     notifier,
		flusher:      flusher,
		logger:       logger.With(slog.String("component", "ingest")),
		candleQ:      candleQ,
		sampleQ:      sampleQ,
		tickQ:        tickQ,
		registry:     make(map[string]*marketState, len(cfg.Symbols)),
		state:        StateDisconnected,
	}
	for _, sym := range cfg.Symbols {
		tracker := wall.NewTracker(cfg.Wall, logger)
		o.registry[sym] = &marketState{
			replica: book.NewReplica(sym, cfg.MaxLevels, cfg.StalenessThreshold, tracker, logger),
			tracker: tracker,
		}
	}
	return o
}

// Start connects to the feed and begins sampling. It returns after the first
// connection attempt has been made; reconnects proceed in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx = ctx
	o.samplerDone = make(chan struct{})
	o.mu.Unlock()

	go o.sampleLoop(ctx)
	o.connect(ctx)
	return nil
}

// connect performs one connection attempt. A second call while an attempt is
// in flight is a no-op.
func (o *Orchestrator) connect(ctx context.Context) {
	o.mu.Lock()
	if o.stopping || o.connecting || o.state == StateGivenUp {
		o.mu.Unlock()
		return
	}
	o.connecting = true
	o.state = StateConnecting
	o.sessionID = uuid.NewString()
	sessionLog := o.logger.With(slog.String("session_id", o.sessionID))
	o.mu.Unlock()

	t := o.newTransport(o.dispatch, o.handleDisconnect)
	if err := t.Connect(ctx); err != nil {
		sessionLog.Error("feed connect failed", slog.String("error", err.Error()))
		o.mu.Lock()
		o.connecting = false
		o.state = StateDisconnected
		o.mu.Unlock()
		o.scheduleReconnect(ctx)
		return
	}

	if err := t.Subscribe(o.cfg.Topics); err != nil {
		sessionLog.Error("feed subscribe failed", slog.String("error", err.Error()))
		_ = t.Close()
		o.mu.Lock()
		o.connecting = false
		o.state = StateDisconnected
		o.mu.Unlock()
		o.scheduleReconnect(ctx)
		return
	}

	o.mu.Lock()
	o.transport = t
	o.connecting = false
	o.state = StateConnected
	o.attempt = 0
	// A fresh connection means fresh snapshots; stale replica state from the
	// previous session must not absorb the new deltas.
	for _, ms := range o.registry {
		ms.replica.Reset()
	}
	o.mu.Unlock()

	o.keepalive.Start(t.Send)
	sessionLog.Info("feed connected", slog.Int("topics", len(o.cfg.Topics)))
}

// handleDisconnect reacts to the transport's read loop terminating.
func (o *Orchestrator) handleDisconnect(err error) {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return
	}
	o.state = StateDisconnected
	o.transport = nil
	ctx := o.runCtx
	o.mu.Unlock()

	o.keepalive.Stop()
	if err != nil {
		o.logger.Warn("feed disconnected", slog.String("error", err.Error()))
	}
	o.scheduleReconnect(ctx)
}

// scheduleReconnect arms the next attempt with linear backoff, or gives up
// for good once the attempt budget is spent.
func (o *Orchestrator) scheduleReconnect(ctx context.Context) {
	o.mu.Lock()
	if o.stopping || o.state == StateGivenUp {
		o.mu.Unlock()
		return
	}
	o.attempt++
	if o.attempt > o.cfg.MaxReconnectAttempts {
		o.state = StateGivenUp
		o.mu.Unlock()
		o.logger.Error("reconnect attempts exhausted, giving up",
			slog.Int("attempts", o.cfg.MaxReconnectAttempts))
		o.alert(ctx, "reconnect_given_up",
			fmt.Sprintf("feed reconnect abandoned after %d attempts", o.cfg.MaxReconnectAttempts))
		return
	}
	o.state = StateReconnectScheduled
	delay := o.cfg.ReconnectBaseDelay * time.Duration(o.attempt)
	attempt := o.attempt
	o.mu.Unlock()

	o.logger.Info("reconnect scheduled",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		o.connect(ctx)
	})
}

// dispatch routes one inbound frame. It runs on the transport's read
// goroutine and must stay free of blocking calls and I/O.
func (o *Orchestrator) dispatch(raw []byte) {
	msg, err := o.parser.Parse(raw)
	if err != nil {
		o.logger.Debug("unparseable feed frame", slog.String("error", err.Error()))
		return
	}

	switch msg.Type {
	case domain.MsgHeartbeat:
		o.keepalive.HandlePeerHeartbeat()
	case domain.MsgHeartbeatAck:
		o.keepalive.HandleHeartbeatAck()
	case domain.MsgSubscriptionAck:
		if msg.Ack != nil && !msg.Ack.Success {
			o.logger.Warn("subscription rejected", slog.String("detail", msg.Ack.Message))
		}
	case domain.MsgCandle:
		if msg.Candle != nil {
			o.candleQ.Enqueue(*msg.Candle)
		}
	case domain.MsgTradeTicks:
		for _, tick := range msg.Ticks {
			o.tickQ.Enqueue(tick)
		}
	case domain.MsgOrderBook:
		if msg.Book != nil {
			o.applyBookUpdate(*msg.Book)
		}
	case domain.MsgUnhandled:
		// Topics we never subscribed to, or frames this version does not
		// understand. Dropped silently.
	}
}

func (o *Orchestrator) applyBookUpdate(u domain.BookUpdate) {
	o.mu.RLock()
	ms, ok := o.registry[u.Symbol]
	o.mu.RUnlock()
	if !ok {
		o.logger.Debug("book update for unknown symbol", slog.String("symbol", u.Symbol))
		return
	}
	ms.replica.ApplyUpdate(u)
}

// sampleLoop periodically snapshots each ready replica into the book-sample
// queue. Sampling runs on its own timer, decoupled from the mutation stream.
func (o *Orchestrator) sampleLoop(ctx context.Context) {
	if o.cfg.SampleInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.SampleInterval)
	defer ticker.Stop()

	o.mu.RLock()
	done := o.samplerDone
	o.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case now := <-ticker.C:
			o.sampleOnce(now)
			o.checkOverflow(ctx, now)
			o.checkLiveness(ctx)
		}
	}
}

// checkOverflow raises a rate-limited alert when queue drops have grown since
// the last sampling tick.
func (o *Orchestrator) checkOverflow(ctx context.Context, now time.Time) {
	total := o.candleQ.Dropped() + o.sampleQ.Dropped() + o.tickQ.Dropped()

	o.mu.Lock()
	grew := total > o.lastDropTotal
	delta := total - o.lastDropTotal
	o.lastDropTotal = total
	shouldAlert := grew && now.Sub(o.lastOverflowWarn) >= overflowAlertInterval
	if shouldAlert {
		o.lastOverflowWarn = now
	}
	o.mu.Unlock()

	if shouldAlert {
		o.alert(ctx, "queue_overflow",
			fmt.Sprintf("queues dropped %d items since last check (%d total)", delta, total))
	}
}

// checkLiveness tears down a connected transport whose peer has stopped
// acking heartbeats. A half-open TCP connection can sit silent for a long
// time without a read error, so heartbeat silence is the signal. The
// reconnect then follows the normal backoff path.
func (o *Orchestrator) checkLiveness(ctx context.Context) {
	if o.cfg.PingInterval <= 0 {
		return
	}
	maxSilence := o.cfg.PingInterval * heartbeatMissLimit

	o.mu.Lock()
	if o.stopping || o.state != StateConnected || o.transport == nil {
		o.mu.Unlock()
		return
	}
	if o.keepalive.Alive(maxSilence) {
		o.mu.Unlock()
		return
	}
	t := o.transport
	o.transport = nil
	o.state = StateDisconnected
	o.mu.Unlock()

	o.logger.Warn("heartbeat silence exceeded, dropping connection",
		slog.Duration("max_silence", maxSilence))

	o.keepalive.Stop()
	if err := t.Close(); err != nil {
		o.logger.Warn("feed close failed", slog.String("error", err.Error()))
	}
	o.scheduleReconnect(ctx)
}

func (o *Orchestrator) sampleOnce(now time.Time) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for sym, ms := range o.registry {
		snap := ms.replica.Snapshot(now)
		if snap == nil {
			continue
		}
		o.sampleQ.Enqueue(domain.BookSample{
			Symbol:    sym,
			SampledAt: snap.Timestamp,
			Bids:      snap.Bids,
			Asks:      snap.Asks,
		})
	}
}

// Stop tears the pipeline down: keepalive and sampler halt, the writer does
// its final flush, the connection closes, and whatever is still queued is
// discarded.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return nil
	}
	o.stopping = true
	t := o.transport
	o.transport = nil
	if o.samplerDone != nil {
		close(o.samplerDone)
	}
	o.state = StateDisconnected
	o.mu.Unlock()

	o.keepalive.Stop()

	if o.flusher != nil {
		if err := o.flusher.Stop(ctx); err != nil {
			o.logger.Warn("writer final flush failed", slog.String("error", err.Error()))
		}
	}

	time.Sleep(stopGracePeriod)

	if t != nil {
		if err := t.Close(); err != nil {
			o.logger.Warn("feed close failed", slog.String("error", err.Error()))
		}
	}

	o.candleQ.Clear()
	o.sampleQ.Clear()
	o.tickQ.Clear()

	o.logger.Info("ingestion stopped")
	return nil
}

func (o *Orchestrator) alert(ctx context.Context, subject, body string) {
	if o.notifier == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := o.notifier.Notify(ctx, subject, body); err != nil {
		o.logger.Warn("notifier send failed", slog.String("error", err.Error()))
	}
}

// --------------------------------------------------------------------------
// Read API
// --------------------------------------------------------------------------

// ConnectionState returns the current lifecycle state.
func (o *Orchestrator) ConnectionState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// SessionID returns the id of the current (or most recent) feed session.
func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionID
}

// Symbols returns the configured symbol set.
func (o *Orchestrator) Symbols() []string {
	return o.cfg.Symbols
}

// Snapshot returns the current book for symbol, or nil when the symbol is
// unknown, not yet snapshotted, or stale.
func (o *Orchestrator) Snapshot(symbol string) *domain.BookSnapshot {
	ms := o.market(symbol)
	if ms == nil {
		return nil
	}
	return ms.replica.Snapshot(time.Now())
}

// Ready reports whether symbol's replica has applied its first snapshot.
func (o *Orchestrator) Ready(symbol string) bool {
	ms := o.market(symbol)
	return ms != nil && ms.replica.Ready()
}

// ActiveWalls returns the tracked walls for symbol.
func (o *Orchestrator) ActiveWalls(symbol string) []domain.Wall {
	ms := o.market(symbol)
	if ms == nil {
		return nil
	}
	return ms.tracker.ActiveWalls()
}

// Clusters returns the current wall clusters for symbol.
func (o *Orchestrator) Clusters(symbol string) []domain.WallCluster {
	ms := o.market(symbol)
	if ms == nil {
		return nil
	}
	return ms.tracker.DetectClusters(time.Now())
}

// ClusterAt returns the cluster containing price on side, or nil.
func (o *Orchestrator) ClusterAt(symbol string, price float64, side domain.Side) *domain.WallCluster {
	ms := o.market(symbol)
	if ms == nil {
		return nil
	}
	return ms.tracker.ClusterAt(price, side, time.Now())
}

// WallStrength scores the wall at price on side in [0,1].
func (o *Orchestrator) WallStrength(symbol string, price float64, side domain.Side) float64 {
	ms := o.market(symbol)
	if ms == nil {
		return 0
	}
	return ms.tracker.WallStrength(price, side, time.Now())
}

// IsWallReal reports whether the wall at price has proven itself.
func (o *Orchestrator) IsWallReal(symbol string, price float64, side domain.Side) bool {
	ms := o.market(symbol)
	return ms != nil && ms.tracker.IsWallReal(price, side, time.Now())
}

// IsSpoofing reports the spoofing flag for the wall at price.
func (o *Orchestrator) IsSpoofing(symbol string, price float64, side domain.Side) bool {
	ms := o.market(symbol)
	return ms != nil && ms.tracker.IsSpoofing(price, side)
}

// IsIceberg reports the iceberg flag for the wall at price.
func (o *Orchestrator) IsIceberg(symbol string, price float64, side domain.Side) bool {
	ms := o.market(symbol)
	return ms != nil && ms.tracker.IsIceberg(price, side)
}

// WallHistory returns symbol's retained wall event history, oldest first.
func (o *Orchestrator) WallHistory(symbol string) []domain.WallEvent {
	ms := o.market(symbol)
	if ms == nil {
		return nil
	}
	return ms.tracker.History()
}

// QueueSizes returns the current length of each queue.
func (o *Orchestrator) QueueSizes() map[string]int {
	return map[string]int{
		o.candleQ.Name(): o.candleQ.Len(),
		o.sampleQ.Name(): o.sampleQ.Len(),
		o.tickQ.Name():   o.tickQ.Len(),
	}
}

// DroppedCounts returns the total overflow drops per queue.
func (o *Orchestrator) DroppedCounts() map[string]uint64 {
	return map[string]uint64{
		o.candleQ.Name(): o.candleQ.Dropped(),
		o.sampleQ.Name(): o.sampleQ.Dropped(),
		o.tickQ.Name():   o.tickQ.Dropped(),
	}
}

func (o *Orchestrator) market(symbol string) *marketState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.registry[symbol]
}
