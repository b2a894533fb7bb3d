// Package book maintains a local replica of an exchange order book from
// snapshot and delta updates.
package book

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// LevelObserver receives price-level mutations as they are applied to the
// replica. The wall tracker implements this to follow level lifecycles.
// Callbacks run on the replica's apply path and must not block.
type LevelObserver interface {
	// OnLevelSet fires when a level is created (prevSize 0) or resized.
	OnLevelSet(side domain.Side, price, prevSize, newSize float64, ts time.Time)
	// OnLevelRemoved fires when a delta deletes a level.
	OnLevelRemoved(side domain.Side, price, lastSize float64, ts time.Time)
	// OnReset fires before a snapshot replaces the book state.
	OnReset(ts time.Time)
}

// Replica is the local mirror of one symbol's order book. It is safe for
// concurrent use; ApplyUpdate is expected to be called from a single
// dispatch goroutine while readers query snapshots.
type Replica struct {
	symbol    string
	maxLevels int
	staleness time.Duration
	observer  LevelObserver
	logger    *slog.Logger

	mu           sync.RWMutex
	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID int64
	lastApplied  time.Time
	ready        bool
}

// NewReplica creates an empty replica for symbol. maxLevels bounds the number
// of levels retained per side; levels furthest from the top of the book are
// evicted first. staleness is the maximum age of the last applied update
// before Snapshot refuses to serve data. observer may be nil.
func NewReplica(symbol string, maxLevels int, staleness time.Duration, observer LevelObserver, logger *slog.Logger) *Replica {
	return &Replica{
		symbol:    symbol,
		maxLevels: maxLevels,
		staleness: staleness,
		observer:  observer,
		logger:    logger.With(slog.String("component", "book"), slog.String("symbol", symbol)),
		bids:      make(map[float64]float64),
		asks:      make(map[float64]float64),
	}
}

// ApplyUpdate folds a snapshot or delta into the replica. Deltas arriving
// before the first snapshot are discarded and reported as not applied. A
// snapshot replaces all existing state.
func (r *Replica) ApplyUpdate(u domain.BookUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case domain.UpdateSnapshot:
		r.applySnapshot(u)
		return true
	case domain.UpdateDelta:
		if !r.ready {
			r.logger.Debug("discarding delta before snapshot",
				slog.Int64("update_id", u.UpdateID))
			return false
		}
		r.applyDelta(u)
		return true
	default:
		r.logger.Warn("unknown book update kind", slog.String("kind", string(u.Kind)))
		return false
	}
}

func (r *Replica) applySnapshot(u domain.BookUpdate) {
	if r.observer != nil {
		r.observer.OnReset(u.Timestamp)
	}
	r.bids = make(map[float64]float64, len(u.Bids))
	r.asks = make(map[float64]float64, len(u.Asks))
	for _, lvl := range u.Bids {
		if lvl.Size <= 0 {
			continue
		}
		r.bids[lvl.Price] = lvl.Size
		if r.observer != nil {
			r.observer.OnLevelSet(domain.SideBid, lvl.Price, 0, lvl.Size, u.Timestamp)
		}
	}
	for _, lvl := range u.Asks {
		if lvl.Size <= 0 {
			continue
		}
		r.asks[lvl.Price] = lvl.Size
		if r.observer != nil {
			r.observer.OnLevelSet(domain.SideAsk, lvl.Price, 0, lvl.Size, u.Timestamp)
		}
	}
	r.evict()
	r.lastUpdateID = u.UpdateID
	r.lastApplied = u.Timestamp
	r.ready = true
}

func (r *Replica) applyDelta(u domain.BookUpdate) {
	r.applySide(domain.SideBid, r.bids, u.Bids, u.Timestamp)
	r.applySide(domain.SideAsk, r.asks, u.Asks, u.Timestamp)
	r.evict()
	r.lastUpdateID = u.UpdateID
	r.lastApplied = u.Timestamp
}

func (r *Replica) applySide(side domain.Side, levels map[float64]float64, updates []domain.PriceLevel, ts time.Time) {
	for _, lvl := range updates {
		prev, exists := levels[lvl.Price]
		if lvl.Size <= 0 {
			if !exists {
				continue
			}
			delete(levels, lvl.Price)
			if r.observer != nil {
				r.observer.OnLevelRemoved(side, lvl.Price, prev, ts)
			}
			continue
		}
		levels[lvl.Price] = lvl.Size
		if r.observer != nil {
			r.observer.OnLevelSet(side, lvl.Price, prev, lvl.Size, ts)
		}
	}
}

// evict trims each side to maxLevels, keeping the levels closest to the top
// of the book. Evicted levels are a memory bound, not an exchange event, so
// the observer is not notified.
func (r *Replica) evict() {
	if r.maxLevels <= 0 {
		return
	}
	if len(r.bids) > r.maxLevels {
		prices := mapKeys(r.bids)
		// Bids keep the highest prices.
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
		for _, p := range prices[r.maxLevels:] {
			delete(r.bids, p)
		}
	}
	if len(r.asks) > r.maxLevels {
		prices := mapKeys(r.asks)
		// Asks keep the lowest prices.
		sort.Float64s(prices)
		for _, p := range prices[r.maxLevels:] {
			delete(r.asks, p)
		}
	}
}

// Snapshot returns the current book state with bids sorted best-first
// (descending price) and asks best-first (ascending price). It returns nil
// when no snapshot has been applied yet or when the last update is older
// than the staleness threshold relative to now.
func (r *Replica) Snapshot(now time.Time) *domain.BookSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return nil
	}
	if r.staleness > 0 && now.Sub(r.lastApplied) > r.staleness {
		return nil
	}

	snap := &domain.BookSnapshot{
		Symbol:    r.symbol,
		Bids:      sortedLevels(r.bids, true),
		Asks:      sortedLevels(r.asks, false),
		UpdateID:  r.lastUpdateID,
		Timestamp: r.lastApplied,
	}
	return snap
}

// Ready reports whether an initial snapshot has been applied and both sides
// of the book currently hold at least one level. A one-sided book is not a
// usable replica.
func (r *Replica) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready && len(r.bids) > 0 && len(r.asks) > 0
}

// Reset clears all state. The next delta will be discarded until a fresh
// snapshot arrives. Used on reconnect.
func (r *Replica) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observer != nil {
		r.observer.OnReset(time.Now())
	}
	r.bids = make(map[float64]float64)
	r.asks = make(map[float64]float64)
	r.lastUpdateID = 0
	r.lastApplied = time.Time{}
	r.ready = false
}

func mapKeys(m map[float64]float64) []float64 {
	keys := make([]float64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func sortedLevels(m map[float64]float64, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for price, size := range m {
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
