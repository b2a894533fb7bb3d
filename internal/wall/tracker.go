// Package wall tracks the lifecycle of large resting orders (walls) from the
// order book's mutation stream and derives spoofing, iceberg and cluster
// analytics from it.
package wall

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantfeed/wallwatch/internal/book"
	"github.com/quantfeed/wallwatch/internal/domain"
)

// Options configures a Tracker. Zero values fall back to the defaults below.
type Options struct {
	// SpoofingThreshold marks a wall as spoofing when it is removed with a
	// lifetime below this duration.
	SpoofingThreshold time.Duration
	// MinLifetime is the age at which a wall counts as real and the
	// reference used by the lifetime component of WallStrength.
	MinLifetime time.Duration
	// MinRefillsForIceberg is the refill count at which a wall is flagged
	// iceberg.
	MinRefillsForIceberg int
	// ClusterProximityPercent is the max distance between adjacent walls in
	// a cluster, as a percentage of the previous wall's price.
	ClusterProximityPercent float64
	// ClusterMinWalls is the minimum group size for a cluster.
	ClusterMinWalls int
	// HistoryCapacity bounds the global event history ring.
	HistoryCapacity int
}

func (o *Options) fillDefaults() {
	if o.SpoofingThreshold <= 0 {
		o.SpoofingThreshold = 5 * time.Second
	}
	if o.MinLifetime <= 0 {
		o.MinLifetime = 30 * time.Second
	}
	if o.MinRefillsForIceberg <= 0 {
		o.MinRefillsForIceberg = 3
	}
	if o.ClusterProximityPercent <= 0 {
		o.ClusterProximityPercent = 0.5
	}
	if o.ClusterMinWalls <= 0 {
		o.ClusterMinWalls = 2
	}
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = 1000
	}
}

// Tracker follows every price level of one symbol's book as a potential wall.
// It is driven by the book replica's mutation stream and is safe for
// concurrent reads while a single goroutine feeds it mutations.
type Tracker struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	bids    map[float64]*domain.Wall
	asks    map[float64]*domain.Wall
	history *eventHistory
}

var _ book.LevelObserver = (*Tracker)(nil)

// NewTracker creates an empty tracker.
func NewTracker(opts Options, logger *slog.Logger) *Tracker {
	opts.fillDefaults()
	return &Tracker{
		opts:    opts,
		logger:  logger.With(slog.String("component", "wall")),
		bids:    make(map[float64]*domain.Wall),
		asks:    make(map[float64]*domain.Wall),
		history: newEventHistory(opts.HistoryCapacity),
	}
}

// OnLevelSet adapts the replica's mutation callback to ObserveMutation.
func (t *Tracker) OnLevelSet(side domain.Side, price, _, newSize float64, ts time.Time) {
	t.ObserveMutation(price, newSize, side, ts)
}

// OnLevelRemoved adapts the replica's removal callback to ObserveRemoval.
func (t *Tracker) OnLevelRemoved(side domain.Side, price, _ float64, ts time.Time) {
	t.ObserveRemoval(price, side, ts)
}

// OnReset drops all active walls when the replica re-snapshots. The global
// event history is deliberately retained across resets.
func (t *Tracker) OnReset(_ time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bids = make(map[float64]*domain.Wall)
	t.asks = make(map[float64]*domain.Wall)
}

// ObserveMutation records an insert or resize at a price level.
func (t *Tracker) ObserveMutation(price, size float64, side domain.Side, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := t.sideMap(side)
	w, ok := levels[price]
	if !ok {
		w = &domain.Wall{
			Side:        side,
			Price:       price,
			FirstSeen:   now,
			LastSeen:    now,
			MaxSize:     size,
			CurrentSize: size,
		}
		levels[price] = w
		t.appendEvent(w, domain.WallEvent{
			Timestamp: now,
			Type:      domain.WallAdded,
			Price:     price,
			Size:      size,
			Side:      side,
		})
		return
	}

	switch {
	case size < w.CurrentSize:
		w.AbsorbedVolume += w.CurrentSize - size
		t.appendEvent(w, domain.WallEvent{
			Timestamp: now,
			Type:      domain.WallAbsorbed,
			Price:     price,
			Size:      size,
			Side:      side,
		})
	case size > w.CurrentSize:
		w.RefillCount++
		if !w.IsIceberg && w.RefillCount >= t.opts.MinRefillsForIceberg {
			w.IsIceberg = true
			t.logger.Info("iceberg wall detected",
				slog.Float64("price", price),
				slog.String("side", string(side)),
				slog.Int("refills", w.RefillCount),
			)
		}
		t.appendEvent(w, domain.WallEvent{
			Timestamp: now,
			Type:      domain.WallRefilled,
			Price:     price,
			Size:      size,
			Side:      side,
		})
	}

	w.CurrentSize = size
	if size > w.MaxSize {
		w.MaxSize = size
	}
	w.LastSeen = now
}

// ObserveRemoval records the disappearance of a price level and retires its
// wall. A wall removed before the spoofing threshold is flagged spoofing.
func (t *Tracker) ObserveRemoval(price float64, side domain.Side, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := t.sideMap(side)
	w, ok := levels[price]
	if !ok {
		return
	}

	reason := domain.RemoveReasonFilledOrCancelled
	if w.Lifetime(now) < t.opts.SpoofingThreshold {
		w.IsSpoofing = true
		reason = domain.RemoveReasonSpoofing
		t.logger.Info("spoofing wall removed",
			slog.Float64("price", price),
			slog.String("side", string(side)),
			slog.Duration("lifetime", w.Lifetime(now)),
		)
	}
	t.appendEvent(w, domain.WallEvent{
		Timestamp: now,
		Type:      domain.WallRemoved,
		Price:     price,
		Size:      w.CurrentSize,
		Side:      side,
		Reason:    reason,
	})
	delete(levels, price)
}

// IsWallReal reports whether the wall at price has aged past the minimum
// lifetime without being flagged as spoofing.
func (t *Tracker) IsWallReal(price float64, side domain.Side, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.sideMap(side)[price]
	if !ok {
		return false
	}
	return w.Lifetime(now) >= t.opts.MinLifetime && !w.IsSpoofing
}

// WallStrength scores the wall at price in [0,1]. Absent or spoofing walls
// score 0. Lifetime contributes up to 0.4, size retention up to 0.3 and
// iceberg behavior a flat 0.3.
func (t *Tracker) WallStrength(price float64, side domain.Side, now time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.sideMap(side)[price]
	if !ok || w.IsSpoofing {
		return 0
	}

	lifetimeRatio := float64(w.Lifetime(now)) / float64(t.opts.MinLifetime)
	if lifetimeRatio > 1 {
		lifetimeRatio = 1
	}
	sizeRatio := 0.0
	if w.MaxSize > 0 {
		sizeRatio = w.CurrentSize / w.MaxSize
	}
	strength := lifetimeRatio*0.4 + sizeRatio*0.3
	if w.IsIceberg {
		strength += 0.3
	}
	if strength > 1 {
		strength = 1
	}
	return strength
}

// IsSpoofing reports the sticky spoofing flag of the active wall at price.
func (t *Tracker) IsSpoofing(price float64, side domain.Side) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.sideMap(side)[price]
	return ok && w.IsSpoofing
}

// IsIceberg reports the sticky iceberg flag of the active wall at price.
func (t *Tracker) IsIceberg(price float64, side domain.Side) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.sideMap(side)[price]
	return ok && w.IsIceberg
}

// ActiveWalls returns copies of all currently tracked walls, both sides.
func (t *Tracker) ActiveWalls() []domain.Wall {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Wall, 0, len(t.bids)+len(t.asks))
	for _, w := range t.bids {
		out = append(out, *w)
	}
	for _, w := range t.asks {
		out = append(out, *w)
	}
	return out
}

// History returns the retained global event history, oldest first.
func (t *Tracker) History() []domain.WallEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.history.Events()
}

func (t *Tracker) sideMap(side domain.Side) map[float64]*domain.Wall {
	if side == domain.SideBid {
		return t.bids
	}
	return t.asks
}

// appendEvent records ev on the wall and in the global history. Caller holds
// the write lock.
func (t *Tracker) appendEvent(w *domain.Wall, ev domain.WallEvent) {
	w.Events = append(w.Events, ev)
	t.history.Append(ev)
}
