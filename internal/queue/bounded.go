// Package queue provides fixed-capacity FIFO buffers that decouple the
// ingestion path from the persistence writer. Producers never block: when a
// queue is full the newest item is dropped and counted, because stalling the
// feed read loop would desync the order-book replica.
package queue

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// dropLogEvery rate-limits the overflow warning to one log per this many
	// dropped items.
	dropLogEvery = 100

	// growthLogInterval rate-limits the watermark warning.
	growthLogInterval = 30 * time.Second
)

// Queue is a bounded FIFO buffer with drop-on-full semantics and an atomic
// drain. One instance exists per data kind (candles, book samples, ticks).
type Queue[T any] struct {
	name     string
	capacity int
	warnAt   int
	logger   *slog.Logger

	mu       sync.Mutex
	items    []T
	dropped  uint64
	lastWarn time.Time
}

// New creates a queue holding at most capacity items. When the length crosses
// warnAt a growth warning is logged (rate-limited); warnAt <= 0 disables it.
func New[T any](name string, capacity, warnAt int, logger *slog.Logger) *Queue[T] {
	return &Queue[T]{
		name:     name,
		capacity: capacity,
		warnAt:   warnAt,
		logger:   logger.With(slog.String("queue", name)),
		items:    make([]T, 0, capacity),
	}
}

// Enqueue appends item to the queue. If the queue is full the item is
// discarded and the dropped counter incremented; the caller is never blocked.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.dropped++
		if q.dropped%dropLogEvery == 1 {
			q.logger.Warn("queue full, dropping items",
				slog.Int("capacity", q.capacity),
				slog.Uint64("dropped_total", q.dropped),
			)
		}
		return
	}

	q.items = append(q.items, item)

	if q.warnAt > 0 && len(q.items) >= q.warnAt {
		now := time.Now()
		if now.Sub(q.lastWarn) >= growthLogInterval {
			q.lastWarn = now
			q.logger.Warn("queue growing, writer may be falling behind",
				slog.Int("length", len(q.items)),
				slog.Int("capacity", q.capacity),
			)
		}
	}
}

// DrainAll atomically swaps the internal buffer for a fresh one and returns
// the previous contents in insertion order. A concurrent Enqueue lands either
// in the returned batch or in the next one, never in both and never nowhere.
func (q *Queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = make([]T, 0, q.capacity)
	return drained
}

// Len returns the current number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of items discarded due to overflow.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all buffered items without draining them.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]T, 0, q.capacity)
}

// Name returns the queue's identifier.
func (q *Queue[T]) Name() string {
	return q.name
}
