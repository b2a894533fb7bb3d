package queue

import (
	"log/slog"
	"sync"
	"testing"
)

func newTestQueue(capacity, warnAt int) *Queue[int] {
	return New[int]("test", capacity, warnAt, slog.Default())
}

func TestEnqueueDrainOrder(t *testing.T) {
	q := newTestQueue(10, 0)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	if got := q.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	drained := q.DrainAll()
	if len(drained) != 5 {
		t.Fatalf("DrainAll() returned %d items, want 5", len(drained))
	}
	for i, v := range drained {
		if v != i {
			t.Errorf("drained[%d] = %d, want %d", i, v, i)
		}
	}
	if got := q.Len(); got != 0 {
		t.Errorf("Len() after drain = %d, want 0", got)
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(4, 0)
	if got := q.DrainAll(); got != nil {
		t.Fatalf("DrainAll() on empty queue = %v, want nil", got)
	}
}

func TestDropOnFull(t *testing.T) {
	q := newTestQueue(3, 0)
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if got := q.Dropped(); got != 7 {
		t.Fatalf("Dropped() = %d, want 7", got)
	}

	// Oldest items survive; the newest arrivals were the ones discarded.
	drained := q.DrainAll()
	want := []int{0, 1, 2}
	for i, v := range drained {
		if v != want[i] {
			t.Errorf("drained[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestDropCounterSurvivesDrain(t *testing.T) {
	q := newTestQueue(1, 0)
	q.Enqueue(1)
	q.Enqueue(2)
	q.DrainAll()
	q.Enqueue(3)
	if got := q.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestClear(t *testing.T) {
	q := newTestQueue(8, 0)
	for i := 0; i < 4; i++ {
		q.Enqueue(i)
	}
	q.Clear()
	if got := q.Len(); got != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", got)
	}
}

func TestConcurrentEnqueueDrain(t *testing.T) {
	q := newTestQueue(100000, 0)

	const producers = 4
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(i)
			}
		}()
	}

	producingDone := make(chan struct{})
	drainerDone := make(chan struct{})
	var drainedTotal int
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-producingDone:
				drainedTotal += len(q.DrainAll())
				return
			default:
				drainedTotal += len(q.DrainAll())
			}
		}
	}()

	wg.Wait()
	close(producingDone)
	<-drainerDone

	if drainedTotal != producers*perProducer {
		t.Fatalf("drained %d items, want %d", drainedTotal, producers*perProducer)
	}
}
