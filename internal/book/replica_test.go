package book

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
)

type observedEvent struct {
	kind  string
	side  domain.Side
	price float64
	prev  float64
	size  float64
}

type recordingObserver struct {
	events []observedEvent
	resets int
}

func (o *recordingObserver) OnLevelSet(side domain.Side, price, prev, size float64, _ time.Time) {
	o.events = append(o.events, observedEvent{kind: "set", side: side, price: price, prev: prev, size: size})
}

func (o *recordingObserver) OnLevelRemoved(side domain.Side, price, last float64, _ time.Time) {
	o.events = append(o.events, observedEvent{kind: "removed", side: side, price: price, prev: last})
}

func (o *recordingObserver) OnReset(_ time.Time) {
	o.resets++
}

func newTestReplica(obs LevelObserver) *Replica {
	return NewReplica("BTCUSDT", 50, time.Minute, obs, slog.Default())
}

func snapshotUpdate(ts time.Time) domain.BookUpdate {
	return domain.BookUpdate{
		Kind:   domain.UpdateSnapshot,
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: 100, Size: 10},
			{Price: 99, Size: 5},
		},
		Asks: []domain.PriceLevel{
			{Price: 101, Size: 8},
		},
		UpdateID:  1,
		Timestamp: ts,
	}
}

func TestSnapshotThenDelta(t *testing.T) {
	now := time.Now()
	r := newTestReplica(nil)

	if applied := r.ApplyUpdate(snapshotUpdate(now)); !applied {
		t.Fatal("snapshot was not applied")
	}

	delta := domain.BookUpdate{
		Kind:   domain.UpdateDelta,
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: 100, Size: 12}, // resize
			{Price: 99, Size: 0},   // delete
			{Price: 98, Size: 3},   // new level
		},
		Asks: []domain.PriceLevel{
			{Price: 101, Size: 7},
		},
		UpdateID:  2,
		Timestamp: now.Add(time.Second),
	}
	if applied := r.ApplyUpdate(delta); !applied {
		t.Fatal("delta was not applied")
	}

	snap := r.Snapshot(now.Add(2 * time.Second))
	if snap == nil {
		t.Fatal("Snapshot() = nil, want book state")
	}
	wantBids := []domain.PriceLevel{{Price: 100, Size: 12}, {Price: 98, Size: 3}}
	wantAsks := []domain.PriceLevel{{Price: 101, Size: 7}}
	assertLevels(t, "bids", snap.Bids, wantBids)
	assertLevels(t, "asks", snap.Asks, wantAsks)
	if snap.UpdateID != 2 {
		t.Errorf("UpdateID = %d, want 2", snap.UpdateID)
	}
}

func TestDeltaBeforeSnapshotDiscarded(t *testing.T) {
	r := newTestReplica(nil)

	delta := domain.BookUpdate{
		Kind:      domain.UpdateDelta,
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 100, Size: 1}},
		UpdateID:  5,
		Timestamp: time.Now(),
	}
	if applied := r.ApplyUpdate(delta); applied {
		t.Fatal("delta before snapshot should be discarded")
	}
	if r.Ready() {
		t.Fatal("Ready() = true before any snapshot")
	}
	if snap := r.Snapshot(time.Now()); snap != nil {
		t.Fatalf("Snapshot() = %+v, want nil before snapshot", snap)
	}
}

func TestDeleteUnknownLevelIsNoop(t *testing.T) {
	now := time.Now()
	obs := &recordingObserver{}
	r := newTestReplica(obs)
	r.ApplyUpdate(snapshotUpdate(now))
	obs.events = nil

	delta := domain.BookUpdate{
		Kind:      domain.UpdateDelta,
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 42, Size: 0}},
		UpdateID:  2,
		Timestamp: now,
	}
	r.ApplyUpdate(delta)
	if len(obs.events) != 0 {
		t.Fatalf("observer got %d events for unknown-level delete, want 0", len(obs.events))
	}
}

func TestSnapshotSortedBestFirst(t *testing.T) {
	now := time.Now()
	r := newTestReplica(nil)
	r.ApplyUpdate(domain.BookUpdate{
		Kind:   domain.UpdateSnapshot,
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: 98, Size: 1},
			{Price: 100, Size: 1},
			{Price: 99, Size: 1},
		},
		Asks: []domain.PriceLevel{
			{Price: 103, Size: 1},
			{Price: 101, Size: 1},
			{Price: 102, Size: 1},
		},
		UpdateID:  1,
		Timestamp: now,
	})

	snap := r.Snapshot(now)
	if snap.Bids[0].Price != 100 || snap.Bids[2].Price != 98 {
		t.Errorf("bids not sorted descending: %+v", snap.Bids)
	}
	if snap.Asks[0].Price != 101 || snap.Asks[2].Price != 103 {
		t.Errorf("asks not sorted ascending: %+v", snap.Asks)
	}
	if bb := snap.BestBid(); bb != 100 {
		t.Errorf("BestBid() = %v, want 100", bb)
	}
	if ba := snap.BestAsk(); ba != 101 {
		t.Errorf("BestAsk() = %v, want 101", ba)
	}
}

func TestEvictionKeepsBestLevels(t *testing.T) {
	now := time.Now()
	r := NewReplica("BTCUSDT", 2, time.Minute, nil, slog.Default())
	r.ApplyUpdate(domain.BookUpdate{
		Kind:   domain.UpdateSnapshot,
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: 100, Size: 1},
			{Price: 99, Size: 1},
			{Price: 98, Size: 1},
		},
		Asks: []domain.PriceLevel{
			{Price: 101, Size: 1},
			{Price: 102, Size: 1},
			{Price: 103, Size: 1},
		},
		UpdateID:  1,
		Timestamp: now,
	})

	snap := r.Snapshot(now)
	if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
		t.Fatalf("levels after eviction: %d bids, %d asks, want 2/2", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[1].Price != 99 {
		t.Errorf("worst kept bid = %v, want 99", snap.Bids[1].Price)
	}
	if snap.Asks[1].Price != 102 {
		t.Errorf("worst kept ask = %v, want 102", snap.Asks[1].Price)
	}
}

func TestSnapshotStale(t *testing.T) {
	now := time.Now()
	r := NewReplica("BTCUSDT", 50, 60*time.Second, nil, slog.Default())
	r.ApplyUpdate(snapshotUpdate(now))

	if snap := r.Snapshot(now.Add(59 * time.Second)); snap == nil {
		t.Fatal("Snapshot() within staleness window = nil")
	}
	if snap := r.Snapshot(now.Add(61 * time.Second)); snap != nil {
		t.Fatalf("Snapshot() past staleness window = %+v, want nil", snap)
	}
}

func TestResetRequiresNewSnapshot(t *testing.T) {
	now := time.Now()
	obs := &recordingObserver{}
	r := newTestReplica(obs)
	r.ApplyUpdate(snapshotUpdate(now))
	r.Reset()

	if r.Ready() {
		t.Fatal("Ready() = true after Reset")
	}
	if obs.resets != 2 { // one for the snapshot, one for Reset
		t.Errorf("observer resets = %d, want 2", obs.resets)
	}
	delta := domain.BookUpdate{
		Kind:      domain.UpdateDelta,
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 100, Size: 1}},
		UpdateID:  3,
		Timestamp: now,
	}
	if applied := r.ApplyUpdate(delta); applied {
		t.Fatal("delta after Reset should be discarded")
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	now := time.Now()
	obs := &recordingObserver{}
	r := newTestReplica(obs)
	r.ApplyUpdate(snapshotUpdate(now))
	obs.events = nil

	r.ApplyUpdate(domain.BookUpdate{
		Kind:   domain.UpdateDelta,
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: 100, Size: 4},
			{Price: 99, Size: 0},
		},
		UpdateID:  2,
		Timestamp: now,
	})

	if len(obs.events) != 2 {
		t.Fatalf("observer got %d events, want 2: %+v", len(obs.events), obs.events)
	}
	set := obs.events[0]
	if set.kind != "set" || set.price != 100 || set.prev != 10 || set.size != 4 {
		t.Errorf("set event = %+v, want price 100 prev 10 size 4", set)
	}
	removed := obs.events[1]
	if removed.kind != "removed" || removed.price != 99 || removed.prev != 5 {
		t.Errorf("removed event = %+v, want price 99 last 5", removed)
	}
}

func TestReadyRequiresBothSides(t *testing.T) {
	now := time.Now()
	r := newTestReplica(nil)

	r.ApplyUpdate(domain.BookUpdate{
		Kind:      domain.UpdateSnapshot,
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 100, Size: 10}},
		UpdateID:  1,
		Timestamp: now,
	})
	if r.Ready() {
		t.Fatal("Ready() = true for a snapshot with no asks")
	}

	r.ApplyUpdate(domain.BookUpdate{
		Kind:      domain.UpdateDelta,
		Symbol:    "BTCUSDT",
		Asks:      []domain.PriceLevel{{Price: 101, Size: 4}},
		UpdateID:  2,
		Timestamp: now.Add(time.Second),
	})
	if !r.Ready() {
		t.Fatal("Ready() = false once both sides hold levels")
	}

	r.ApplyUpdate(domain.BookUpdate{
		Kind:      domain.UpdateDelta,
		Symbol:    "BTCUSDT",
		Asks:      []domain.PriceLevel{{Price: 101, Size: 0}},
		UpdateID:  3,
		Timestamp: now.Add(2 * time.Second),
	})
	if r.Ready() {
		t.Fatal("Ready() = true after the only ask was deleted")
	}
}

func TestDeleteOfEvictedLevelSkipsObserver(t *testing.T) {
	now := time.Now()
	obs := &recordingObserver{}
	r := NewReplica("BTCUSDT", 2, time.Minute, obs, slog.Default())

	r.ApplyUpdate(domain.BookUpdate{
		Kind:   domain.UpdateSnapshot,
		Symbol: "BTCUSDT",
		Bids: []domain.PriceLevel{
			{Price: 100, Size: 10},
			{Price: 99, Size: 5},
			{Price: 98, Size: 7}, // trimmed by maxLevels=2
		},
		Asks:      []domain.PriceLevel{{Price: 101, Size: 8}},
		UpdateID:  1,
		Timestamp: now,
	})
	obs.events = nil

	// The exchange still has the level, so it may send a delete for it. The
	// replica no longer holds it and must not report a phantom removal.
	r.ApplyUpdate(domain.BookUpdate{
		Kind:      domain.UpdateDelta,
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 98, Size: 0}},
		UpdateID:  2,
		Timestamp: now.Add(time.Second),
	})

	for _, ev := range obs.events {
		if ev.kind == "removed" && ev.price == 98 {
			t.Fatalf("observer saw removal of an evicted level: %+v", ev)
		}
	}
}

func assertLevels(t *testing.T, name string, got, want []domain.PriceLevel) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d levels, want %d: %+v", name, len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %+v, want %+v", name, i, got[i], want[i])
		}
	}
}
