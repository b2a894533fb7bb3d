package wall

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
)

func newTestTracker(opts Options) *Tracker {
	return NewTracker(opts, slog.Default())
}

func TestWallAddedAndRemovedNormally(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{SpoofingThreshold: 5 * time.Second})

	tr.ObserveMutation(100, 500, domain.SideBid, now)
	walls := tr.ActiveWalls()
	if len(walls) != 1 {
		t.Fatalf("ActiveWalls() = %d walls, want 1", len(walls))
	}
	w := walls[0]
	if w.MaxSize != 500 || w.CurrentSize != 500 {
		t.Errorf("wall sizes = max %v cur %v, want 500/500", w.MaxSize, w.CurrentSize)
	}

	// Removed well after the spoofing threshold.
	tr.ObserveRemoval(100, domain.SideBid, now.Add(time.Minute))
	if len(tr.ActiveWalls()) != 0 {
		t.Fatal("wall still active after removal")
	}

	hist := tr.History()
	last := hist[len(hist)-1]
	if last.Type != domain.WallRemoved || last.Reason != domain.RemoveReasonFilledOrCancelled {
		t.Errorf("final event = %+v, want REMOVED/filled_or_cancelled", last)
	}
}

func TestSpoofingDetectedOnBothSides(t *testing.T) {
	now := time.Now()
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		tr := newTestTracker(Options{SpoofingThreshold: 5 * time.Second})
		tr.ObserveMutation(100, 1000, side, now)
		tr.ObserveRemoval(100, side, now.Add(2*time.Second))

		hist := tr.History()
		last := hist[len(hist)-1]
		if last.Reason != domain.RemoveReasonSpoofing {
			t.Errorf("side %s: removal reason = %q, want spoofing", side, last.Reason)
		}
	}
}

func TestSpoofingThresholdBoundary(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{SpoofingThreshold: 5 * time.Second})
	tr.ObserveMutation(100, 1000, domain.SideBid, now)
	// Exactly at the threshold is not spoofing.
	tr.ObserveRemoval(100, domain.SideBid, now.Add(5*time.Second))

	hist := tr.History()
	if got := hist[len(hist)-1].Reason; got != domain.RemoveReasonFilledOrCancelled {
		t.Errorf("removal at threshold = %q, want filled_or_cancelled", got)
	}
}

func TestIcebergRequiresThreeRefills(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{MinRefillsForIceberg: 3})

	// The 50000 -> 40000 -> 50000 refill cycle, repeated.
	tr.ObserveMutation(100, 50000, domain.SideAsk, now)
	sizes := []float64{40000, 50000, 40000, 50000, 40000}
	for i, s := range sizes {
		tr.ObserveMutation(100, s, domain.SideAsk, now.Add(time.Duration(i)*time.Second))
	}
	if tr.IsIceberg(100, domain.SideAsk) {
		t.Fatal("iceberg set after only 2 refills")
	}

	tr.ObserveMutation(100, 50000, domain.SideAsk, now.Add(10*time.Second))
	if !tr.IsIceberg(100, domain.SideAsk) {
		t.Fatal("iceberg not set after 3 refills")
	}

	// Sticky: further absorption does not clear the flag.
	tr.ObserveMutation(100, 10000, domain.SideAsk, now.Add(11*time.Second))
	if !tr.IsIceberg(100, domain.SideAsk) {
		t.Fatal("iceberg flag was re-evaluated downward")
	}
}

func TestAbsorbedVolumeAccumulates(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{})

	tr.ObserveMutation(100, 50000, domain.SideBid, now)
	tr.ObserveMutation(100, 40000, domain.SideBid, now.Add(time.Second))
	tr.ObserveMutation(100, 50000, domain.SideBid, now.Add(2*time.Second))
	tr.ObserveMutation(100, 35000, domain.SideBid, now.Add(3*time.Second))

	walls := tr.ActiveWalls()
	if len(walls) != 1 {
		t.Fatalf("ActiveWalls() = %d walls, want 1", len(walls))
	}
	w := walls[0]
	if w.AbsorbedVolume != 25000 {
		t.Errorf("AbsorbedVolume = %v, want 25000", w.AbsorbedVolume)
	}
	if w.RefillCount != 1 {
		t.Errorf("RefillCount = %d, want 1", w.RefillCount)
	}
	if w.MaxSize != 50000 {
		t.Errorf("MaxSize = %v, want 50000", w.MaxSize)
	}
}

func TestWallStrengthBounds(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{MinLifetime: 30 * time.Second, MinRefillsForIceberg: 3})

	if got := tr.WallStrength(100, domain.SideBid, now); got != 0 {
		t.Errorf("strength of absent wall = %v, want 0", got)
	}

	tr.ObserveMutation(100, 1000, domain.SideBid, now.Add(-time.Minute))
	// Full lifetime, full size, no iceberg: 0.4 + 0.3.
	got := tr.WallStrength(100, domain.SideBid, now)
	if got < 0.69 || got > 0.71 {
		t.Errorf("strength = %v, want 0.7", got)
	}

	// Trigger iceberg; strength caps at 1.
	for i, s := range []float64{500, 1000, 500, 1000, 500, 1000} {
		tr.ObserveMutation(100, s, domain.SideBid, now.Add(time.Duration(i)*time.Millisecond))
	}
	got = tr.WallStrength(100, domain.SideBid, now)
	if got > 1 {
		t.Errorf("strength = %v, exceeds 1", got)
	}
	if got < 0.99 {
		t.Errorf("strength = %v, want capped at 1", got)
	}
}

func TestIsWallReal(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{MinLifetime: 30 * time.Second})

	tr.ObserveMutation(100, 1000, domain.SideAsk, now)
	if tr.IsWallReal(100, domain.SideAsk, now.Add(10*time.Second)) {
		t.Error("young wall reported as real")
	}
	if !tr.IsWallReal(100, domain.SideAsk, now.Add(31*time.Second)) {
		t.Error("aged wall not reported as real")
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{HistoryCapacity: 3})

	for i := 0; i < 5; i++ {
		tr.ObserveMutation(float64(100+i), 1000, domain.SideBid, now)
	}
	hist := tr.History()
	if len(hist) != 3 {
		t.Fatalf("History() = %d events, want 3", len(hist))
	}
	if hist[0].Price != 102 || hist[2].Price != 104 {
		t.Errorf("history window = [%v..%v], want [102..104]", hist[0].Price, hist[2].Price)
	}
}

func TestHistorySurvivesWallRemoval(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{HistoryCapacity: 10})

	tr.ObserveMutation(100, 1000, domain.SideBid, now)
	tr.ObserveRemoval(100, domain.SideBid, now.Add(time.Minute))

	if got := len(tr.History()); got != 2 {
		t.Fatalf("History() = %d events after removal, want 2", got)
	}
}

func TestResetClearsWallsKeepsHistory(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{})
	tr.ObserveMutation(100, 1000, domain.SideBid, now)
	tr.OnReset(now)

	if len(tr.ActiveWalls()) != 0 {
		t.Error("active walls survived reset")
	}
	if len(tr.History()) == 0 {
		t.Error("history was cleared on reset")
	}
}

func TestDetectClusters(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(Options{
		ClusterProximityPercent: 0.5,
		ClusterMinWalls:         2,
	})

	seen := now.Add(-time.Minute)
	// Three bids within 0.5% of each other, one far away.
	tr.ObserveMutation(10000, 500, domain.SideBid, seen)
	tr.ObserveMutation(10020, 300, domain.SideBid, seen)
	tr.ObserveMutation(10040, 200, domain.SideBid, seen)
	tr.ObserveMutation(12000, 900, domain.SideBid, seen)
	// A lone ask never clusters.
	tr.ObserveMutation(10100, 400, domain.SideAsk, seen)

	clusters := tr.DetectClusters(now)
	if len(clusters) != 1 {
		t.Fatalf("DetectClusters() = %d clusters, want 1: %+v", len(clusters), clusters)
	}
	c := clusters[0]
	if c.Side != domain.SideBid || c.WallCount != 3 {
		t.Errorf("cluster = %+v, want 3 bids", c)
	}
	if c.PriceLow != 10000 || c.PriceHigh != 10040 {
		t.Errorf("cluster range = [%v, %v], want [10000, 10040]", c.PriceLow, c.PriceHigh)
	}
	if c.TotalSize != 1000 {
		t.Errorf("cluster TotalSize = %v, want 1000", c.TotalSize)
	}
	if c.Strength <= 0 || c.Strength > 100 {
		t.Errorf("cluster Strength = %v, want in (0, 100]", c.Strength)
	}

	got := tr.ClusterAt(10020, domain.SideBid, now)
	if got == nil || !got.Contains(10020) {
		t.Errorf("ClusterAt(10020) = %+v, want containing cluster", got)
	}
	if miss := tr.ClusterAt(12000, domain.SideBid, now); miss != nil {
		t.Errorf("ClusterAt(12000) = %+v, want nil for lone wall", miss)
	}
}

func TestClusterStrengthCaps(t *testing.T) {
	huge := clusterStrength(referenceClusterSize*100, referenceClusterLifetime*100)
	if huge != 100 {
		t.Errorf("clusterStrength for oversized cluster = %v, want 100", huge)
	}
	zero := clusterStrength(0, 0)
	if zero != 0 {
		t.Errorf("clusterStrength(0,0) = %v, want 0", zero)
	}
}
