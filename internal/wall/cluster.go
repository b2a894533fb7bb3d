package wall

import (
	"sort"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// Reference points for cluster strength scoring. A cluster averaging this
// size or lifetime earns the full 50 points for that component.
const (
	referenceClusterSize     = 1000.0
	referenceClusterLifetime = 5 * time.Minute
)

// DetectClusters groups currently-active walls into price clusters, one side
// at a time. Walls are sorted by price and greedily merged while each wall
// sits within ClusterProximityPercent of the previous wall's price; groups
// smaller than ClusterMinWalls are discarded.
func (t *Tracker) DetectClusters(now time.Time) []domain.WallCluster {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var clusters []domain.WallCluster
	clusters = append(clusters, t.clusterSide(domain.SideBid, now)...)
	clusters = append(clusters, t.clusterSide(domain.SideAsk, now)...)
	return clusters
}

// ClusterAt returns the cluster whose price range contains price, or nil.
func (t *Tracker) ClusterAt(price float64, side domain.Side, now time.Time) *domain.WallCluster {
	t.mu.RLock()
	clusters := t.clusterSide(side, now)
	t.mu.RUnlock()

	for i := range clusters {
		if clusters[i].Contains(price) {
			return &clusters[i]
		}
	}
	return nil
}

// clusterSide builds clusters for one side. Caller holds at least a read
// lock.
func (t *Tracker) clusterSide(side domain.Side, now time.Time) []domain.WallCluster {
	levels := t.sideMap(side)
	if len(levels) < t.opts.ClusterMinWalls {
		return nil
	}

	walls := make([]*domain.Wall, 0, len(levels))
	for _, w := range levels {
		walls = append(walls, w)
	}
	sort.Slice(walls, func(i, j int) bool { return walls[i].Price < walls[j].Price })

	var clusters []domain.WallCluster
	group := []*domain.Wall{walls[0]}
	for _, w := range walls[1:] {
		prev := group[len(group)-1]
		maxGap := prev.Price * t.opts.ClusterProximityPercent / 100.0
		if w.Price-prev.Price <= maxGap {
			group = append(group, w)
			continue
		}
		if c := t.buildCluster(side, group, now); c != nil {
			clusters = append(clusters, *c)
		}
		group = []*domain.Wall{w}
	}
	if c := t.buildCluster(side, group, now); c != nil {
		clusters = append(clusters, *c)
	}
	return clusters
}

func (t *Tracker) buildCluster(side domain.Side, group []*domain.Wall, now time.Time) *domain.WallCluster {
	if len(group) < t.opts.ClusterMinWalls {
		return nil
	}

	var totalSize float64
	var totalLifetime time.Duration
	for _, w := range group {
		totalSize += w.CurrentSize
		totalLifetime += w.Lifetime(now)
	}
	avgLifetime := totalLifetime / time.Duration(len(group))
	avgSize := totalSize / float64(len(group))

	return &domain.WallCluster{
		Side:        side,
		PriceLow:    group[0].Price,
		PriceHigh:   group[len(group)-1].Price,
		WallCount:   len(group),
		TotalSize:   totalSize,
		AvgLifetime: avgLifetime,
		Strength:    clusterStrength(avgSize, avgLifetime),
	}
}

// clusterStrength scores a cluster 0-100: up to 50 points for average size
// against the reference size and up to 50 for average lifetime against the
// reference lifetime, each capped.
func clusterStrength(avgSize float64, avgLifetime time.Duration) float64 {
	sizeScore := avgSize / referenceClusterSize * 50
	if sizeScore > 50 {
		sizeScore = 50
	}
	lifetimeScore := float64(avgLifetime) / float64(referenceClusterLifetime) * 50
	if lifetimeScore > 50 {
		lifetimeScore = 50
	}
	return sizeScore + lifetimeScore
}
