package domain

import "time"

// WallEventType enumerates the lifecycle transitions of a resting order wall.
type WallEventType string

const (
	WallAdded    WallEventType = "ADDED"
	WallRefilled WallEventType = "REFILLED"
	WallAbsorbed WallEventType = "ABSORBED"
	WallRemoved  WallEventType = "REMOVED"
)

// Removal reasons attached to REMOVED events.
const (
	RemoveReasonSpoofing          = "spoofing"
	RemoveReasonFilledOrCancelled = "filled_or_cancelled"
)

// WallEvent is a single observation in a wall's life. Events are append-only
// per wall and retained globally in a bounded history, oldest dropped first.
type WallEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      WallEventType `json:"type"`
	Price     float64       `json:"price"`
	Size      float64       `json:"size"`
	Side      Side          `json:"side"`
	Reason    string        `json:"reason,omitempty"`
}

// Wall is the lifetime record of one resting order at a price level, keyed by
// (side, price). IsSpoofing and IsIceberg are sticky: once set they are never
// re-evaluated downward.
type Wall struct {
	Side           Side        `json:"side"`
	Price          float64     `json:"price"`
	FirstSeen      time.Time   `json:"first_seen"`
	LastSeen       time.Time   `json:"last_seen"`
	MaxSize        float64     `json:"max_size"`
	CurrentSize    float64     `json:"current_size"`
	AbsorbedVolume float64     `json:"absorbed_volume"`
	RefillCount    int         `json:"refill_count"`
	IsSpoofing     bool        `json:"is_spoofing"`
	IsIceberg      bool        `json:"is_iceberg"`
	Events         []WallEvent `json:"events"`
}

// Lifetime returns how long the wall has been resting as of now.
func (w *Wall) Lifetime(now time.Time) time.Duration {
	return now.Sub(w.FirstSeen)
}

// WallCluster is a transient grouping of active walls on one side whose
// prices sit within a proximity threshold of their neighbor. Clusters are
// recomputed on demand and never persisted.
type WallCluster struct {
	Side        Side          `json:"side"`
	PriceLow    float64       `json:"price_low"`
	PriceHigh   float64       `json:"price_high"`
	WallCount   int           `json:"wall_count"`
	TotalSize   float64       `json:"total_size"`
	AvgLifetime time.Duration `json:"avg_lifetime"`
	Strength    float64       `json:"strength"` // 0-100
}

// Contains reports whether price falls inside the cluster's price range.
func (c *WallCluster) Contains(price float64) bool {
	return price >= c.PriceLow && price <= c.PriceHigh
}
