// README: Supply/demand aggregator value types (driver status, counts, window snapshots).
package aggregator

import (
	"errors"
	"time"

	"honeycomb/internal/types"
)

var (
	ErrDriverNotFound    = errors.New("driver not found")
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrRequestNotFound   = errors.New("ride request not tracked")
	ErrUnknownZone       = errors.New("unknown zone")
	ErrInvalidTier       = errors.New("invalid vehicle tier")
)

type DriverStatus int32

const (
	StatusOffline DriverStatus = iota
	StatusAvailable
	// StatusPending means an offer is out to the driver; the driver no longer counts as supply.
	StatusPending
	StatusAssigned
)

func (s DriverStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusAvailable:
		return "available"
	case StatusPending:
		return "pending"
	case StatusAssigned:
		return "assigned"
	}
	return "unknown"
}

// DriverUpdate is an accepted location sample ready to be applied.
type DriverUpdate struct {
	DriverID types.ID
	Point    types.Point
	Tier     types.Tier
	// Rating is applied when positive.
	Rating float64
	At     time.Time
}

// Move reports how an accepted location changed the driver's cell.
type Move struct {
	FromZone string
	FromCell string
	ZoneID   string
	ToCell   string
	// Dwell is the time spent in FromCell; zero unless the cell changed.
	Dwell time.Duration
}

func (m Move) Changed() bool { return m.FromZone != m.ZoneID || m.FromCell != m.ToCell }

// DriverView is a read-only copy of a driver's index entry.
type DriverView struct {
	ID                  types.ID     `json:"driver_id"`
	ZoneID              string       `json:"zone_id"`
	CellID              string       `json:"cell_id"`
	Point               types.Point  `json:"point"`
	Tier                types.Tier   `json:"tier"`
	Rating              float64      `json:"rating"`
	Status              DriverStatus `json:"-"`
	StatusName          string       `json:"status"`
	LastSeen            time.Time    `json:"last_seen"`
	AvailableSince      time.Time    `json:"available_since"`
	LastTripCompletedAt time.Time    `json:"last_trip_completed_at"`
}

// CellCounts is a point-in-time read of a cell's counters, indexed by types.Tier.Index().
type CellCounts struct {
	CellID string
	Supply [types.NumTiers]int64
	Demand [types.NumTiers]int64
}

func (c CellCounts) SupplyTotal() int64 { return sum(c.Supply) }
func (c CellCounts) DemandTotal() int64 { return sum(c.Demand) }

// IsZero reports whether the cell has neither supply nor demand.
func (c CellCounts) IsZero() bool { return c.SupplyTotal() == 0 && c.DemandTotal() == 0 }

func (c *CellCounts) add(o CellCounts) {
	for i := range c.Supply {
		c.Supply[i] += o.Supply[i]
		c.Demand[i] += o.Demand[i]
	}
}

// CellPricing is what the zone tick decided for a cell during a window.
type CellPricing struct {
	Imbalance  float64
	Multiplier float64
	Incentive  float64
}

// CellSnapshot is one cell of a closed window.
type CellSnapshot struct {
	CellCounts
	Center  types.Point
	Pricing CellPricing
	// Priced is false when no tick recorded pricing for the cell in this window.
	Priced bool
}

// ClosedWindow is the immutable snapshot handed to the metrics sink at rollover.
type ClosedWindow struct {
	ZoneID     string
	Seq        int64
	Start      time.Time
	End        time.Time
	Resolution int
	Cells      []CellSnapshot
}

func sum(v [types.NumTiers]int64) int64 {
	var n int64
	for _, x := range v {
		n += x
	}
	return n
}
