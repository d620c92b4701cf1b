// README: Pricing outputs per cell (imbalance, surge state, incentive, surge epochs).
package pricing

import "time"

type SurgeState string

const (
	StateNormal   SurgeState = "NORMAL"
	StateSurging  SurgeState = "SURGING"
	baseMultiplier           = 1.0
)

// Input is a cell's counts at tick time.
type Input struct {
	CellID string
	Supply int64
	Demand int64
}

// SurgeEpoch is a contiguous interval during which a cell's multiplier exceeded 1.0.
// Imbalance, Supply and Demand record the snapshot that opened it; Multiplier is the peak.
type SurgeEpoch struct {
	ZoneID     string     `json:"zone_id"`
	CellID     string     `json:"cell_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Multiplier float64    `json:"surge_multiplier"`
	Imbalance  float64    `json:"imbalance_score"`
	Supply     int64      `json:"supply_count"`
	Demand     int64      `json:"demand_count"`
}

// Open reports whether the epoch is still running.
func (e SurgeEpoch) Open() bool { return e.EndedAt == nil }

// Incentive is advisory output for the payout collaborator.
type Incentive struct {
	Targeted bool    `json:"targeted"`
	Amount   float64 `json:"amount"`
}

// Decision is what one zone tick decided for one cell.
type Decision struct {
	CellID     string     `json:"cell_id"`
	Supply     int64      `json:"supply"`
	Demand     int64      `json:"demand"`
	Imbalance  float64    `json:"imbalance_score"`
	State      SurgeState `json:"state"`
	Multiplier float64    `json:"surge_multiplier"`
	Incentive  Incentive  `json:"incentive"`
	// Changed is true when the multiplier or incentive differs from the previous tick.
	Changed bool `json:"-"`
	// Opened and Closed carry epoch transitions made by this tick.
	Opened *SurgeEpoch `json:"-"`
	Closed *SurgeEpoch `json:"-"`
}
