// README: Location samples, anomaly flags and ingest verdicts.
package location

import (
	"errors"
	"time"

	"honeycomb/internal/types"
)

var (
	ErrInvalidSample = errors.New("invalid location sample")
	ErrZoneDisabled  = errors.New("zone dispatch disabled")
)

type AnomalyFlag string

const (
	FlagSpeed AnomalyFlag = "speed_anomaly"
	FlagJump  AnomalyFlag = "jump_anomaly"
	FlagIdle  AnomalyFlag = "idle_anomaly"
)

// Outcome says what happened to a sample.
type Outcome string

const (
	// OutcomeApplied: accepted and the driver's cell was updated.
	OutcomeApplied Outcome = "applied"
	// OutcomeFlagged: accepted and marked anomalous; dispatch state is unchanged.
	OutcomeFlagged Outcome = "flagged"
	// OutcomeRejected: dropped; dispatch state is unchanged.
	OutcomeRejected Outcome = "rejected"
)

const (
	ReasonFutureTimestamp = "future_timestamp"
	ReasonStale           = "stale_sample"
	ReasonAnomalous       = "anomalous"
	ReasonZoneDisabled    = "zone_disabled"
)

// Sample is one GPS ping from a driver.
type Sample struct {
	DriverID  types.ID      `json:"driver_id"`
	ZoneID    string        `json:"zone_id"`
	Point     types.Point   `json:"point"`
	Timestamp time.Time     `json:"timestamp"`
	SpeedKmh  float64       `json:"speed_kmh"`
	Tier      types.Tier    `json:"tier"`
	Rating    float64       `json:"rating,omitempty"`
	Flags     []AnomalyFlag `json:"anomaly_flags,omitempty"`
}

// Verdict is the ingestor's decision on a sample.
type Verdict struct {
	Outcome Outcome
	Reason  string
	Flags   []AnomalyFlag
	// ComputedSpeedKmh is the speed implied by the previous clean sample, if any.
	ComputedSpeedKmh float64
	// DistanceMeters is the distance from the previous clean sample, if any.
	DistanceMeters float64
	// ReviewRaised is set on the sample that pushed the driver over the anomaly limit.
	ReviewRaised bool
}

func (v Verdict) Has(f AnomalyFlag) bool {
	for _, x := range v.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Result is returned to the caller of Service.Ingest.
type Result struct {
	DriverID types.ID      `json:"driver_id"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Flags    []AnomalyFlag `json:"anomaly_flags,omitempty"`
	CellID   string        `json:"cell_id,omitempty"`
	Review   bool          `json:"review_raised,omitempty"`
}

// ReviewSignal asks an external reviewer to look at a driver with repeated anomalies.
type ReviewSignal struct {
	DriverID  types.ID      `json:"driver_id"`
	ZoneID    string        `json:"zone_id"`
	Anomalies int           `json:"anomalies"`
	Window    string        `json:"window"`
	LastFlags []AnomalyFlag `json:"last_flags"`
	RaisedAt  time.Time     `json:"raised_at"`
}
