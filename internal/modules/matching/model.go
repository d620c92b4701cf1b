// README: Match requests, candidates, offers and outcomes.
package matching

import (
	"errors"
	"time"

	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/types"
)

var (
	ErrInvalidRequest = errors.New("invalid match request")
	// ErrNoPendingOffer is returned when a response does not match an open offer.
	ErrNoPendingOffer = errors.New("no pending offer for driver")
)

// Outcome is the terminal result of a match.
type Outcome string

const (
	OutcomeAssigned     Outcome = "ASSIGNED"
	OutcomeNoDrivers    Outcome = "NO_DRIVERS_AVAILABLE"
	OutcomeCancelled    Outcome = "CANCELLED"
	offerResultAccepted         = "accepted"
	offerResultDeclined         = "declined"
	offerResultTimeout          = "timeout"
)

// Request is one ride request to be matched.
type Request struct {
	ID     types.ID
	ZoneID string
	Pickup types.Point
	Tier   types.Tier
}

// Candidate is an eligible driver with its ranking inputs.
type Candidate struct {
	Driver     aggregator.DriverView
	DistanceKm float64
	Idle       time.Duration
	Score      float64
}

// Offer is sent to one driver at a time and expires after the zone's match timeout.
type Offer struct {
	RequestID  types.ID    `json:"request_id"`
	DriverID   types.ID    `json:"driver_id"`
	ZoneID     string      `json:"zone_id"`
	Pickup     types.Point `json:"pickup"`
	Tier       types.Tier  `json:"tier"`
	DistanceKm float64     `json:"distance_km"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Result describes how a match ended.
type Result struct {
	RequestID  types.ID `json:"request_id"`
	Outcome    Outcome  `json:"outcome"`
	DriverID   types.ID `json:"driver_id,omitempty"`
	DistanceKm float64  `json:"distance_km,omitempty"`
	CellID     string   `json:"cell_id"`
	// Attempts counts search rounds; the first round is the configured depth.
	Attempts int     `json:"attempts"`
	K        int     `json:"k"`
	RadiusKm float64 `json:"radius_km"`
	Offers   int     `json:"offers"`
}
