// README: Ride request aggregate, status flow and events.
package ride

import (
	"time"

	"honeycomb/internal/types"
)

type Status string

const (
	StatusNone      Status = "NONE"
	StatusSearching Status = "SEARCHING"
	StatusAssigned  Status = "ASSIGNED"
	StatusNoDrivers Status = "NO_DRIVERS_AVAILABLE"
	StatusCancelled Status = "CANCELLED"
)

type Ride struct {
	ID            types.ID    `json:"id"`
	RiderID       types.ID    `json:"rider_id"`
	ZoneID        string      `json:"zone_id"`
	Pickup        types.Point `json:"pickup"`
	Tier          types.Tier  `json:"tier"`
	CellID        string      `json:"cell_id"`
	Status        Status      `json:"status"`
	StatusVersion int         `json:"status_version"`
	DriverID      *types.ID   `json:"driver_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
	CancelReason  *string     `json:"cancel_reason,omitempty"`
}

type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions is the ride status flow as code. Every terminal state is final.
var AllowedTransitions = map[Status][]Status{
	StatusSearching: {StatusAssigned, StatusNoDrivers, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
