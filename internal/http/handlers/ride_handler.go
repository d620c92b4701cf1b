// README: Ride request handlers (create, read, cancel, offer responses).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/http/middleware"
	"honeycomb/internal/modules/ride"
	"honeycomb/internal/types"
)

type RideService interface {
	Create(ctx context.Context, cmd ride.CreateCommand) (*ride.Ride, error)
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	Events(ctx context.Context, id types.ID) ([]ride.Event, error)
	Cancel(ctx context.Context, cmd ride.CancelCommand) error
	RespondOffer(ctx context.Context, rideID, driverID types.ID, accept bool) error
}

type RideHandler struct {
	rides RideService
}

func NewRideHandler(svc RideService) *RideHandler {
	return &RideHandler{rides: svc}
}

type createRideRequest struct {
	ZoneID string   `json:"zone_id" binding:"required"`
	Lat    *float64 `json:"lat" binding:"required"`
	Lng    *float64 `json:"lng" binding:"required"`
	Tier   string   `json:"tier" binding:"required"`
}

func (h *RideHandler) Create(c *gin.Context) {
	if middleware.CallerRole(c) != middleware.RoleRider {
		writeError(c, http.StatusForbidden, "forbidden: rider role required")
		return
	}
	var req createRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		RiderID: types.ID(middleware.CallerUID(c)),
		ZoneID:  req.ZoneID,
		Pickup:  types.Point{Lat: *req.Lat, Lng: *req.Lng},
		Tier:    req.Tier,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

// load fetches :id and checks the caller may see it.
func (h *RideHandler) load(c *gin.Context) (*ride.Ride, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return nil, false
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return nil, false
	}
	uid := types.ID(middleware.CallerUID(c))
	switch middleware.CallerRole(c) {
	case middleware.RoleAdmin:
		return r, true
	case middleware.RoleRider:
		if r.RiderID == uid {
			return r, true
		}
	case middleware.RoleDriver:
		if r.DriverID != nil && *r.DriverID == uid {
			return r, true
		}
	}
	writeError(c, http.StatusForbidden, "forbidden")
	return nil, false
}

func (h *RideHandler) Get(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Events(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	events, err := h.rides.Events(c.Request.Context(), r.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, e := range events {
		out = append(out, gin.H{
			"from_status": e.FromStatus, "to_status": e.ToStatus,
			"actor_type": e.ActorType, "actor_id": e.ActorID, "created_at": e.CreatedAt,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "events": out})
}

type cancelRideRequest struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	role := middleware.CallerRole(c)
	if role != middleware.RoleRider && role != middleware.RoleAdmin {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	r, ok := h.load(c)
	if !ok {
		return
	}
	var req cancelRideRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	uid := types.ID(middleware.CallerUID(c))
	err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:    r.ID,
		ActorType: role,
		ActorID:   &uid,
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "status": ride.StatusCancelled})
}

type offerResponseRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

func (h *RideHandler) RespondOffer(c *gin.Context) {
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var req offerResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	driverID := types.ID(middleware.CallerUID(c))
	if err := h.rides.RespondOffer(c.Request.Context(), types.ID(id), driverID, *req.Accept); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"ride_id": id, "driver_id": driverID, "accepted": *req.Accept})
}
