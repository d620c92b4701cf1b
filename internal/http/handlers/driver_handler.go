// README: Driver handlers for location pings, availability and trip completion.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/http/middleware"
	"honeycomb/internal/modules/location"
	"honeycomb/internal/types"
)

type LocationService interface {
	Ingest(ctx context.Context, p location.Ping) (location.Result, error)
	SetAvailability(ctx context.Context, id types.ID, available bool) error
	CompleteTrip(ctx context.Context, id types.ID, earnings float64) error
}

type DriverHandler struct {
	location LocationService
}

func NewDriverHandler(svc LocationService) *DriverHandler {
	return &DriverHandler{location: svc}
}

type locationRequest struct {
	ZoneID    string    `json:"zone_id" binding:"required"`
	Lat       *float64  `json:"lat" binding:"required"`
	Lng       *float64  `json:"lng" binding:"required"`
	Timestamp time.Time `json:"timestamp" binding:"required"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Tier      string    `json:"tier" binding:"required"`
	Rating    float64   `json:"rating"`
}

func (h *DriverHandler) Location(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	if !requireSelf(c, middleware.RoleDriver, id) {
		return
	}
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.location.Ingest(c.Request.Context(), location.Ping{
		DriverID:  types.ID(id),
		ZoneID:    req.ZoneID,
		Point:     types.Point{Lat: *req.Lat, Lng: *req.Lng},
		Timestamp: req.Timestamp,
		SpeedKmh:  req.SpeedKmh,
		Tier:      req.Tier,
		Rating:    req.Rating,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == location.OutcomeRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(c, status, res)
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

func (h *DriverHandler) Availability(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	if !requireSelf(c, middleware.RoleDriver, id) {
		return
	}
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.location.SetAvailability(c.Request.Context(), types.ID(id), *req.Available); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "available": *req.Available})
}

type tripCompleteRequest struct {
	Earnings float64 `json:"earnings"`
}

func (h *DriverHandler) CompleteTrip(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	if !requireSelf(c, middleware.RoleDriver, id) {
		return
	}
	var req tripCompleteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.location.CompleteTrip(c.Request.Context(), types.ID(id), req.Earnings); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "status": "available"})
}
