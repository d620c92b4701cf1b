// README: Base handler utilities (JSON helpers, caller checks, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/http/middleware"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/cellmetrics"
	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/modules/location"
	"honeycomb/internal/modules/matching"
	"honeycomb/internal/modules/ride"
	"honeycomb/internal/modules/zoneconfig"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the uuid and uid shapes callers use.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// requireSelf allows the caller only when they hold role and :id is their own uid.
func requireSelf(c *gin.Context, role, id string) bool {
	if middleware.CallerRole(c) != role {
		writeError(c, http.StatusForbidden, "forbidden: "+role+" role required")
		return false
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return false
	}
	return true
}

var (
	badRequest = []error{
		hexgrid.ErrInvalidCoordinate, hexgrid.ErrInvalidResolution, hexgrid.ErrInvalidK, hexgrid.ErrInvalidCell,
		zoneconfig.ErrInvalidConfig, location.ErrInvalidSample, ride.ErrBadRequest,
		cellmetrics.ErrInvalidRange, aggregator.ErrInvalidTier, matching.ErrInvalidRequest,
	}
	notFound = []error{ride.ErrNotFound, aggregator.ErrDriverNotFound, zoneconfig.ErrNotFound}
	conflict = []error{
		ride.ErrInvalidState, ride.ErrConflict, aggregator.ErrInvalidStatus,
		aggregator.ErrDriverUnavailable, matching.ErrNoPendingOffer,
	}
	unprocessable = []error{location.ErrZoneDisabled, ride.ErrZoneDisabled}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// writeDomainError maps module sentinel errors to status codes; anything else is a 500.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case isAny(err, badRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case isAny(err, notFound):
		writeError(c, http.StatusNotFound, err.Error())
	case isAny(err, conflict):
		writeError(c, http.StatusConflict, err.Error())
	case isAny(err, unprocessable):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
