// README: k-ring preview for tuning resolution and search depth; reads no live state.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/types"
)

func Preview(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required numbers")
		return
	}
	res, k := 8, 1
	var err error
	if raw := c.Query("resolution"); raw != "" {
		if res, err = strconv.Atoi(raw); err != nil {
			writeError(c, http.StatusBadRequest, "resolution must be an integer")
			return
		}
	}
	if raw := c.Query("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			writeError(c, http.StatusBadRequest, "k must be an integer")
			return
		}
	}
	out, err := hexgrid.Preview(types.Point{Lat: lat, Lng: lng}, res, k)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}
