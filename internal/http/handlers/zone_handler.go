// README: Zone heatmap and analytics handlers over persisted cell windows.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/modules/cellmetrics"
	"honeycomb/internal/modules/zoneconfig"
)

type MetricsService interface {
	Heatmap(ctx context.Context, zoneID string, lookback time.Duration) (cellmetrics.Heatmap, error)
	Analytics(ctx context.Context, zoneID string, from, to time.Time) (cellmetrics.Analytics, error)
}

type ZoneConfigs interface {
	Get(ctx context.Context, zoneID string) zoneconfig.ZoneDispatchConfig
}

type ZoneHandler struct {
	metrics MetricsService
	zones   ZoneConfigs
}

func NewZoneHandler(metrics MetricsService, zones ZoneConfigs) *ZoneHandler {
	return &ZoneHandler{metrics: metrics, zones: zones}
}

func (h *ZoneHandler) Heatmap(c *gin.Context) {
	zone := c.Param("zone")
	cfg := h.zones.Get(c.Request.Context(), zone)
	if !cfg.Enabled || !cfg.HeatmapEnabled {
		writeError(c, http.StatusNotFound, "heatmap disabled for zone")
		return
	}
	var lookback time.Duration
	if raw := c.Query("lookback_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(c, http.StatusBadRequest, "lookback_minutes must be a positive integer")
			return
		}
		lookback = time.Duration(n) * time.Minute
	}
	hm, err := h.metrics.Heatmap(c.Request.Context(), zone, lookback)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, hm)
}

const dayLayout = "2006-01-02"

func (h *ZoneHandler) Analytics(c *gin.Context) {
	zone := c.Param("zone")
	from, err := time.Parse(dayLayout, c.Query("from"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(dayLayout, c.Query("to"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	a, err := h.metrics.Analytics(c.Request.Context(), zone, from, to)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}
