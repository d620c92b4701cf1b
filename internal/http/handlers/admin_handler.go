// README: Admin handlers for per-zone and global dispatch settings.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/modules/zoneconfig"
)

// GlobalZone addresses the global settings row in admin paths.
const GlobalZone = "global"

type SettingsService interface {
	Get(ctx context.Context, zoneID string) zoneconfig.ZoneDispatchConfig
	Update(ctx context.Context, cfg zoneconfig.ZoneDispatchConfig) (zoneconfig.Invalidation, error)
}

type AdminHandler struct {
	settings SettingsService
}

func NewAdminHandler(svc SettingsService) *AdminHandler {
	return &AdminHandler{settings: svc}
}

func zoneParam(c *gin.Context) string {
	zone := c.Param("zone")
	if zone == GlobalZone {
		return ""
	}
	return zone
}

// GetSettings returns the effective settings after the fallback chain.
func (h *AdminHandler) GetSettings(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.settings.Get(c.Request.Context(), zoneParam(c)))
}

// PutSettings applies the body over the current effective settings; omitted fields keep their value.
func (h *AdminHandler) PutSettings(c *gin.Context) {
	zone := zoneParam(c)
	cfg := h.settings.Get(c.Request.Context(), zone)
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	cfg.ZoneID = zone
	inv, err := h.settings.Update(c.Request.Context(), cfg)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"settings": cfg, "invalidation": inv})
}
