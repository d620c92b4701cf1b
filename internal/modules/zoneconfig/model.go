// README: Per-zone dispatch tunables, validated once at load time.
package zoneconfig

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid zone dispatch config")
	ErrNotFound      = errors.New("zone dispatch config not found")
)

// ZoneDispatchConfig holds every tunable the engine reads for a zone.
// An empty ZoneID is the global default row.
type ZoneDispatchConfig struct {
	ZoneID            string `json:"zone_id"`
	Enabled           bool   `json:"enabled"`
	DispatchEnabled   bool   `json:"dispatch_enabled"`
	HeatmapEnabled    bool   `json:"heatmap_enabled"`
	SurgeEnabled      bool   `json:"surge_enabled"`
	IncentivesEnabled bool   `json:"incentives_enabled"`

	H3Resolution          int `json:"h3_resolution"`
	SearchDepthK          int `json:"search_depth_k"`
	UpdateIntervalSeconds int `json:"update_interval_seconds"`
	MinDriversToColorCell int `json:"min_drivers_to_color_cell"`

	SurgeThreshold float64 `json:"surge_threshold"`
	SurgeCap       float64 `json:"surge_cap"`
	SurgeStep      float64 `json:"surge_step"`

	IncentiveThreshold           float64 `json:"incentive_threshold"`
	MaxIncentiveAmount           float64 `json:"max_incentive_amount"`
	IncentiveSaturationImbalance float64 `json:"incentive_saturation_imbalance"`

	SearchRadiusExpansionMultiplier float64 `json:"search_radius_expansion_multiplier"`
	MaxSearchRadiusKm               float64 `json:"max_search_radius_km"`
	MinDriverRating                 float64 `json:"min_driver_rating"`
	MatchTimeoutSeconds             int     `json:"match_timeout_seconds"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Defaults is the compiled-in global configuration used when nothing else loads.
func Defaults() ZoneDispatchConfig {
	return ZoneDispatchConfig{
		Enabled:                         true,
		DispatchEnabled:                 true,
		HeatmapEnabled:                  true,
		SurgeEnabled:                    true,
		IncentivesEnabled:               true,
		H3Resolution:                    8,
		SearchDepthK:                    1,
		UpdateIntervalSeconds:           300,
		MinDriversToColorCell:           1,
		SurgeThreshold:                  1.5,
		SurgeCap:                        3.0,
		SurgeStep:                       0.25,
		IncentiveThreshold:              2.0,
		MaxIncentiveAmount:              50,
		SearchRadiusExpansionMultiplier: 1.5,
		MaxSearchRadiusKm:               25,
		MinDriverRating:                 4.0,
		MatchTimeoutSeconds:             15,
	}
}

// Validate checks ranges. It never mutates the receiver.
func (c ZoneDispatchConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.H3Resolution >= 7 && c.H3Resolution <= 9, "h3_resolution must be 7, 8 or 9, got %d", c.H3Resolution)
	check(c.SearchDepthK >= 1 && c.SearchDepthK <= 3, "search_depth_k must be within [1,3], got %d", c.SearchDepthK)
	check(c.UpdateIntervalSeconds >= 60 && c.UpdateIntervalSeconds <= 3600 && c.UpdateIntervalSeconds%60 == 0,
		"update_interval_seconds must be a whole number of minutes within [60,3600], got %d", c.UpdateIntervalSeconds)
	check(c.MinDriversToColorCell >= 0, "min_drivers_to_color_cell must not be negative")
	check(c.SurgeThreshold > 0, "surge_threshold must be positive")
	check(c.SurgeCap >= 1, "surge_cap must be at least 1.0, got %v", c.SurgeCap)
	check(c.SurgeStep > 0, "surge_step must be positive")
	check(c.IncentiveThreshold > 0, "incentive_threshold must be positive")
	check(c.MaxIncentiveAmount >= 0, "max_incentive_amount must not be negative")
	check(c.IncentiveSaturationImbalance == 0 || c.IncentiveSaturationImbalance > c.IncentiveThreshold,
		"incentive_saturation_imbalance must exceed incentive_threshold")
	check(c.SearchRadiusExpansionMultiplier > 1, "search_radius_expansion_multiplier must be greater than 1")
	check(c.MaxSearchRadiusKm > 0, "max_search_radius_km must be positive")
	check(c.MinDriverRating >= 0 && c.MinDriverRating <= 5, "min_driver_rating must be within [0,5]")
	check(c.MatchTimeoutSeconds >= 1 && c.MatchTimeoutSeconds <= 300, "match_timeout_seconds must be within [1,300]")
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// IsGlobal reports whether this is the fallback row.
func (c ZoneDispatchConfig) IsGlobal() bool { return c.ZoneID == "" }

func (c ZoneDispatchConfig) Interval() time.Duration {
	return time.Duration(c.UpdateIntervalSeconds) * time.Second
}

func (c ZoneDispatchConfig) WindowMinutes() int { return c.UpdateIntervalSeconds / 60 }

func (c ZoneDispatchConfig) MatchTimeout() time.Duration {
	return time.Duration(c.MatchTimeoutSeconds) * time.Second
}

// SaturationImbalance is the imbalance at which the incentive reaches its maximum.
func (c ZoneDispatchConfig) SaturationImbalance() float64 {
	if c.IncentiveSaturationImbalance > c.IncentiveThreshold {
		return c.IncentiveSaturationImbalance
	}
	return c.IncentiveThreshold + 2
}

// ForZone returns a copy of c bound to zoneID.
func (c ZoneDispatchConfig) ForZone(zoneID string) ZoneDispatchConfig {
	c.ZoneID = zoneID
	return c
}

// Invalidation describes what a settings write invalidated and who was told.
type Invalidation struct {
	ZoneID    string    `json:"zone_id"`
	CacheKeys []string  `json:"cache_keys"`
	Channel   string    `json:"channel"`
	Notified  bool      `json:"notified"`
	At        time.Time `json:"at"`
}
