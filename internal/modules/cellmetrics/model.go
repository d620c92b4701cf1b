// README: Closed-window metric rows, heatmap and analytics shapes, and the sink contracts.
package cellmetrics

import (
	"context"
	"errors"
	"time"

	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/pricing"
	"honeycomb/internal/types"
)

var ErrInvalidRange = errors.New("invalid time range")

// HotspotImbalance is the imbalance above which a cell counts as a hotspot.
const HotspotImbalance = 1.5

// TierCounts splits a total by vehicle tier.
type TierCounts struct {
	Budget int64 `json:"budget"`
	Pro    int64 `json:"pro"`
	VIP    int64 `json:"vip"`
}

func tierCounts(v [types.NumTiers]int64) TierCounts {
	return TierCounts{Budget: v[types.TierBudget.Index()], Pro: v[types.TierPro.Index()], VIP: v[types.TierVIP.Index()]}
}

// CellWindowMetric is one row of honeycomb_cell_metrics. Exactly one row exists per
// (zone, cell, window start).
type CellWindowMetric struct {
	ZoneID          string     `json:"zone_id"`
	CellID          string     `json:"cell_id"`
	WindowStart     time.Time  `json:"window_start"`
	WindowMinutes   int        `json:"window_minutes"`
	SupplyTotal     int64      `json:"supply_total"`
	SupplyByTier    TierCounts `json:"supply_by_tier"`
	DemandTotal     int64      `json:"demand_total"`
	DemandByTier    TierCounts `json:"demand_by_tier"`
	ImbalanceScore  float64    `json:"imbalance_score"`
	SurgeMultiplier float64    `json:"surge_multiplier"`
	IncentiveAmount float64    `json:"incentive_amount"`
	CenterLat       float64    `json:"center_lat"`
	CenterLng       float64    `json:"center_lng"`
}

// FromClosedWindow turns a closed window into sink rows. Cells the tick never priced
// get their imbalance from the closing counts and a neutral multiplier.
func FromClosedWindow(cw *aggregator.ClosedWindow, windowMinutes int) []CellWindowMetric {
	out := make([]CellWindowMetric, 0, len(cw.Cells))
	for _, c := range cw.Cells {
		m := CellWindowMetric{
			ZoneID:          cw.ZoneID,
			CellID:          c.CellID,
			WindowStart:     cw.Start.UTC(),
			WindowMinutes:   windowMinutes,
			SupplyTotal:     c.SupplyTotal(),
			SupplyByTier:    tierCounts(c.Supply),
			DemandTotal:     c.DemandTotal(),
			DemandByTier:    tierCounts(c.Demand),
			ImbalanceScore:  pricing.Imbalance(c.SupplyTotal(), c.DemandTotal()),
			SurgeMultiplier: 1,
			CenterLat:       c.Center.Lat,
			CenterLng:       c.Center.Lng,
		}
		if c.Priced {
			m.ImbalanceScore = c.Pricing.Imbalance
			m.SurgeMultiplier = c.Pricing.Multiplier
			m.IncentiveAmount = c.Pricing.Incentive
		}
		out = append(out, m)
	}
	return out
}

// Sink receives closed windows and surge epochs. Writes must be idempotent.
type Sink interface {
	WriteWindow(ctx context.Context, rows []CellWindowMetric) error
	WriteEpochs(ctx context.Context, epochs []pricing.SurgeEpoch) error
}

// Reader serves the heatmap and analytics queries.
type Reader interface {
	WindowsSince(ctx context.Context, zoneID string, since time.Time) ([]CellWindowMetric, error)
	DailyStats(ctx context.Context, zoneID string, from, to time.Time) ([]DailyStat, error)
	TopHotspots(ctx context.Context, zoneID string, from, to time.Time, limit int) ([]Hotspot, error)
	Epochs(ctx context.Context, zoneID string, since time.Time) ([]pricing.SurgeEpoch, error)
}

type HeatmapTotals struct {
	Supply   int64 `json:"supply"`
	Demand   int64 `json:"demand"`
	Cells    int   `json:"cells"`
	Hotspots int   `json:"hotspots"`
}

type Heatmap struct {
	ZoneID string             `json:"zone_id"`
	Since  time.Time          `json:"since"`
	Cells  []CellWindowMetric `json:"cells"`
	Totals HeatmapTotals      `json:"totals"`
}

// DailyStat aggregates one UTC day of window rows.
type DailyStat struct {
	Day          time.Time `json:"day"`
	AvgSupply    float64   `json:"avg_supply"`
	AvgDemand    float64   `json:"avg_demand"`
	AvgImbalance float64   `json:"avg_imbalance"`
	MaxImbalance float64   `json:"max_imbalance"`
	ActiveCells  int       `json:"active_cells"`
}

type Hotspot struct {
	CellID       string  `json:"cell_id"`
	AvgImbalance float64 `json:"avg_imbalance"`
	MaxImbalance float64 `json:"max_imbalance"`
	Windows      int     `json:"windows"`
	CenterLat    float64 `json:"center_lat"`
	CenterLng    float64 `json:"center_lng"`
}

type Analytics struct {
	ZoneID   string      `json:"zone_id"`
	From     time.Time   `json:"from"`
	To       time.Time   `json:"to"`
	Days     []DailyStat `json:"days"`
	Hotspots []Hotspot   `json:"top_hotspots"`
}
