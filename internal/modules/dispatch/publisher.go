// README: Pricing updates emitted after each zone tick.
package dispatch

import (
	"context"
	"time"

	"honeycomb/internal/modules/pricing"
)

// CellPrice is the published state of one cell whose multiplier or incentive changed.
type CellPrice struct {
	CellID          string             `json:"cell_id"`
	State           pricing.SurgeState `json:"state"`
	SurgeMultiplier float64            `json:"surge_multiplier"`
	ImbalanceScore  float64            `json:"imbalance_score"`
	Incentive       pricing.Incentive  `json:"incentive"`
	Supply          int64              `json:"supply"`
	Demand          int64              `json:"demand"`
}

// PricingUpdate is one zone tick's worth of changed cells.
type PricingUpdate struct {
	ZoneID     string      `json:"zone_id"`
	Resolution int         `json:"resolution"`
	At         time.Time   `json:"at"`
	Cells      []CellPrice `json:"cells"`
}

// Publisher delivers pricing updates to downstream fare and payout collaborators.
type Publisher interface {
	PublishPricing(ctx context.Context, u PricingUpdate) error
}

func changedCells(decisions []pricing.Decision) []CellPrice {
	var out []CellPrice
	for _, d := range decisions {
		if !d.Changed {
			continue
		}
		out = append(out, CellPrice{
			CellID:          d.CellID,
			State:           d.State,
			SurgeMultiplier: d.Multiplier,
			ImbalanceScore:  d.Imbalance,
			Incentive:       d.Incentive,
			Supply:          d.Supply,
			Demand:          d.Demand,
		})
	}
	return out
}
