// README: Imbalance scoring and the incentive curve.
package pricing

import (
	"math"

	"honeycomb/internal/modules/zoneconfig"
)

// Imbalance is demand / max(supply, 1). Negative counts read as zero.
func Imbalance(supply, demand int64) float64 {
	if demand <= 0 {
		return 0
	}
	if supply < 1 {
		supply = 1
	}
	return float64(demand) / float64(supply)
}

// ComputeIncentive scales linearly from 0 at incentive_threshold to
// max_incentive_amount at the saturation imbalance, rounded to cents.
func ComputeIncentive(cfg zoneconfig.ZoneDispatchConfig, imbalance float64) Incentive {
	if !cfg.Enabled || !cfg.IncentivesEnabled || cfg.MaxIncentiveAmount <= 0 || imbalance < cfg.IncentiveThreshold {
		return Incentive{}
	}
	span := cfg.SaturationImbalance() - cfg.IncentiveThreshold
	frac := (imbalance - cfg.IncentiveThreshold) / span
	if frac > 1 {
		frac = 1
	}
	amount := roundTo(cfg.MaxIncentiveAmount*frac, 2)
	if amount > cfg.MaxIncentiveAmount {
		amount = cfg.MaxIncentiveAmount
	}
	return Incentive{Targeted: amount > 0, Amount: amount}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
