// README: Shared value objects used across modules (IDs, coordinates, vehicle tiers).
package types

import (
	"fmt"
	"math"
	"strings"
)

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a finite WGS84 coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Tier is the vehicle class a driver serves and a rider requests.
type Tier string

const (
	TierBudget Tier = "budget"
	TierPro    Tier = "pro"
	TierVIP    Tier = "vip"
)

// Tiers lists every tier in counter order.
var Tiers = []Tier{TierBudget, TierPro, TierVIP}

// NumTiers is the size of per-tier counter arrays.
const NumTiers = 3

// Index returns the counter slot for t, or -1 for an unknown tier.
func (t Tier) Index() int {
	switch t {
	case TierBudget:
		return 0
	case TierPro:
		return 1
	case TierVIP:
		return 2
	default:
		return -1
	}
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Index() < 0 {
		return "", fmt.Errorf("unknown vehicle tier %q", s)
	}
	return t, nil
}
