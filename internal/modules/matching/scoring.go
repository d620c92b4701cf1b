// README: Candidate filtering and blended ranking.
package matching

import (
	"math"
	"sort"
	"time"

	"honeycomb/internal/config"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/modules/zoneconfig"
	"honeycomb/internal/types"
)

const maxRating = 5.0

// rank filters drivers and orders them best first.
func rank(mc config.MatchingConfig, zc zoneconfig.ZoneDispatchConfig, pickup types.Point, drivers []aggregator.DriverView, excluded map[types.ID]bool, now time.Time) []Candidate {
	saturation := time.Duration(mc.IdleSaturationMinutes) * time.Minute
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		rating := effectiveRating(d.Rating, zc.MinDriverRating)
		if excluded[d.ID] || rating < zc.MinDriverRating {
			continue
		}
		dist := hexgrid.DistanceKm(pickup, d.Point)
		if dist > zc.MaxSearchRadiusKm {
			continue
		}
		idle := idleFor(d, now)
		out = append(out, Candidate{
			Driver:     d,
			DistanceKm: dist,
			Idle:       idle,
			Score:      score(mc, zc.MaxSearchRadiusKm, dist, rating, idle, saturation),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// effectiveRating scores a driver who has never reported a rating at the zone minimum,
// so they stay eligible and rank below any rated driver that is otherwise equal.
func effectiveRating(rating, minRating float64) float64 {
	if rating <= 0 {
		return minRating
	}
	return rating
}

// score blends closeness, rating and idle time, each normalised to [0,1].
func score(mc config.MatchingConfig, maxKm, distKm, rating float64, idle, saturation time.Duration) float64 {
	closeness := 1.0
	if maxKm > 0 {
		closeness = 1 - math.Min(distKm/maxKm, 1)
	}
	idleScore := 0.0
	if saturation > 0 {
		idleScore = math.Min(float64(idle)/float64(saturation), 1)
	}
	total := mc.DistanceWeight + mc.RatingWeight + mc.IdleWeight
	s := mc.DistanceWeight*closeness + mc.RatingWeight*math.Min(rating/maxRating, 1) + mc.IdleWeight*idleScore
	// round so float noise does not hide ties
	return math.Round(s/total*1e9) / 1e9
}

func better(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	if a.Driver.Rating != b.Driver.Rating {
		return a.Driver.Rating > b.Driver.Rating
	}
	if !a.Driver.LastTripCompletedAt.Equal(b.Driver.LastTripCompletedAt) {
		return a.Driver.LastTripCompletedAt.Before(b.Driver.LastTripCompletedAt)
	}
	return a.Driver.ID < b.Driver.ID
}

// idleFor is the time since the driver last became free.
func idleFor(d aggregator.DriverView, now time.Time) time.Duration {
	since := d.AvailableSince
	if d.LastTripCompletedAt.After(since) {
		since = d.LastTripCompletedAt
	}
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return now.Sub(since)
}
