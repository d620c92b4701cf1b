// README: Pure movement helpers shared by the sample checks.
package location

import (
	"time"

	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/types"
)

// speedKmh is the average speed needed to cover meters in elapsed. A non-positive
// elapsed time yields 0; the stale check handles those samples.
func speedKmh(meters float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return meters / elapsed.Seconds() * 3.6
}

// movement returns the distance and elapsed time between two samples.
func movement(prev, next types.Point, prevAt, nextAt time.Time) (float64, time.Duration) {
	return hexgrid.DistanceMeters(prev, next), nextAt.Sub(prevAt)
}

// pruneBefore drops timestamps older than cutoff, preserving order.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
