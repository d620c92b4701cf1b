// README: Cell indexing tests (determinism, k-ring shape, radius law).
package hexgrid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honeycomb/internal/types"
)

var taipei101 = types.Point{Lat: 25.0340, Lng: 121.5645}

func TestCellForDeterministic(t *testing.T) {
	for _, res := range []int{7, 8, 9} {
		a, err := CellFor(taipei101, res)
		require.NoError(t, err)
		b, err := CellFor(taipei101, res)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, res, a.Resolution)
		assert.Less(t, DistanceMeters(a.Center, taipei101), CellSpacingKm(res)*1000)
	}
}

func TestCellForRejectsBadInput(t *testing.T) {
	_, err := CellFor(types.Point{Lat: 91, Lng: 0}, 8)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = CellFor(types.Point{Lat: math.NaN(), Lng: 0}, 8)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	for _, res := range []int{-1, 0, 6, 10, 15} {
		_, err = CellFor(taipei101, res)
		assert.ErrorIs(t, err, ErrInvalidResolution, "res %d", res)
	}
}

func TestKRingSize(t *testing.T) {
	for _, res := range []int{7, 8, 9} {
		center, err := CellFor(taipei101, res)
		require.NoError(t, err)
		for _, k := range []int{1, 2, 3} {
			ring, err := KRing(center.ID, k)
			require.NoError(t, err)
			assert.Len(t, ring, 3*k*(k+1)+1, "res %d k %d", res, k)
			assert.Equal(t, center.ID, ring[0])

			seen := make(map[string]bool, len(ring))
			for _, id := range ring {
				assert.False(t, seen[id], "duplicate cell %s", id)
				seen[id] = true
			}
		}
	}
}

func TestRingsAreDisjointShells(t *testing.T) {
	center, err := CellFor(taipei101, 9)
	require.NoError(t, err)
	rings, err := Rings(center.ID, 3)
	require.NoError(t, err)
	require.Len(t, rings, 4)
	assert.Equal(t, []string{center.ID}, rings[0])
	for d := 1; d <= 3; d++ {
		assert.Len(t, rings[d], 6*d, "ring %d", d)
	}

	// every ring-d cell lies roughly d cell spacings from the center
	spacing := CellSpacingKm(9) * 1000
	for d := 1; d <= 3; d++ {
		for _, id := range rings[d] {
			p, err := Center(id)
			require.NoError(t, err)
			dist := DistanceMeters(center.Center, p)
			assert.Greater(t, dist, spacing*(float64(d)-0.5)*0.8)
			assert.Less(t, dist, spacing*float64(d)*1.35)
		}
	}
}

func TestKRingRejectsBadInput(t *testing.T) {
	center, err := CellFor(taipei101, 8)
	require.NoError(t, err)
	_, err = KRing(center.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidK)
	_, err = KRing(center.ID, MaxK+1)
	assert.ErrorIs(t, err, ErrInvalidK)
	_, err = KRing("not-a-cell", 1)
	assert.ErrorIs(t, err, ErrInvalidCell)
	_, err = KRing("", 1)
	assert.ErrorIs(t, err, ErrInvalidCell)

	zero, err := KRing(center.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{center.ID}, zero)
}

func TestRadiusLaw(t *testing.T) {
	spacing := CellSpacingKm(8)
	assert.InDelta(t, 0.9204, spacing, 0.001)
	assert.Equal(t, 1, KForRadius(8, spacing))
	assert.Equal(t, 2, KForRadius(8, spacing*1.01))
	assert.Equal(t, 0, KForRadius(8, 0))
	assert.InDelta(t, 3*spacing, RadiusForK(8, 3), 1e-9)
	for k := 1; k <= 10; k++ {
		assert.Equal(t, k, KForRadius(8, RadiusForK(8, k)))
	}
}

func TestDistanceMeters(t *testing.T) {
	a := types.Point{Lat: 25.0330, Lng: 121.5654}
	b := types.Point{Lat: 25.0478, Lng: 121.5170}
	d := DistanceMeters(a, b)
	// roughly 5.1 km across Taipei
	assert.InDelta(t, 5100, d, 200)
	assert.InDelta(t, d/1000, DistanceKm(a, b), 1e-9)
	assert.Zero(t, DistanceMeters(a, a))
}

func TestPreview(t *testing.T) {
	res, err := Preview(taipei101, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Resolution)
	assert.Len(t, res.Cells, RingSize(2))
	assert.Equal(t, res.Center.ID, res.Cells[0].ID)
	assert.Equal(t, 0, res.Cells[0].Ring)
	assert.Equal(t, 2, res.Cells[len(res.Cells)-1].Ring)

	_, err = Preview(taipei101, 9, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
	_, err = Preview(taipei101, 9, 4)
	assert.ErrorIs(t, err, ErrInvalidK)
	_, err = Preview(taipei101, 6, 1)
	assert.ErrorIs(t, err, ErrInvalidResolution)
}
