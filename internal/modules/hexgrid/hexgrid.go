// README: Hexagonal cell indexing (H3) and k-ring neighbourhoods for dispatch zones.
package hexgrid

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/uber/h3-go/v4"

	"honeycomb/internal/types"
)

const (
	MinResolution = 7
	MaxResolution = 9
	// MaxK bounds ring expansion; the matcher switches to a radius scan long before this.
	MaxK = 30

	earthRadiusMeters = 6371008.8
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidResolution = errors.New("resolution must be 7, 8 or 9")
	ErrInvalidK          = errors.New("invalid ring depth")
	ErrInvalidCell       = errors.New("invalid cell id")
)

// avgEdgeKm is the mean hexagon edge length per resolution.
var avgEdgeKm = map[int]float64{
	7: 1.406475763,
	8: 0.531414010,
	9: 0.200786148,
}

// Cell is a hexagonal cell at a fixed resolution.
type Cell struct {
	ID         string      `json:"cell_id"`
	Resolution int         `json:"resolution"`
	Center     types.Point `json:"center"`
}

// ValidResolution reports whether res is one of the supported dispatch resolutions.
func ValidResolution(res int) bool {
	return res >= MinResolution && res <= MaxResolution
}

// CellFor maps a coordinate to its cell. It is a pure function of (p, res).
func CellFor(p types.Point, res int) (Cell, error) {
	if !p.Valid() {
		return Cell{}, ErrInvalidCoordinate
	}
	if !ValidResolution(res) {
		return Cell{}, ErrInvalidResolution
	}
	c := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), res)
	return toCell(c), nil
}

// CellID is CellFor without the center lookup.
func CellID(p types.Point, res int) (string, error) {
	c, err := CellFor(p, res)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// Parse decodes a cell id produced by CellFor.
func Parse(id string) (Cell, error) {
	h, err := parse(id)
	if err != nil {
		return Cell{}, err
	}
	return toCell(h), nil
}

// Center returns the centroid of the cell.
func Center(id string) (types.Point, error) {
	h, err := parse(id)
	if err != nil {
		return types.Point{}, err
	}
	ll := h.LatLng()
	return types.Point{Lat: ll.Lat, Lng: ll.Lng}, nil
}

// Rings returns the cells around center grouped by hop distance; Rings(c, k)[0] is {c}.
func Rings(centerID string, k int) ([][]string, error) {
	if k < 0 || k > MaxK {
		return nil, ErrInvalidK
	}
	center, err := parse(centerID)
	if err != nil {
		return nil, err
	}
	rings := make([][]string, 0, k+1)
	rings = append(rings, []string{center.String()})
	seen := map[h3.Cell]struct{}{center: {}}
	for d := 1; d <= k; d++ {
		var ring []string
		for _, c := range h3.GridDisk(center, d) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			ring = append(ring, c.String())
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// KRing returns every cell within k hops of center, center first and then ring by ring.
// Away from the 12 H3 pentagons the result holds exactly 3k(k+1)+1 cells.
func KRing(centerID string, k int) ([]string, error) {
	rings, err := Rings(centerID, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, RingSize(k))
	for _, r := range rings {
		out = append(out, r...)
	}
	return out, nil
}

// RingSize is the number of hexagons within k hops of a hexagon.
func RingSize(k int) int {
	return 3*k*(k+1) + 1
}

// CellSpacingKm is the mean distance between the centers of two adjacent cells.
func CellSpacingKm(res int) float64 {
	return avgEdgeKm[res] * math.Sqrt(3)
}

// RadiusForK is the straight-line radius covered by a k-ring at res.
func RadiusForK(res, k int) float64 {
	return float64(k) * CellSpacingKm(res)
}

// KForRadius is the smallest ring depth whose radius covers km.
func KForRadius(res int, km float64) int {
	spacing := CellSpacingKm(res)
	if spacing <= 0 || km <= 0 {
		return 0
	}
	return int(math.Ceil(km/spacing - 1e-9))
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b types.Point) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lng)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return pa.Distance(pb).Radians() * earthRadiusMeters
}

func DistanceKm(a, b types.Point) float64 {
	return DistanceMeters(a, b) / 1000
}

func parse(id string) (h3.Cell, error) {
	if id == "" {
		return 0, ErrInvalidCell
	}
	c := h3.Cell(h3.IndexFromString(id))
	if !c.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, id)
	}
	return c, nil
}

func toCell(c h3.Cell) Cell {
	ll := c.LatLng()
	return Cell{
		ID:         c.String(),
		Resolution: c.Resolution(),
		Center:     types.Point{Lat: ll.Lat, Lng: ll.Lng},
	}
}
