// README: Preview of a k-ring for operational tuning; touches no live state.
package hexgrid

import "honeycomb/internal/types"

// PreviewCell is a cell in a preview together with its hop distance from the center.
type PreviewCell struct {
	Cell
	Ring int `json:"ring"`
}

type PreviewResult struct {
	Center     Cell          `json:"center"`
	Resolution int           `json:"resolution"`
	K          int           `json:"k"`
	Cells      []PreviewCell `json:"cells"`
}

// Preview resolves the center cell of p and lists its k-ring with centers.
// k follows the same [1,3] range as a zone's search depth.
func Preview(p types.Point, res, k int) (PreviewResult, error) {
	if k < 1 || k > 3 {
		return PreviewResult{}, ErrInvalidK
	}
	center, err := CellFor(p, res)
	if err != nil {
		return PreviewResult{}, err
	}
	rings, err := Rings(center.ID, k)
	if err != nil {
		return PreviewResult{}, err
	}
	out := PreviewResult{Center: center, Resolution: res, K: k, Cells: make([]PreviewCell, 0, RingSize(k))}
	for d, ring := range rings {
		for _, id := range ring {
			c, err := Parse(id)
			if err != nil {
				return PreviewResult{}, err
			}
			out.Cells = append(out.Cells, PreviewCell{Cell: c, Ring: d})
		}
	}
	return out, nil
}
