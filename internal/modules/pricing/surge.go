// README: Per-cell surge state machine with step-wise ramps and one-tick hysteresis.
package pricing

import (
	"math"
	"sort"
	"time"

	"honeycomb/internal/modules/zoneconfig"
)

type cellSurge struct {
	state      SurgeState
	multiplier float64
	// below counts consecutive ticks under the threshold while surging.
	below int
	epoch *SurgeEpoch
}

// Engine runs surge and incentive decisions for one zone. It is owned by the zone's
// tick goroutine and is not safe for concurrent use.
type Engine struct {
	zoneID        string
	cells         map[string]*cellSurge
	lastIncentive map[string]float64
}

func NewEngine(zoneID string) *Engine {
	return &Engine{
		zoneID:        zoneID,
		cells:         make(map[string]*cellSurge),
		lastIncentive: make(map[string]float64),
	}
}

// Multiplier returns the current multiplier for a cell (1.0 when not surging).
func (e *Engine) Multiplier(cellID string) float64 {
	if c, ok := e.cells[cellID]; ok {
		return c.multiplier
	}
	return baseMultiplier
}

// Surging lists cells currently above 1.0, sorted.
func (e *Engine) Surging() []string {
	out := make([]string, 0, len(e.cells))
	for id := range e.cells {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OpenEpochs returns copies of every running epoch.
func (e *Engine) OpenEpochs() []SurgeEpoch {
	var out []SurgeEpoch
	for _, id := range e.Surging() {
		if ep := e.cells[id].epoch; ep != nil {
			out = append(out, *ep)
		}
	}
	return out
}

// Evaluate runs one tick over the given cells plus every cell still surging, so a
// cell that emptied out keeps ramping down. Decisions come back sorted by cell id.
func (e *Engine) Evaluate(cfg zoneconfig.ZoneDispatchConfig, inputs []Input, now time.Time) []Decision {
	byCell := make(map[string]Input, len(inputs)+len(e.cells))
	for _, in := range inputs {
		byCell[in.CellID] = in
	}
	for id := range e.cells {
		if _, ok := byCell[id]; !ok {
			byCell[id] = Input{CellID: id}
		}
	}
	for id := range e.lastIncentive {
		if _, ok := byCell[id]; !ok {
			byCell[id] = Input{CellID: id}
		}
	}
	ids := make([]string, 0, len(byCell))
	for id := range byCell {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Decision, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.tick(cfg, byCell[id], now))
	}
	return out
}

func (e *Engine) tick(cfg zoneconfig.ZoneDispatchConfig, in Input, now time.Time) Decision {
	imb := Imbalance(in.Supply, in.Demand)
	d := Decision{CellID: in.CellID, Supply: in.Supply, Demand: in.Demand, Imbalance: imb}

	prevMult := e.Multiplier(in.CellID)
	above := cfg.Enabled && cfg.SurgeEnabled && imb >= cfg.SurgeThreshold
	c, surging := e.cells[in.CellID]

	switch {
	case !surging:
		if above && in.Supply >= int64(cfg.MinDriversToColorCell) {
			m := clampMultiplier(baseMultiplier+cfg.SurgeStep, cfg.SurgeCap)
			if m > baseMultiplier {
				ep := &SurgeEpoch{
					ZoneID:     e.zoneID,
					CellID:     in.CellID,
					StartedAt:  now,
					Multiplier: m,
					Imbalance:  imb,
					Supply:     in.Supply,
					Demand:     in.Demand,
				}
				e.cells[in.CellID] = &cellSurge{state: StateSurging, multiplier: m, epoch: ep}
				opened := *ep
				d.Opened = &opened
			}
		}
	case above:
		c.below = 0
		c.multiplier = clampMultiplier(c.multiplier+cfg.SurgeStep, cfg.SurgeCap)
		if c.multiplier > c.epoch.Multiplier {
			c.epoch.Multiplier = c.multiplier
		}
	default:
		c.below++
		if c.below > 1 {
			c.multiplier = clampMultiplier(c.multiplier-cfg.SurgeStep, cfg.SurgeCap)
		} else {
			// a lowered cap still binds while holding
			c.multiplier = clampMultiplier(c.multiplier, cfg.SurgeCap)
		}
	}
	if surging && c.multiplier <= baseMultiplier {
		ended := now
		closed := *c.epoch
		closed.EndedAt = &ended
		d.Closed = &closed
		delete(e.cells, in.CellID)
	}

	d.State = StateNormal
	d.Multiplier = baseMultiplier
	if c, ok := e.cells[in.CellID]; ok {
		d.State = c.state
		d.Multiplier = c.multiplier
	}

	d.Incentive = ComputeIncentive(cfg, imb)
	prevInc := e.lastIncentive[in.CellID]
	if d.Incentive.Amount > 0 {
		e.lastIncentive[in.CellID] = d.Incentive.Amount
	} else {
		delete(e.lastIncentive, in.CellID)
	}
	d.Changed = d.Multiplier != prevMult || d.Incentive.Amount != prevInc
	return d
}

// CloseAll ends every running epoch at now and resets all cells to NORMAL. The zone
// tick calls it when cell ids are invalidated by a resolution change.
func (e *Engine) CloseAll(now time.Time) []SurgeEpoch {
	var out []SurgeEpoch
	for _, id := range e.Surging() {
		c := e.cells[id]
		if c.epoch != nil {
			ended := now
			ep := *c.epoch
			ep.EndedAt = &ended
			out = append(out, ep)
		}
	}
	e.cells = make(map[string]*cellSurge)
	e.lastIncentive = make(map[string]float64)
	return out
}

// clampMultiplier bounds m to [1, ceiling]. Snapping to 1e-9 only removes float drift
// from repeated steps; it never changes a step.
func clampMultiplier(m, ceiling float64) float64 {
	m = math.Round(m*1e9) / 1e9
	if m > ceiling {
		m = ceiling
	}
	return math.Max(m, baseMultiplier)
}
