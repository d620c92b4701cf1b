// README: In-process daily and hotspot aggregation over window rows.
package cellmetrics

import (
	"sort"
	"time"
)

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailyStats(rows []CellWindowMetric) []DailyStat {
	type acc struct {
		n                         int
		supply, demand, imbalance float64
		max                       float64
		cells                     map[string]struct{}
	}
	byDay := map[time.Time]*acc{}
	for _, r := range rows {
		d := Day(r.WindowStart)
		a, ok := byDay[d]
		if !ok {
			a = &acc{cells: map[string]struct{}{}}
			byDay[d] = a
		}
		a.n++
		a.supply += float64(r.SupplyTotal)
		a.demand += float64(r.DemandTotal)
		a.imbalance += r.ImbalanceScore
		if r.ImbalanceScore > a.max {
			a.max = r.ImbalanceScore
		}
		a.cells[r.CellID] = struct{}{}
	}
	out := make([]DailyStat, 0, len(byDay))
	for d, a := range byDay {
		n := float64(a.n)
		out = append(out, DailyStat{
			Day:          d,
			AvgSupply:    round2(a.supply / n),
			AvgDemand:    round2(a.demand / n),
			AvgImbalance: round2(a.imbalance / n),
			MaxImbalance: round2(a.max),
			ActiveCells:  len(a.cells),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

func topHotspots(rows []CellWindowMetric, limit int) []Hotspot {
	byCell := map[string]*Hotspot{}
	sums := map[string]float64{}
	for _, r := range rows {
		h, ok := byCell[r.CellID]
		if !ok {
			h = &Hotspot{CellID: r.CellID, CenterLat: r.CenterLat, CenterLng: r.CenterLng}
			byCell[r.CellID] = h
		}
		h.Windows++
		sums[r.CellID] += r.ImbalanceScore
		if r.ImbalanceScore > h.MaxImbalance {
			h.MaxImbalance = r.ImbalanceScore
		}
	}
	out := make([]Hotspot, 0, len(byCell))
	for id, h := range byCell {
		h.AvgImbalance = round2(sums[id] / float64(h.Windows))
		h.MaxImbalance = round2(h.MaxImbalance)
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgImbalance != out[j].AvgImbalance {
			return out[i].AvgImbalance > out[j].AvgImbalance
		}
		return out[i].CellID < out[j].CellID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// latestPerCell keeps the newest row of each cell, ordered by cell id.
func latestPerCell(rows []CellWindowMetric) []CellWindowMetric {
	latest := map[string]CellWindowMetric{}
	for _, r := range rows {
		if cur, ok := latest[r.CellID]; !ok || r.WindowStart.After(cur.WindowStart) {
			latest[r.CellID] = r
		}
	}
	out := make([]CellWindowMetric, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellID < out[j].CellID })
	return out
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
