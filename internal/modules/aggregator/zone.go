// README: Per-zone cell counters, driver membership and the open window.
package aggregator

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/types"
)

// cellCounters holds the live per-tier counts of one cell. Counts are updated with
// atomic adds; membership has its own small lock.
type cellCounters struct {
	id     string
	supply [types.NumTiers]atomic.Int64
	demand [types.NumTiers]atomic.Int64
	// touched is the highest window sequence during which the cell changed.
	touched atomic.Int64

	mu      sync.Mutex
	members map[types.ID]*driverEntry
}

func newCellCounters(id string) *cellCounters {
	return &cellCounters{id: id, members: make(map[types.ID]*driverEntry)}
}

func (c *cellCounters) read() CellCounts {
	out := CellCounts{CellID: c.id}
	for i := range c.supply {
		out.Supply[i] = c.supply[i].Load()
		out.Demand[i] = c.demand[i].Load()
	}
	return out
}

func (c *cellCounters) touch(seq int64) {
	for {
		cur := c.touched.Load()
		if cur >= seq || c.touched.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (c *cellCounters) join(d *driverEntry) {
	c.mu.Lock()
	c.members[d.id] = d
	c.mu.Unlock()
}

func (c *cellCounters) leave(id types.ID) {
	c.mu.Lock()
	delete(c.members, id)
	c.mu.Unlock()
}

func (c *cellCounters) memberList() []*driverEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*driverEntry, 0, len(c.members))
	for _, d := range c.members {
		out = append(out, d)
	}
	return out
}

// Window is the open aggregation period of a zone. It owns no counters: it records
// the tick's pricing per cell and knows when it started.
type Window struct {
	Seq   int64
	Start time.Time

	pricing sync.Map // cell id -> CellPricing
}

// Record stores the pricing decided for a cell in this window. Only the zone tick calls it.
func (w *Window) Record(cellID string, p CellPricing) {
	w.pricing.Store(cellID, p)
}

func (w *Window) Pricing(cellID string) (CellPricing, bool) {
	v, ok := w.pricing.Load(cellID)
	if !ok {
		return CellPricing{}, false
	}
	return v.(CellPricing), true
}

// Zone is the live dispatch state of one zone.
//
// Lock order: driverEntry.mu, then Zone.mu (read), then cellCounters.mu. Zone.mu is
// held for writing only while the zone is re-indexed at a new resolution. Every write
// to a driver's state or a counter holds Zone.mu for reading; queries take no lock.
type Zone struct {
	id string

	mu         sync.RWMutex
	resolution int
	cells      sync.Map // cell id -> *cellCounters
	drivers    sync.Map // driver id -> *driverEntry
	demands    sync.Map // request id -> *demandEntry

	window atomic.Pointer[Window]
}

func newZone(id string, resolution int, now time.Time) *Zone {
	z := &Zone{id: id, resolution: resolution}
	z.window.Store(&Window{Seq: 1, Start: windowStart(now, time.Time{})})
	return z
}

func (z *Zone) ID() string { return z.id }

func (z *Zone) Resolution() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.resolution
}

// CurrentWindow returns the open window.
func (z *Zone) CurrentWindow() *Window { return z.window.Load() }

func (z *Zone) cell(id string) *cellCounters {
	if v, ok := z.cells.Load(id); ok {
		return v.(*cellCounters)
	}
	v, _ := z.cells.LoadOrStore(id, newCellCounters(id))
	return v.(*cellCounters)
}

func (z *Zone) addSupply(cellID string, tier types.Tier, delta int64) {
	c := z.cell(cellID)
	c.supply[tier.Index()].Add(delta)
	c.touch(z.window.Load().Seq)
}

func (z *Zone) addDemand(cellID string, tier types.Tier, delta int64) {
	c := z.cell(cellID)
	c.demand[tier.Index()].Add(delta)
	c.touch(z.window.Load().Seq)
}

// CellCounts reads one cell. Unknown cells read as zero.
func (z *Zone) CellCounts(cellID string) CellCounts {
	if v, ok := z.cells.Load(cellID); ok {
		return v.(*cellCounters).read()
	}
	return CellCounts{CellID: cellID}
}

// RingCounts sums the counts of every cell within k rings of center.
func (z *Zone) RingCounts(centerID string, k int) (CellCounts, error) {
	ring, err := hexgrid.KRing(centerID, k)
	if err != nil {
		return CellCounts{}, err
	}
	total := CellCounts{CellID: centerID}
	for _, id := range ring {
		total.add(z.CellCounts(id))
	}
	return total, nil
}

// ActiveCells returns the cells that currently hold supply or demand, sorted by id.
func (z *Zone) ActiveCells() []CellCounts {
	var out []CellCounts
	z.cells.Range(func(_, v any) bool {
		if c := v.(*cellCounters).read(); !c.IsZero() {
			out = append(out, c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CellID < out[j].CellID })
	return out
}

// AvailableDrivers lists available drivers of tier located in any of cells.
// The result is a snapshot; a listed driver may be taken before it is reserved.
func (z *Zone) AvailableDrivers(cells []string, tier types.Tier) []DriverView {
	var out []DriverView
	for _, id := range cells {
		v, ok := z.cells.Load(id)
		if !ok {
			continue
		}
		for _, d := range v.(*cellCounters).memberList() {
			if d.tier() != tier || d.Status() != StatusAvailable {
				continue
			}
			out = append(out, d.view())
		}
	}
	return out
}

// DriversWithin scans the zone's driver index for available drivers of tier within radiusKm.
func (z *Zone) DriversWithin(p types.Point, radiusKm float64, tier types.Tier) []DriverView {
	var out []DriverView
	z.drivers.Range(func(_, v any) bool {
		d := v.(*driverEntry)
		if d.tier() != tier || d.Status() != StatusAvailable {
			return true
		}
		view := d.view()
		if hexgrid.DistanceKm(p, view.Point) <= radiusKm {
			out = append(out, view)
		}
		return true
	})
	return out
}

// DriverCount returns how many drivers the zone currently indexes.
func (z *Zone) DriverCount() int {
	n := 0
	z.drivers.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Rollover closes the open window and opens the next one. Counters are never reset:
// they belong to the zone, so an update racing the swap lands on the live counters
// and is reflected in the new window. It takes no lock shared with ingest or matching.
func (z *Zone) Rollover(now time.Time) *ClosedWindow {
	return z.rollover(now, z.Resolution())
}

func (z *Zone) rollover(now time.Time, resolution int) *ClosedWindow {
	old := z.window.Load()
	next := &Window{Seq: old.Seq + 1, Start: windowStart(now, old.Start)}
	for !z.window.CompareAndSwap(old, next) {
		old = z.window.Load()
		next = &Window{Seq: old.Seq + 1, Start: windowStart(now, old.Start)}
	}

	closed := &ClosedWindow{
		ZoneID:     z.id,
		Seq:        old.Seq,
		Start:      old.Start,
		End:        next.Start,
		Resolution: resolution,
	}
	z.cells.Range(func(_, v any) bool {
		c := v.(*cellCounters)
		counts := c.read()
		pricing, priced := old.Pricing(c.id)
		if counts.IsZero() && !priced && c.touched.Load() < old.Seq {
			return true
		}
		center, err := hexgrid.Center(c.id)
		if err != nil {
			return true
		}
		closed.Cells = append(closed.Cells, CellSnapshot{
			CellCounts: counts,
			Center:     center,
			Pricing:    pricing,
			Priced:     priced,
		})
		return true
	})
	sort.Slice(closed.Cells, func(i, j int) bool { return closed.Cells[i].CellID < closed.Cells[j].CellID })
	return closed
}

// SetResolution re-indexes the zone at res. The open window is closed at the old
// resolution first; it returns nil when res is unchanged.
func (z *Zone) SetResolution(res int, now time.Time) (*ClosedWindow, error) {
	if !hexgrid.ValidResolution(res) {
		return nil, hexgrid.ErrInvalidResolution
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	if res == z.resolution {
		return nil, nil
	}

	closed := z.rollover(now, z.resolution)
	z.resolution = res
	z.cells.Range(func(k, _ any) bool {
		z.cells.Delete(k)
		return true
	})

	z.drivers.Range(func(_, v any) bool {
		d := v.(*driverEntry)
		st := *d.state.Load()
		id, err := hexgrid.CellID(st.point, res)
		if err != nil {
			return true
		}
		st.cellID = id
		st.cellEnteredAt = now
		d.state.Store(&st)
		z.cell(id).join(d)
		if d.Status() == StatusAvailable {
			z.addSupply(id, st.tier, 1)
		}
		return true
	})
	z.demands.Range(func(_, v any) bool {
		r := v.(*demandEntry)
		id, err := hexgrid.CellID(r.point, res)
		if err != nil {
			return true
		}
		r.cellID = id
		z.addDemand(id, r.tier, 1)
		return true
	})
	return closed, nil
}

func (z *Zone) cellFor(p types.Point) (string, error) {
	return hexgrid.CellID(p, z.resolution)
}

// windowStart truncates to the second and keeps starts strictly increasing so
// (zone, cell, window_start) stays unique.
func windowStart(now, prev time.Time) time.Time {
	start := now.UTC().Truncate(time.Second)
	if !prev.IsZero() && !start.After(prev) {
		start = prev.Add(time.Second)
	}
	return start
}
