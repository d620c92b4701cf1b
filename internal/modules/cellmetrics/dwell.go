// README: Buffers driver dwell time, trips and earnings per cell and day for driver_h3_history.
package cellmetrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"honeycomb/internal/types"
)

// DwellRow is one (driver, zone, cell, day) increment.
type DwellRow struct {
	DriverID     types.ID  `json:"driver_id"`
	ZoneID       string    `json:"zone_id"`
	CellID       string    `json:"cell_id"`
	Day          time.Time `json:"day"`
	DwellSeconds int64     `json:"dwell_seconds"`
	Trips        int64     `json:"trips"`
	Earnings     float64   `json:"earnings"`
}

type DwellWriter interface {
	WriteDwell(ctx context.Context, rows []DwellRow) error
}

type dwellKey struct {
	driver     types.ID
	zone, cell string
	day        time.Time
}

// DwellBuffer collects increments from the ingest path and writes them in batches.
// Recording never blocks on the database.
type DwellBuffer struct {
	mu   sync.Mutex
	rows map[dwellKey]*DwellRow
}

func NewDwellBuffer() *DwellBuffer {
	return &DwellBuffer{rows: map[dwellKey]*DwellRow{}}
}

func (b *DwellBuffer) row(driverID types.ID, zoneID, cellID string, at time.Time) *DwellRow {
	k := dwellKey{driverID, zoneID, cellID, Day(at)}
	r, ok := b.rows[k]
	if !ok {
		r = &DwellRow{DriverID: driverID, ZoneID: zoneID, CellID: cellID, Day: k.day}
		b.rows[k] = r
	}
	return r
}

// RecordDwell books time spent in a cell against the day the driver left it.
func (b *DwellBuffer) RecordDwell(zoneID string, driverID types.ID, cellID string, dwell time.Duration, at time.Time) {
	if dwell <= 0 || cellID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.row(driverID, zoneID, cellID, at).DwellSeconds += int64(dwell / time.Second)
}

func (b *DwellBuffer) RecordTrip(zoneID string, driverID types.ID, cellID string, earnings float64, at time.Time) {
	if cellID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.row(driverID, zoneID, cellID, at)
	r.Trips++
	r.Earnings += earnings
}

// Pending returns a sorted copy of the buffered rows.
func (b *DwellBuffer) Pending() []DwellRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedRows(b.rows)
}

// Flush hands the buffered rows to w. On failure the rows are merged back for the next flush.
func (b *DwellBuffer) Flush(ctx context.Context, w DwellWriter) (int, error) {
	b.mu.Lock()
	taken := b.rows
	b.rows = map[dwellKey]*DwellRow{}
	b.mu.Unlock()
	if len(taken) == 0 {
		return 0, nil
	}
	rows := sortedRows(taken)
	if err := w.WriteDwell(ctx, rows); err != nil {
		b.mu.Lock()
		for _, r := range rows {
			cur := b.row(r.DriverID, r.ZoneID, r.CellID, r.Day)
			cur.DwellSeconds += r.DwellSeconds
			cur.Trips += r.Trips
			cur.Earnings += r.Earnings
		}
		b.mu.Unlock()
		return 0, err
	}
	return len(rows), nil
}

func sortedRows(m map[dwellKey]*DwellRow) []DwellRow {
	out := make([]DwellRow, 0, len(m))
	for _, r := range m {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.DriverID != c.DriverID {
			return a.DriverID < c.DriverID
		}
		if !a.Day.Equal(c.Day) {
			return a.Day.Before(c.Day)
		}
		if a.ZoneID != c.ZoneID {
			return a.ZoneID < c.ZoneID
		}
		return a.CellID < c.CellID
	})
	return out
}
