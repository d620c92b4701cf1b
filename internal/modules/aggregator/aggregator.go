// README: Aggregator indexes drivers and open ride requests per zone and keeps per-cell counters current.
package aggregator

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/types"
)

// ErrInvalidStatus is returned when a driver's current status does not allow the change.
var ErrInvalidStatus = errors.New("driver status does not allow this change")

// driverState is replaced wholesale on every write so queries can read it without locking.
type driverState struct {
	cellID              string
	point               types.Point
	tier                types.Tier
	rating              float64
	lastSeen            time.Time
	cellEnteredAt       time.Time
	availableSince      time.Time
	lastTripCompletedAt time.Time
}

type driverEntry struct {
	id types.ID

	mu      sync.Mutex
	removed bool

	status atomic.Int32
	state  atomic.Pointer[driverState]
	zone   atomic.Pointer[Zone]
}

func (d *driverEntry) Status() DriverStatus { return DriverStatus(d.status.Load()) }

func (d *driverEntry) tier() types.Tier {
	if st := d.state.Load(); st != nil {
		return st.tier
	}
	return ""
}

func (d *driverEntry) view() DriverView {
	st := d.state.Load()
	status := d.Status()
	v := DriverView{ID: d.id, Status: status, StatusName: status.String()}
	if z := d.zone.Load(); z != nil {
		v.ZoneID = z.id
	}
	if st != nil {
		v.CellID = st.cellID
		v.Point = st.point
		v.Tier = st.tier
		v.Rating = st.rating
		v.LastSeen = st.lastSeen
		v.AvailableSince = st.availableSince
		v.LastTripCompletedAt = st.lastTripCompletedAt
	}
	return v
}

type demandEntry struct {
	id     types.ID
	zone   *Zone
	cellID string
	point  types.Point
	tier   types.Tier
}

// Aggregator is the in-memory source of truth for dispatch state.
type Aggregator struct {
	zones   sync.Map // zone id -> *Zone
	drivers sync.Map // driver id -> *driverEntry
	demands sync.Map // request id -> *demandEntry
	now     func() time.Time
}

// New returns an empty aggregator. now may be nil.
func New(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

// EnsureZone returns the zone, creating it at resolution res on first use. An existing
// zone keeps its resolution; the zone tick changes it through Zone.SetResolution.
func (a *Aggregator) EnsureZone(zoneID string, res int) (*Zone, error) {
	if v, ok := a.zones.Load(zoneID); ok {
		return v.(*Zone), nil
	}
	if !hexgrid.ValidResolution(res) {
		return nil, hexgrid.ErrInvalidResolution
	}
	v, _ := a.zones.LoadOrStore(zoneID, newZone(zoneID, res, a.now()))
	return v.(*Zone), nil
}

func (a *Aggregator) Zone(zoneID string) (*Zone, bool) {
	v, ok := a.zones.Load(zoneID)
	if !ok {
		return nil, false
	}
	return v.(*Zone), true
}

// Zones lists known zones ordered by id.
func (a *Aggregator) Zones() []*Zone {
	var out []*Zone
	a.zones.Range(func(_, v any) bool {
		out = append(out, v.(*Zone))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Driver returns a copy of the driver's index entry.
func (a *Aggregator) Driver(id types.ID) (DriverView, bool) {
	v, ok := a.drivers.Load(id)
	if !ok {
		return DriverView{}, false
	}
	return v.(*driverEntry).view(), true
}

// UpdateDriverLocation applies an accepted sample. The first sample from a driver
// registers it as available in the zone.
func (a *Aggregator) UpdateDriverLocation(zoneID string, res int, u DriverUpdate) (Move, error) {
	if u.Tier.Index() < 0 {
		return Move{}, ErrInvalidTier
	}
	if !u.Point.Valid() {
		return Move{}, hexgrid.ErrInvalidCoordinate
	}
	z, err := a.EnsureZone(zoneID, res)
	if err != nil {
		return Move{}, err
	}
	for {
		v, _ := a.drivers.LoadOrStore(u.DriverID, newDriverEntry(u.DriverID))
		d := v.(*driverEntry)
		d.mu.Lock()
		if d.removed {
			d.mu.Unlock()
			continue
		}
		mv, err := a.applyLocation(d, z, u)
		d.mu.Unlock()
		return mv, err
	}
}

func newDriverEntry(id types.ID) *driverEntry {
	d := &driverEntry{id: id}
	d.status.Store(int32(StatusAvailable))
	return d
}

// applyLocation runs with d.mu held.
func (a *Aggregator) applyLocation(d *driverEntry, z *Zone, u DriverUpdate) (Move, error) {
	prev := d.state.Load()
	old := d.zone.Load()
	if prev != nil && old == z && u.At.Before(prev.lastSeen) {
		// an older sample lost the race to a newer one; keep the newer position
		return Move{FromZone: z.id, FromCell: prev.cellID, ZoneID: z.id, ToCell: prev.cellID}, nil
	}
	mv := Move{ZoneID: z.id}
	if prev != nil && old != nil {
		mv.FromZone = old.id
		mv.FromCell = prev.cellID
	}

	if old != nil && old != z {
		old.mu.RLock()
		old.detach(d, prev)
		old.mu.RUnlock()
	}

	z.mu.RLock()
	defer z.mu.RUnlock()
	cellID, err := z.cellFor(u.Point)
	if err != nil {
		return Move{}, err
	}
	mv.ToCell = cellID

	st := driverState{availableSince: u.At, cellEnteredAt: u.At}
	if prev != nil {
		st = *prev
	}
	available := d.Status() == StatusAvailable
	sameZone := old == z && prev != nil
	if sameZone && (prev.cellID != cellID || prev.tier != u.Tier) {
		z.cell(prev.cellID).leave(d.id)
		if available {
			z.addSupply(prev.cellID, prev.tier, -1)
		}
	}
	if !sameZone || prev.cellID != cellID || prev.tier != u.Tier {
		z.cell(cellID).join(d)
		if available {
			z.addSupply(cellID, u.Tier, 1)
		}
	}
	if mv.Changed() {
		if prev != nil && !prev.cellEnteredAt.IsZero() && u.At.After(prev.cellEnteredAt) {
			mv.Dwell = u.At.Sub(prev.cellEnteredAt)
		}
		st.cellEnteredAt = u.At
	}
	st.cellID = cellID
	st.point = u.Point
	st.tier = u.Tier
	st.lastSeen = u.At
	if u.Rating > 0 {
		st.rating = u.Rating
	}
	d.state.Store(&st)
	d.zone.Store(z)
	z.drivers.Store(d.id, d)
	return mv, nil
}

// detach removes d from z's index. Caller holds d.mu and z.mu for reading.
func (z *Zone) detach(d *driverEntry, st *driverState) {
	if st != nil {
		z.cell(st.cellID).leave(d.id)
		if d.Status() == StatusAvailable {
			z.addSupply(st.cellID, st.tier, -1)
		}
	}
	z.drivers.Delete(d.id)
}

// transition moves a driver between statuses and keeps supply in step. mutate may
// adjust the state copy that is stored alongside the new status.
func (a *Aggregator) transition(id types.ID, allowed func(DriverStatus) bool, to DriverStatus, fail error, mutate func(*driverState)) error {
	v, ok := a.drivers.Load(id)
	if !ok {
		return ErrDriverNotFound
	}
	d := v.(*driverEntry)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return ErrDriverNotFound
	}
	z := d.zone.Load()
	prev := d.state.Load()
	if z == nil || prev == nil {
		return ErrDriverNotFound
	}

	z.mu.RLock()
	defer z.mu.RUnlock()
	cur := d.Status()
	if !allowed(cur) {
		return fail
	}
	// re-read under the zone lock; a re-index may have moved the driver's cell
	st := *d.state.Load()
	var delta int64
	if to == StatusAvailable {
		delta++
	}
	if cur == StatusAvailable {
		delta--
	}
	if !d.status.CompareAndSwap(int32(cur), int32(to)) {
		return fail
	}
	if delta != 0 {
		z.addSupply(st.cellID, st.tier, delta)
	}
	if mutate != nil {
		mutate(&st)
		d.state.Store(&st)
	}
	return nil
}

func is(statuses ...DriverStatus) func(DriverStatus) bool {
	return func(s DriverStatus) bool {
		for _, x := range statuses {
			if s == x {
				return true
			}
		}
		return false
	}
}

// TryReserve takes an available driver out of supply while an offer is pending.
// Exactly one of any number of concurrent callers succeeds; the rest get ErrDriverUnavailable.
func (a *Aggregator) TryReserve(id types.ID) error {
	return a.transition(id, is(StatusAvailable), StatusPending, ErrDriverUnavailable, nil)
}

// ConfirmAssignment completes a reservation (pending -> assigned).
func (a *Aggregator) ConfirmAssignment(id types.ID) error {
	return a.transition(id, is(StatusPending), StatusAssigned, ErrDriverUnavailable, nil)
}

// Release returns a pending driver to supply. Releasing a driver that is no longer
// pending is a no-op.
func (a *Aggregator) Release(id types.ID) error {
	err := a.transition(id, is(StatusPending), StatusAvailable, ErrInvalidStatus, nil)
	if errors.Is(err, ErrInvalidStatus) || errors.Is(err, ErrDriverNotFound) {
		return nil
	}
	return err
}

// SetDriverAvailability toggles a driver between offline and available. A driver
// holding an offer or a trip cannot become available here.
func (a *Aggregator) SetDriverAvailability(id types.ID, available bool, at time.Time) error {
	if available {
		v, ok := a.drivers.Load(id)
		if ok && v.(*driverEntry).Status() == StatusAvailable {
			return nil
		}
		return a.transition(id, is(StatusOffline), StatusAvailable, ErrInvalidStatus, func(st *driverState) {
			st.availableSince = at
		})
	}
	return a.transition(id, is(StatusOffline, StatusAvailable, StatusPending, StatusAssigned), StatusOffline, ErrInvalidStatus, nil)
}

// CompleteTrip returns an assigned driver to supply and stamps the completion time
// used for fair rotation.
func (a *Aggregator) CompleteTrip(id types.ID, at time.Time) error {
	return a.transition(id, is(StatusAssigned), StatusAvailable, ErrInvalidStatus, func(st *driverState) {
		st.lastTripCompletedAt = at
		st.availableSince = at
	})
}

// Unassign returns an assigned driver to supply when its ride is called off before
// pickup. Unlike CompleteTrip it leaves the rotation timestamps alone.
func (a *Aggregator) Unassign(id types.ID) error {
	return a.transition(id, is(StatusAssigned), StatusAvailable, ErrInvalidStatus, nil)
}

// SetDriverRating updates the rating used by the matcher.
func (a *Aggregator) SetDriverRating(id types.ID, rating float64) error {
	v, ok := a.drivers.Load(id)
	if !ok {
		return ErrDriverNotFound
	}
	d := v.(*driverEntry)
	d.mu.Lock()
	defer d.mu.Unlock()
	z := d.zone.Load()
	if d.removed || z == nil {
		return ErrDriverNotFound
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	st := *d.state.Load()
	st.rating = rating
	d.state.Store(&st)
	return nil
}

// RemoveDriver drops a driver from the index entirely.
func (a *Aggregator) RemoveDriver(id types.ID) error {
	v, ok := a.drivers.Load(id)
	if !ok {
		return ErrDriverNotFound
	}
	d := v.(*driverEntry)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return ErrDriverNotFound
	}
	if z := d.zone.Load(); z != nil {
		z.mu.RLock()
		z.detach(d, d.state.Load())
		z.mu.RUnlock()
	}
	d.removed = true
	a.drivers.Delete(id)
	return nil
}

// OpenDemand counts an open ride request in the pickup cell. Opening the same request
// twice is a no-op that returns the original cell.
func (a *Aggregator) OpenDemand(zoneID string, res int, requestID types.ID, p types.Point, tier types.Tier) (string, error) {
	if tier.Index() < 0 {
		return "", ErrInvalidTier
	}
	if !p.Valid() {
		return "", hexgrid.ErrInvalidCoordinate
	}
	z, err := a.EnsureZone(zoneID, res)
	if err != nil {
		return "", err
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	cellID, err := z.cellFor(p)
	if err != nil {
		return "", err
	}
	r := &demandEntry{id: requestID, zone: z, cellID: cellID, point: p, tier: tier}
	if v, loaded := a.demands.LoadOrStore(requestID, r); loaded {
		return v.(*demandEntry).cellID, nil
	}
	z.demands.Store(requestID, r)
	z.addDemand(cellID, tier, 1)
	return cellID, nil
}

// CloseDemand removes a request from the counts once it is assigned, cancelled or expired.
func (a *Aggregator) CloseDemand(requestID types.ID) error {
	v, ok := a.demands.LoadAndDelete(requestID)
	if !ok {
		return ErrRequestNotFound
	}
	r := v.(*demandEntry)
	z := r.zone
	z.mu.RLock()
	defer z.mu.RUnlock()
	z.demands.Delete(requestID)
	z.addDemand(r.cellID, r.tier, -1)
	return nil
}
