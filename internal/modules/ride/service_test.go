// README: Ride service tests with the in-memory store, a live aggregator and matcher.
package ride

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honeycomb/internal/config"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/modules/matching"
	"honeycomb/internal/modules/zoneconfig"
	"honeycomb/internal/types"
)

const zone = "taipei"

var (
	t0     = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	pickup = types.Point{Lat: 25.0330, Lng: 121.5654}
)

type staticZones struct{ cfg zoneconfig.ZoneDispatchConfig }

func (s staticZones) Get(_ context.Context, zoneID string) zoneconfig.ZoneDispatchConfig {
	return s.cfg.ForZone(zoneID)
}

type chanNotifier struct{ offers chan matching.Offer }

func (n chanNotifier) NotifyOffer(_ context.Context, o matching.Offer) error {
	n.offers <- o
	return nil
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	agg     *aggregator.Aggregator
	results chan matching.Result
}

func newHarness(t *testing.T, notifier matching.Notifier, m Matcher) *harness {
	t.Helper()
	h := &harness{store: NewMemoryStore(), agg: aggregator.New(func() time.Time { return t0 }), results: make(chan matching.Result, 4)}
	if m == nil {
		m = matching.NewMatcher(config.Default().Matching, matching.Deps{Aggregator: h.agg, Notifier: notifier})
	}
	h.svc = NewService(Deps{
		Store:      h.store,
		Aggregator: h.agg,
		Matcher:    m,
		Zones:      staticZones{cfg: zoneconfig.Defaults()},
		Now:        func() time.Time { return t0 },
	})
	h.svc.done = func(_ types.ID, res matching.Result) { h.results <- res }
	t.Cleanup(func() { _ = h.svc.Shutdown(context.Background()) })
	return h
}

func (h *harness) addDriver(t *testing.T, id types.ID) {
	t.Helper()
	_, err := h.agg.UpdateDriverLocation(zone, 8, aggregator.DriverUpdate{DriverID: id, Point: pickup, Tier: types.TierPro, Rating: 4.8, At: t0})
	require.NoError(t, err)
}

func (h *harness) create(t *testing.T) *Ride {
	t.Helper()
	r, err := h.svc.Create(context.Background(), CreateCommand{RiderID: "rider-1", ZoneID: zone, Pickup: pickup, Tier: "pro"})
	require.NoError(t, err)
	return r
}

func (h *harness) wait(t *testing.T) matching.Result {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("match did not finish")
		return matching.Result{}
	}
}

func (h *harness) demand(t *testing.T, cellID string) int64 {
	t.Helper()
	z, ok := h.agg.Zone(zone)
	require.True(t, ok)
	return z.CellCounts(cellID).DemandTotal()
}

func TestCreateAssignsDriver(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.addDriver(t, "d1")

	r := h.create(t)
	assert.Equal(t, StatusSearching, r.Status)
	cell, _ := hexgrid.CellID(pickup, 8)
	assert.Equal(t, cell, r.CellID)

	res := h.wait(t)
	assert.Equal(t, matching.OutcomeAssigned, res.Outcome)

	got, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, got.Status)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, types.ID("d1"), *got.DriverID)
	assert.Equal(t, 1, got.StatusVersion)
	assert.Zero(t, h.demand(t, cell))

	events, err := h.svc.Events(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusSearching, events[0].ToStatus)
	assert.Equal(t, StatusAssigned, events[1].ToStatus)
}

func TestCreateWithoutDriversEndsWithNoDrivers(t *testing.T) {
	h := newHarness(t, nil, nil)
	r := h.create(t)
	assert.Equal(t, matching.OutcomeNoDrivers, h.wait(t).Outcome)

	got, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoDrivers, got.Status)
	assert.Nil(t, got.DriverID)
	assert.ErrorIs(t, h.svc.Cancel(context.Background(), CancelCommand{RideID: r.ID}), ErrInvalidState)
}

func TestDemandIsCountedWhileSearching(t *testing.T) {
	n := chanNotifier{offers: make(chan matching.Offer, 1)}
	h := newHarness(t, n, nil)
	h.addDriver(t, "d1")
	r := h.create(t)

	o := <-n.offers
	assert.Equal(t, r.ID, o.RequestID)
	assert.EqualValues(t, 1, h.demand(t, r.CellID))

	require.NoError(t, h.svc.RespondOffer(context.Background(), r.ID, "d1", true))
	assert.Equal(t, matching.OutcomeAssigned, h.wait(t).Outcome)
	assert.Zero(t, h.demand(t, r.CellID))
}

func TestCancelDuringOfferReleasesDriver(t *testing.T) {
	n := chanNotifier{offers: make(chan matching.Offer, 1)}
	h := newHarness(t, n, nil)
	h.addDriver(t, "d1")
	r := h.create(t)
	<-n.offers

	rider := types.ID("rider-1")
	require.NoError(t, h.svc.Cancel(context.Background(), CancelCommand{RideID: r.ID, ActorID: &rider, Reason: "changed_mind"}))
	assert.Equal(t, matching.OutcomeCancelled, h.wait(t).Outcome)

	got, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "changed_mind", *got.CancelReason)

	v, _ := h.agg.Driver("d1")
	assert.Equal(t, aggregator.StatusAvailable, v.Status)
	assert.Zero(t, h.demand(t, r.CellID))
	assert.ErrorIs(t, h.svc.Cancel(context.Background(), CancelCommand{RideID: r.ID}), ErrInvalidState)
	assert.ErrorIs(t, h.svc.RespondOffer(context.Background(), r.ID, "d1", true), ErrInvalidState)
}

// gatedMatcher holds each search until release is closed, then runs the real matcher.
type gatedMatcher struct {
	*matching.Matcher
	release chan struct{}
}

func (m *gatedMatcher) Match(ctx context.Context, zc zoneconfig.ZoneDispatchConfig, req matching.Request) (matching.Result, error) {
	<-m.release
	return m.Matcher.Match(ctx, zc, req)
}

func TestCancelBeforeSearchStartsSendsNoOffer(t *testing.T) {
	n := chanNotifier{offers: make(chan matching.Offer, 1)}
	agg := aggregator.New(func() time.Time { return t0 })
	m := &gatedMatcher{
		Matcher: matching.NewMatcher(config.Default().Matching, matching.Deps{Aggregator: agg, Notifier: n}),
		release: make(chan struct{}),
	}
	h := newHarness(t, n, m)
	h.agg = agg
	h.svc.agg = agg
	h.addDriver(t, "d1")

	r := h.create(t)
	require.NoError(t, h.svc.Cancel(context.Background(), CancelCommand{RideID: r.ID}))
	close(m.release)
	assert.Equal(t, matching.OutcomeCancelled, h.wait(t).Outcome)

	assert.Empty(t, n.offers)
	v, _ := agg.Driver("d1")
	assert.Equal(t, aggregator.StatusAvailable, v.Status)
	got, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

// lateMatcher assigns the driver only after the test lets it, ignoring Cancel.
type lateMatcher struct {
	agg     *aggregator.Aggregator
	driver  types.ID
	release chan struct{}
}

func (m *lateMatcher) Match(_ context.Context, _ zoneconfig.ZoneDispatchConfig, req matching.Request) (matching.Result, error) {
	<-m.release
	if err := m.agg.TryReserve(m.driver); err != nil {
		return matching.Result{}, err
	}
	if err := m.agg.ConfirmAssignment(m.driver); err != nil {
		return matching.Result{}, err
	}
	return matching.Result{RequestID: req.ID, Outcome: matching.OutcomeAssigned, DriverID: m.driver}, nil
}

func (m *lateMatcher) Cancel(types.ID) bool                 { return false }
func (m *lateMatcher) Respond(_, _ types.ID, _ bool) error { return matching.ErrNoPendingOffer }

func TestAssignmentAfterCancelReturnsDriverToSupply(t *testing.T) {
	agg := aggregator.New(func() time.Time { return t0 })
	m := &lateMatcher{agg: agg, driver: "d1", release: make(chan struct{})}
	h := newHarness(t, nil, m)
	h.agg = agg
	h.svc.agg = agg
	h.addDriver(t, "d1")

	r := h.create(t)
	require.NoError(t, h.svc.Cancel(context.Background(), CancelCommand{RideID: r.ID}))
	close(m.release)
	assert.Equal(t, matching.OutcomeAssigned, h.wait(t).Outcome)

	got, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	v, _ := agg.Driver("d1")
	assert.Equal(t, aggregator.StatusAvailable, v.Status)
}

func TestShutdownCancelsSearchingRides(t *testing.T) {
	n := chanNotifier{offers: make(chan matching.Offer, 1)}
	h := newHarness(t, n, nil)
	h.addDriver(t, "d1")
	r := h.create(t)
	<-n.offers

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))

	got, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "shutdown", *got.CancelReason)
}

func TestCreateRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	for _, cmd := range []CreateCommand{
		{ZoneID: zone, Pickup: pickup, Tier: "pro"},
		{RiderID: "r", Pickup: pickup, Tier: "pro"},
		{RiderID: "r", ZoneID: zone, Pickup: pickup, Tier: "limo"},
		{RiderID: "r", ZoneID: zone, Pickup: types.Point{Lat: 100}, Tier: "pro"},
	} {
		_, err := h.svc.Create(ctx, cmd)
		assert.ErrorIs(t, err, ErrBadRequest)
	}

	zc := zoneconfig.Defaults()
	zc.DispatchEnabled = false
	h.svc.zones = staticZones{cfg: zc}
	_, err := h.svc.Create(ctx, CreateCommand{RiderID: "r", ZoneID: zone, Pickup: pickup, Tier: "pro"})
	assert.ErrorIs(t, err, ErrZoneDisabled)
	_, err = h.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusSearching, StatusAssigned))
	assert.True(t, CanTransition(StatusSearching, StatusCancelled))
	assert.False(t, CanTransition(StatusAssigned, StatusCancelled))
	assert.False(t, CanTransition(StatusNoDrivers, StatusSearching))
	assert.False(t, CanTransition(StatusNone, StatusAssigned))
}
