// README: Ride service opens demand, runs the matcher per request and records the outcome.
package ride

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"honeycomb/internal/logger"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/modules/matching"
	"honeycomb/internal/modules/zoneconfig"
	"honeycomb/internal/types"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("ride not found")
	ErrConflict     = errors.New("ride state conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrZoneDisabled = errors.New("dispatch disabled in zone")
)

type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, id types.ID) ([]Event, error)
}

type Matcher interface {
	Match(ctx context.Context, zc zoneconfig.ZoneDispatchConfig, req matching.Request) (matching.Result, error)
	Cancel(requestID types.ID) bool
	Respond(requestID, driverID types.ID, accept bool) error
}

type ZoneConfigs interface {
	Get(ctx context.Context, zoneID string) zoneconfig.ZoneDispatchConfig
}

type Service struct {
	store   Store
	agg     *aggregator.Aggregator
	matcher Matcher
	zones   ZoneConfigs
	log     logger.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// searches holds the cancel func of each running match, keyed by ride id.
	searches sync.Map
	// done receives each finished match; tests use it to wait.
	done func(types.ID, matching.Result)
}

type Deps struct {
	Store      Store
	Aggregator *aggregator.Aggregator
	Matcher    Matcher
	Zones      ZoneConfigs
	Log        logger.Logger
	Now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   d.Store,
		agg:     d.Aggregator,
		matcher: d.Matcher,
		zones:   d.Zones,
		log:     d.Log,
		now:     d.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

type CreateCommand struct {
	RiderID types.ID
	ZoneID  string
	Pickup  types.Point
	Tier    string
}

type CancelCommand struct {
	RideID    types.ID
	ActorType string
	ActorID   *types.ID
	Reason    string
}

// Create records the ride, counts it as demand and starts matching in the background.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.RiderID == "" || strings.TrimSpace(cmd.ZoneID) == "" {
		return nil, fmt.Errorf("%w: rider and zone are required", ErrBadRequest)
	}
	tier, err := types.ParseTier(cmd.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !cmd.Pickup.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, hexgrid.ErrInvalidCoordinate)
	}
	zc := s.zones.Get(ctx, cmd.ZoneID)
	if !zc.Enabled || !zc.DispatchEnabled {
		return nil, ErrZoneDisabled
	}

	now := s.now()
	r := &Ride{
		ID:        types.ID(uuid.NewString()),
		RiderID:   cmd.RiderID,
		ZoneID:    cmd.ZoneID,
		Pickup:    cmd.Pickup,
		Tier:      tier,
		Status:    StatusSearching,
		CreatedAt: now,
	}
	r.CellID, err = hexgrid.CellID(cmd.Pickup, zc.H3Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RideID:     r.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusSearching,
		ActorType:  "rider",
		ActorID:    &cmd.RiderID,
		CreatedAt:  now,
	})
	if cell, err := s.agg.OpenDemand(r.ZoneID, zc.H3Resolution, r.ID, r.Pickup, r.Tier); err != nil {
		s.log.Warnf("open demand for ride %s: %v", r.ID, err)
	} else {
		r.CellID = cell
	}

	mctx, cancel := context.WithCancel(s.ctx)
	s.searches.Store(r.ID, cancel)
	s.wg.Add(1)
	go s.run(mctx, zc, *r)
	return r, nil
}

func (s *Service) run(ctx context.Context, zc zoneconfig.ZoneDispatchConfig, r Ride) {
	defer s.wg.Done()
	defer s.stopSearch(r.ID)
	res, err := s.matcher.Match(ctx, zc, matching.Request{ID: r.ID, ZoneID: r.ZoneID, Pickup: r.Pickup, Tier: r.Tier})
	_ = s.agg.CloseDemand(r.ID)
	bg := context.WithoutCancel(s.ctx)
	if err != nil {
		s.log.Errorf("match ride %s: %v", r.ID, err)
		res.Outcome = matching.OutcomeNoDrivers
	}
	defer func() {
		if s.done != nil {
			s.done(r.ID, res)
		}
	}()

	var to Status
	var driverID *types.ID
	switch res.Outcome {
	case matching.OutcomeAssigned:
		to = StatusAssigned
		id := res.DriverID
		driverID = &id
	case matching.OutcomeNoDrivers:
		to = StatusNoDrivers
	default:
		// a rider cancel already moved the ride; otherwise the service is shutting down
		reason := "shutdown"
		if _, err := s.resolve(bg, r.ID, StatusCancelled, nil, &reason, "system", nil); err != nil {
			s.log.Errorf("cancel ride %s on shutdown: %v", r.ID, err)
		}
		return
	}
	ok, err := s.resolve(bg, r.ID, to, driverID, nil, "system", nil)
	if err != nil || !ok {
		if driverID != nil {
			// the ride was cancelled while the driver accepted
			if uerr := s.agg.Unassign(*driverID); uerr != nil {
				s.log.Warnf("unassign driver %s from ride %s: %v", *driverID, r.ID, uerr)
			}
		}
		if err != nil {
			s.log.Errorf("record outcome for ride %s: %v", r.ID, err)
		}
		return
	}
	s.log.Infof("ride %s %s driver=%v attempts=%d", r.ID, to, res.DriverID, res.Attempts)
}

// resolve moves a searching ride to its terminal status. It reports false when the ride
// had already left SEARCHING.
func (s *Service) resolve(ctx context.Context, id types.ID, to Status, driverID *types.ID, reason *string, actorType string, actorID *types.ID) (bool, error) {
	for {
		r, err := s.store.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if !CanTransition(r.Status, to) {
			return false, nil
		}
		now := s.now()
		ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
			ID: id, From: r.Status, To: to, Version: r.StatusVersion,
			DriverID: driverID, Reason: reason, At: now,
		})
		if err != nil {
			return false, err
		}
		if !ok {
			// version moved; re-read and retry
			continue
		}
		if actorID == nil {
			actorID = driverID
		}
		_ = s.store.AppendEvent(ctx, &Event{
			RideID:     id,
			FromStatus: r.Status,
			ToStatus:   to,
			ActorType:  actorType,
			ActorID:    actorID,
			CreatedAt:  now,
		})
		return true, nil
	}
}

// Cancel stops matching for a searching ride and closes its demand.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return ErrInvalidState
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "rider_cancel"
	}
	actorType := cmd.ActorType
	if actorType == "" {
		actorType = "rider"
	}
	ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
		ID: r.ID, From: r.Status, To: StatusCancelled, Version: r.StatusVersion,
		Reason: &reason, At: s.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RideID:     r.ID,
		FromStatus: r.Status,
		ToStatus:   StatusCancelled,
		ActorType:  actorType,
		ActorID:    cmd.ActorID,
		CreatedAt:  s.now(),
	})
	s.stopSearch(r.ID)
	s.matcher.Cancel(r.ID)
	_ = s.agg.CloseDemand(r.ID)
	return nil
}

// stopSearch cancels the ride's match context. It is a no-op once the match has ended.
func (s *Service) stopSearch(id types.ID) {
	if v, ok := s.searches.LoadAndDelete(id); ok {
		v.(context.CancelFunc)()
	}
}

// RespondOffer forwards a driver's answer to the ride's open offer.
func (s *Service) RespondOffer(ctx context.Context, rideID, driverID types.ID, accept bool) error {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if r.Status != StatusSearching {
		return ErrInvalidState
	}
	return s.matcher.Respond(rideID, driverID, accept)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	return s.store.Events(ctx, id)
}

// Shutdown cancels in-flight matches and waits for their goroutines.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
