// README: Matcher runs the expanding ring search and sequential driver offers for one request.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"honeycomb/internal/config"
	"honeycomb/internal/logger"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/hexgrid"
	"honeycomb/internal/modules/zoneconfig"
	"honeycomb/internal/types"
)

// Notifier delivers an offer to a driver. Delivery is best effort; an undelivered
// offer simply times out.
type Notifier interface {
	NotifyOffer(ctx context.Context, o Offer) error
}

// OfferLog records every offer made for a request.
type OfferLog interface {
	RecordOffer(ctx context.Context, o Offer, result string) error
}

type Metrics interface {
	MatchCompleted(outcome string, elapsed time.Duration)
	ReservationLost()
	OfferResolved(result string)
}

type pendingOffer struct {
	driverID types.ID
	reply    chan bool
}

// Matcher is safe for concurrent use; each Match call owns one request.
type Matcher struct {
	agg      *aggregator.Aggregator
	cfg      config.MatchingConfig
	notifier Notifier
	offers   OfferLog
	metrics  Metrics
	log      logger.Logger
	now      func() time.Time

	active  sync.Map // request id -> context.CancelFunc
	pending sync.Map // request id -> *pendingOffer

	// candidatesHook runs after each candidate listing. Tests use it to race reservations.
	candidatesHook func(Request, []Candidate)
}

type Deps struct {
	Aggregator *aggregator.Aggregator
	// Notifier may be nil, in which case every offer is accepted at once.
	Notifier Notifier
	Offers   OfferLog
	Metrics  Metrics
	Log      logger.Logger
	Now      func() time.Time
}

func NewMatcher(cfg config.MatchingConfig, d Deps) *Matcher {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	return &Matcher{
		agg:      d.Aggregator,
		cfg:      cfg,
		notifier: d.Notifier,
		offers:   d.Offers,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Now,
	}
}

// Match searches for a driver and offers the request to candidates one at a time.
// No driver found is reported as OutcomeNoDrivers, not as an error.
func (m *Matcher) Match(ctx context.Context, zc zoneconfig.ZoneDispatchConfig, req Request) (Result, error) {
	if req.ID == "" || req.ZoneID == "" {
		return Result{}, fmt.Errorf("%w: request and zone id are required", ErrInvalidRequest)
	}
	if req.Tier.Index() < 0 {
		return Result{}, fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, req.Tier)
	}
	if !req.Pickup.Valid() {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, hexgrid.ErrInvalidCoordinate)
	}
	z, err := m.agg.EnsureZone(req.ZoneID, zc.H3Resolution)
	if err != nil {
		return Result{}, err
	}
	res := z.Resolution()
	cellID, err := hexgrid.CellID(req.Pickup, res)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if _, loaded := m.active.LoadOrStore(req.ID, cancel); loaded {
		return Result{}, fmt.Errorf("%w: request %s is already being matched", ErrInvalidRequest, req.ID)
	}
	defer m.active.Delete(req.ID)

	started := m.now()
	out, err := m.search(ctx, zc, z, req, cellID)
	if err != nil {
		return out, err
	}
	if m.metrics != nil {
		m.metrics.MatchCompleted(string(out.Outcome), m.now().Sub(started))
	}
	m.log.Debugw("match finished", map[string]any{
		"request_id": req.ID, "zone_id": req.ZoneID, "outcome": out.Outcome,
		"driver_id": out.DriverID, "attempts": out.Attempts, "radius_km": out.RadiusKm, "offers": out.Offers,
	})
	return out, nil
}

func (m *Matcher) search(ctx context.Context, zc zoneconfig.ZoneDispatchConfig, z *aggregator.Zone, req Request, cellID string) (Result, error) {
	res := z.Resolution()
	out := Result{RequestID: req.ID, CellID: cellID, Outcome: OutcomeNoDrivers}
	k := zc.SearchDepthK
	radius := math.Min(hexgrid.RadiusForK(res, k), zc.MaxSearchRadiusKm)
	excluded := map[types.ID]bool{}

	for {
		if ctx.Err() != nil {
			out.Outcome = OutcomeCancelled
			return out, nil
		}
		out.Attempts++
		out.K, out.RadiusKm = k, radius

		drivers, err := m.list(z, req, cellID, k, radius)
		if err != nil {
			return out, err
		}
		cands := rank(m.cfg, zc, req.Pickup, drivers, excluded, m.now())
		if m.candidatesHook != nil {
			m.candidatesHook(req, cands)
		}
		for _, c := range cands {
			if ctx.Err() != nil {
				out.Outcome = OutcomeCancelled
				return out, nil
			}
			if out.Offers >= m.cfg.MaxOffersPerRequest {
				return out, nil
			}
			id := c.Driver.ID
			if err := m.agg.TryReserve(id); err != nil {
				if errors.Is(err, aggregator.ErrDriverUnavailable) || errors.Is(err, aggregator.ErrDriverNotFound) {
					excluded[id] = true
					if m.metrics != nil {
						m.metrics.ReservationLost()
					}
					continue
				}
				return out, err
			}
			out.Offers++
			accepted := m.offer(ctx, zc, req, c)
			if accepted {
				if err := m.agg.ConfirmAssignment(id); err == nil {
					out.Outcome = OutcomeAssigned
					out.DriverID = id
					out.DistanceKm = c.DistanceKm
					return out, nil
				}
			} else {
				_ = m.agg.Release(id)
			}
			excluded[id] = true
		}

		if radius >= zc.MaxSearchRadiusKm {
			return out, nil
		}
		radius = math.Min(radius*zc.SearchRadiusExpansionMultiplier, zc.MaxSearchRadiusKm)
		k = max(k+1, hexgrid.KForRadius(res, radius))
	}
}

// list returns available drivers for one search round. Rings up to MaxRingK are read
// from the cell index; beyond that the zone's driver index is scanned by distance.
func (m *Matcher) list(z *aggregator.Zone, req Request, cellID string, k int, radius float64) ([]aggregator.DriverView, error) {
	if k > m.cfg.MaxRingK {
		return z.DriversWithin(req.Pickup, radius, req.Tier), nil
	}
	cells, err := hexgrid.KRing(cellID, k)
	if err != nil {
		return nil, err
	}
	return z.AvailableDrivers(cells, req.Tier), nil
}

// offer waits for the reserved driver's answer. The driver stays Pending while it waits.
func (m *Matcher) offer(ctx context.Context, zc zoneconfig.ZoneDispatchConfig, req Request, c Candidate) bool {
	o := Offer{
		RequestID:  req.ID,
		DriverID:   c.Driver.ID,
		ZoneID:     req.ZoneID,
		Pickup:     req.Pickup,
		Tier:       req.Tier,
		DistanceKm: c.DistanceKm,
		ExpiresAt:  m.now().Add(zc.MatchTimeout()),
	}
	if m.notifier == nil {
		m.resolve(ctx, o, offerResultAccepted)
		return true
	}

	p := &pendingOffer{driverID: c.Driver.ID, reply: make(chan bool, 1)}
	m.pending.Store(req.ID, p)
	defer m.pending.CompareAndDelete(req.ID, p)

	if err := m.notifier.NotifyOffer(ctx, o); err != nil {
		m.log.Warnf("notify offer %s to %s: %v", req.ID, c.Driver.ID, err)
	}
	timer := time.NewTimer(zc.MatchTimeout())
	defer timer.Stop()
	select {
	case ok := <-p.reply:
		if ok {
			m.resolve(ctx, o, offerResultAccepted)
		} else {
			m.resolve(ctx, o, offerResultDeclined)
		}
		return ok
	case <-timer.C:
		m.resolve(ctx, o, offerResultTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Matcher) resolve(ctx context.Context, o Offer, result string) {
	if m.metrics != nil {
		m.metrics.OfferResolved(result)
	}
	if m.offers != nil {
		if err := m.offers.RecordOffer(context.WithoutCancel(ctx), o, result); err != nil {
			m.log.Warnf("record offer %s: %v", o.RequestID, err)
		}
	}
}

// Respond delivers a driver's answer to the open offer of a request.
func (m *Matcher) Respond(requestID, driverID types.ID, accept bool) error {
	v, ok := m.pending.Load(requestID)
	if !ok {
		return ErrNoPendingOffer
	}
	p := v.(*pendingOffer)
	if p.driverID != driverID || !m.pending.CompareAndDelete(requestID, p) {
		return ErrNoPendingOffer
	}
	p.reply <- accept
	return nil
}

// PendingOffer returns the driver currently holding the request's offer.
func (m *Matcher) PendingOffer(requestID types.ID) (types.ID, bool) {
	v, ok := m.pending.Load(requestID)
	if !ok {
		return "", false
	}
	return v.(*pendingOffer).driverID, true
}

// Cancel stops an in-flight match. A driver reserved for it is released.
func (m *Matcher) Cancel(requestID types.ID) bool {
	v, ok := m.active.Load(requestID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}
