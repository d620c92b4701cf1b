// README: Location service runs the sample checks and applies accepted samples to the aggregator.
package location

import (
	"context"
	"fmt"
	"strings"
	"time"

	"honeycomb/internal/config"
	"honeycomb/internal/logger"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/zoneconfig"
	"honeycomb/internal/types"
)

type ZoneConfigs interface {
	Get(ctx context.Context, zoneID string) zoneconfig.ZoneDispatchConfig
}

// GeoStore mirrors positions and carries review signals.
type GeoStore interface {
	SetGeo(ctx context.Context, zoneID string, id types.ID, pos types.Point) error
	RemoveGeo(ctx context.Context, zoneID string, id types.ID) error
	EnqueueReview(ctx context.Context, sig ReviewSignal) error
}

// DwellRecorder receives analytics for driver_h3_history.
type DwellRecorder interface {
	RecordDwell(zoneID string, driverID types.ID, cellID string, dwell time.Duration, at time.Time)
	RecordTrip(zoneID string, driverID types.ID, cellID string, earnings float64, at time.Time)
}

// SamplePublisher receives accepted samples for route-audit retention.
type SamplePublisher interface {
	PublishSample(ctx context.Context, s Sample) error
}

type Metrics interface {
	PingProcessed(outcome string)
	AnomalyFlagged(flag string)
}

type Service struct {
	ingestor *Ingestor
	agg      *aggregator.Aggregator
	zones    ZoneConfigs
	store    GeoStore
	dwell    DwellRecorder
	samples  SamplePublisher
	metrics  Metrics
	log      logger.Logger
	now      func() time.Time

	reviewTimeout time.Duration
	anomalyWindow time.Duration
}

type Deps struct {
	Aggregator *aggregator.Aggregator
	Zones      ZoneConfigs
	Store      GeoStore
	Dwell      DwellRecorder
	Samples    SamplePublisher
	Metrics    Metrics
	Log        logger.Logger
	Now        func() time.Time
}

func NewService(cfg config.IngestConfig, d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	return &Service{
		ingestor:      NewIngestor(cfg, d.Now),
		agg:           d.Aggregator,
		zones:         d.Zones,
		store:         d.Store,
		dwell:         d.Dwell,
		samples:       d.Samples,
		metrics:       d.Metrics,
		log:           d.Log,
		now:           d.Now,
		reviewTimeout: 2 * time.Second,
		anomalyWindow: cfg.AnomalyWindow(),
	}
}

// Ping is the raw request payload for a location update.
type Ping struct {
	DriverID  types.ID
	ZoneID    string
	Point     types.Point
	Timestamp time.Time
	SpeedKmh  float64
	Tier      string
	Rating    float64
}

// Ingest checks a ping and, when it is clean, moves the driver's cell.
func (s *Service) Ingest(ctx context.Context, p Ping) (Result, error) {
	if strings.TrimSpace(p.ZoneID) == "" {
		return Result{}, fmt.Errorf("%w: zone id is required", ErrInvalidSample)
	}
	tier, err := types.ParseTier(p.Tier)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	if p.Rating < 0 || p.Rating > 5 {
		return Result{}, fmt.Errorf("%w: rating must be within [0,5]", ErrInvalidSample)
	}
	sample := Sample{
		DriverID:  p.DriverID,
		ZoneID:    p.ZoneID,
		Point:     p.Point,
		Timestamp: p.Timestamp,
		SpeedKmh:  p.SpeedKmh,
		Tier:      tier,
		Rating:    p.Rating,
	}

	cfg := s.zones.Get(ctx, p.ZoneID)
	if !cfg.Enabled || !cfg.DispatchEnabled {
		s.observe(OutcomeRejected, nil)
		return Result{DriverID: p.DriverID, Outcome: OutcomeRejected, Reason: ReasonZoneDisabled}, nil
	}

	v, err := s.ingestor.Check(sample)
	if err != nil {
		return Result{}, err
	}
	res := Result{DriverID: p.DriverID, Outcome: v.Outcome, Reason: v.Reason, Flags: v.Flags, Review: v.ReviewRaised}
	s.observe(v.Outcome, v.Flags)
	if v.ReviewRaised {
		s.raiseReview(sample, v.Flags)
	}
	if v.Outcome != OutcomeApplied {
		if len(v.Flags) > 0 {
			s.log.Debugw("location sample anomalous", map[string]any{
				"driver_id": p.DriverID, "zone_id": p.ZoneID, "flags": v.Flags,
				"outcome": v.Outcome, "speed_kmh": v.ComputedSpeedKmh, "distance_m": v.DistanceMeters,
			})
		}
		return res, nil
	}

	mv, err := s.agg.UpdateDriverLocation(p.ZoneID, cfg.H3Resolution, aggregator.DriverUpdate{
		DriverID: p.DriverID,
		Point:    p.Point,
		Tier:     tier,
		Rating:   p.Rating,
		At:       p.Timestamp,
	})
	if err != nil {
		return Result{}, err
	}
	res.CellID = mv.ToCell
	if mv.Changed() && mv.Dwell > 0 && s.dwell != nil {
		s.dwell.RecordDwell(mv.FromZone, p.DriverID, mv.FromCell, mv.Dwell, p.Timestamp)
	}
	if s.store != nil {
		if mv.FromZone != "" && mv.FromZone != mv.ZoneID {
			if err := s.store.RemoveGeo(ctx, mv.FromZone, p.DriverID); err != nil {
				s.log.Warnf("geo mirror remove %s: %v", p.DriverID, err)
			}
		}
		if err := s.store.SetGeo(ctx, p.ZoneID, p.DriverID, p.Point); err != nil {
			s.log.Warnf("geo mirror %s: %v", p.DriverID, err)
		}
	}
	if s.samples != nil {
		sample.Flags = v.Flags
		if err := s.samples.PublishSample(ctx, sample); err != nil {
			s.log.Warnf("publish sample %s: %v", p.DriverID, err)
		}
	}
	return res, nil
}

// SetAvailability toggles a driver on or off shift.
func (s *Service) SetAvailability(ctx context.Context, id types.ID, available bool) error {
	if err := s.agg.SetDriverAvailability(id, available, s.now()); err != nil {
		return err
	}
	if !available && s.store != nil {
		if v, ok := s.agg.Driver(id); ok {
			if err := s.store.RemoveGeo(ctx, v.ZoneID, id); err != nil {
				s.log.Warnf("geo mirror remove %s: %v", id, err)
			}
		}
	}
	return nil
}

// CompleteTrip returns the driver to supply and records the trip against the current cell.
func (s *Service) CompleteTrip(ctx context.Context, id types.ID, earnings float64) error {
	if earnings < 0 {
		return fmt.Errorf("%w: earnings must not be negative", ErrInvalidSample)
	}
	at := s.now()
	if err := s.agg.CompleteTrip(id, at); err != nil {
		return err
	}
	if v, ok := s.agg.Driver(id); ok && s.dwell != nil {
		s.dwell.RecordTrip(v.ZoneID, id, v.CellID, earnings, at)
	}
	return nil
}

// Forget removes a driver from the index and the sample history.
func (s *Service) Forget(ctx context.Context, id types.ID) error {
	v, ok := s.agg.Driver(id)
	if err := s.agg.RemoveDriver(id); err != nil {
		return err
	}
	s.ingestor.Forget(id)
	if ok && s.store != nil {
		if err := s.store.RemoveGeo(ctx, v.ZoneID, id); err != nil {
			s.log.Warnf("geo mirror remove %s: %v", id, err)
		}
	}
	return nil
}

func (s *Service) raiseReview(sample Sample, flags []AnomalyFlag) {
	if s.store == nil {
		s.log.Warnf("driver %s reached the anomaly limit; no review queue configured", sample.DriverID)
		return
	}
	sig := ReviewSignal{
		DriverID:  sample.DriverID,
		ZoneID:    sample.ZoneID,
		Anomalies: s.ingestor.cfg.MaxAnomaliesBeforeFlag,
		Window:    s.anomalyWindow.String(),
		LastFlags: flags,
		RaisedAt:  s.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.reviewTimeout)
		defer cancel()
		if err := s.store.EnqueueReview(ctx, sig); err != nil {
			s.log.Errorf("enqueue review for %s: %v", sig.DriverID, err)
		}
	}()
}

func (s *Service) observe(o Outcome, flags []AnomalyFlag) {
	if s.metrics == nil {
		return
	}
	s.metrics.PingProcessed(string(o))
	for _, f := range flags {
		s.metrics.AnomalyFlagged(string(f))
	}
}
