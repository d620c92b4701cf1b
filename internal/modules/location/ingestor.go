// README: Ingestor validates GPS samples against the previous clean sample of the same driver.
package location

import (
	"fmt"
	"sync"
	"time"

	"honeycomb/internal/config"
	"honeycomb/internal/types"
)

// track is the per-driver memory the checks need. Only the last clean sample is kept.
type track struct {
	mu              sync.Mutex
	last            *Sample
	stationarySince time.Time
	anomalies       []time.Time
}

// Ingestor applies the sample checks. It keeps no dispatch state of its own.
type Ingestor struct {
	cfg    config.IngestConfig
	now    func() time.Time
	tracks sync.Map // driver id -> *track
}

func NewIngestor(cfg config.IngestConfig, now func() time.Time) *Ingestor {
	if now == nil {
		now = time.Now
	}
	return &Ingestor{cfg: cfg, now: now}
}

func (in *Ingestor) track(id types.ID) *track {
	if v, ok := in.tracks.Load(id); ok {
		return v.(*track)
	}
	v, _ := in.tracks.LoadOrStore(id, &track{})
	return v.(*track)
}

// Forget drops a driver's history; the next sample is checked as a first sample.
func (in *Ingestor) Forget(id types.ID) {
	in.tracks.Delete(id)
}

// Check validates s. Malformed samples return ErrInvalidSample; every other
// outcome is reported in the Verdict.
func (in *Ingestor) Check(s Sample) (Verdict, error) {
	if s.DriverID == "" || !s.Point.Valid() || s.Timestamp.IsZero() {
		return Verdict{}, fmt.Errorf("%w: driver id, coordinates and timestamp are required", ErrInvalidSample)
	}
	if s.SpeedKmh < 0 {
		return Verdict{}, fmt.Errorf("%w: negative speed", ErrInvalidSample)
	}
	now := in.now()
	if in.cfg.FutureCheckEnabled && s.Timestamp.After(now.Add(in.cfg.MaxFutureOffset())) {
		return Verdict{Outcome: OutcomeRejected, Reason: ReasonFutureTimestamp}, nil
	}

	tr := in.track(s.DriverID)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	prev := tr.last
	if in.cfg.StaleCheckEnabled && prev != nil && !s.Timestamp.After(prev.Timestamp) {
		return Verdict{Outcome: OutcomeRejected, Reason: ReasonStale}, nil
	}

	var v Verdict
	if in.cfg.SpeedCheckEnabled && s.SpeedKmh > in.cfg.MaxSpeedKmh {
		v.Flags = append(v.Flags, FlagSpeed)
	}
	if prev != nil {
		dist, elapsed := movement(prev.Point, s.Point, prev.Timestamp, s.Timestamp)
		v.DistanceMeters = dist
		v.ComputedSpeedKmh = speedKmh(dist, elapsed)
		if in.cfg.SpeedCheckEnabled && v.ComputedSpeedKmh > in.cfg.MaxSpeedKmh && !v.Has(FlagSpeed) {
			v.Flags = append(v.Flags, FlagSpeed)
		}
		if in.cfg.JumpCheckEnabled && elapsed <= in.cfg.MaxJumpTime() && dist > in.cfg.MaxJumpMeters {
			v.Flags = append(v.Flags, FlagJump)
		}
	}

	if len(v.Flags) > 0 {
		v.ReviewRaised = in.countAnomaly(tr, now)
		if in.cfg.RejectAnomalousUpdates {
			v.Outcome = OutcomeRejected
			v.Reason = ReasonAnomalous
		} else {
			v.Outcome = OutcomeFlagged
			v.Reason = ReasonAnomalous
		}
		return v, nil
	}

	if in.cfg.IdleCheckEnabled {
		switch {
		case prev == nil || v.DistanceMeters > in.cfg.IdleToleranceMeters:
			tr.stationarySince = s.Timestamp
		case s.Timestamp.Sub(tr.stationarySince) > in.cfg.MaxIdle():
			v.Flags = append(v.Flags, FlagIdle)
		}
	}

	clean := s
	clean.Flags = v.Flags
	tr.last = &clean
	v.Outcome = OutcomeApplied
	return v, nil
}

// countAnomaly records one anomalous sample and reports whether the driver just
// reached the review limit. The counter restarts after a review is raised.
func (in *Ingestor) countAnomaly(tr *track, now time.Time) bool {
	tr.anomalies = append(pruneBefore(tr.anomalies, now.Add(-in.cfg.AnomalyWindow())), now)
	if len(tr.anomalies) >= in.cfg.MaxAnomaliesBeforeFlag {
		tr.anomalies = tr.anomalies[:0]
		return true
	}
	return false
}
