// README: One zone's tick: resolution changes, surge evaluation, rollover and the sink retry queue.
package dispatch

import (
	"context"
	"time"

	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/cellmetrics"
	"honeycomb/internal/modules/pricing"
)

// pendingWrite is one tick's sink output that has not been written yet.
type pendingWrite struct {
	rows   []cellmetrics.CellWindowMetric
	epochs []pricing.SurgeEpoch
}

// TickReport summarises one zone tick.
type TickReport struct {
	ZoneID            string
	At                time.Time
	Resolution        int
	ResolutionChanged bool
	Decisions         []pricing.Decision
	Closed            *aggregator.ClosedWindow
	RowsFlushed       int
	Pending           int
	Dropped           int
	Published         int
}

// zoneRunner owns the surge engine of one zone. Only its goroutine calls tick.
type zoneRunner struct {
	id     string
	m      *Manager
	engine *pricing.Engine
	queue  []pendingWrite
	wake   chan struct{}

	// dropped counts writes evicted from a full queue during the current tick.
	dropped int
}

func newZoneRunner(m *Manager, id string) *zoneRunner {
	return &zoneRunner{id: id, m: m, engine: pricing.NewEngine(id), wake: make(chan struct{}, 1)}
}

func (r *zoneRunner) run(ctx context.Context) {
	for {
		cfg := r.m.zones.Get(ctx, r.id)
		now := r.m.now()
		interval := cfg.Interval()
		wait := now.Truncate(interval).Add(interval).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.drain()
			return
		case <-r.wake:
			timer.Stop()
			r.reconfigure(ctx)
		case <-timer.C:
			r.tick(ctx)
		}
	}
}

// notify asks the runner to re-read its configuration.
func (r *zoneRunner) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// reconfigure applies a resolution change without waiting for the next tick.
func (r *zoneRunner) reconfigure(ctx context.Context) {
	cfg := r.m.zones.Get(ctx, r.id)
	z, err := r.m.agg.EnsureZone(r.id, cfg.H3Resolution)
	if err != nil {
		r.m.log.Errorf("zone %s: %v", r.id, err)
		return
	}
	if r.applyResolution(ctx, z, cfg.H3Resolution, cfg.WindowMinutes()) {
		r.flush(ctx)
	}
}

func (r *zoneRunner) applyResolution(_ context.Context, z *aggregator.Zone, res, windowMinutes int) bool {
	if z.Resolution() == res {
		return false
	}
	now := r.m.now()
	closed, err := z.SetResolution(res, now)
	if err != nil {
		r.m.log.Errorf("zone %s: set resolution %d: %v", r.id, res, err)
		return false
	}
	epochs := r.engine.CloseAll(now)
	r.m.log.Infof("zone %s re-indexed at resolution %d; closed %d surge epochs", r.id, res, len(epochs))
	w := pendingWrite{epochs: epochs}
	if closed != nil {
		w.rows = cellmetrics.FromClosedWindow(closed, windowMinutes)
	}
	r.enqueue(w)
	return true
}

func (r *zoneRunner) tick(ctx context.Context) TickReport {
	started := r.m.now()
	cfg := r.m.zones.Get(ctx, r.id)
	rep := TickReport{ZoneID: r.id, At: started}
	z, err := r.m.agg.EnsureZone(r.id, cfg.H3Resolution)
	if err != nil {
		r.m.log.Errorf("zone %s: %v", r.id, err)
		return rep
	}
	r.dropped = 0
	rep.ResolutionChanged = r.applyResolution(ctx, z, cfg.H3Resolution, cfg.WindowMinutes())
	rep.Resolution = z.Resolution()

	active := z.ActiveCells()
	inputs := make([]pricing.Input, 0, len(active))
	for _, c := range active {
		inputs = append(inputs, pricing.Input{CellID: c.CellID, Supply: c.SupplyTotal(), Demand: c.DemandTotal()})
	}
	rep.Decisions = r.engine.Evaluate(cfg, inputs, started)

	w := z.CurrentWindow()
	var epochs []pricing.SurgeEpoch
	open := map[string]pricing.SurgeEpoch{}
	for _, ep := range r.engine.OpenEpochs() {
		open[ep.CellID] = ep
	}
	for _, d := range rep.Decisions {
		w.Record(d.CellID, aggregator.CellPricing{Imbalance: d.Imbalance, Multiplier: d.Multiplier, Incentive: d.Incentive.Amount})
		switch {
		case d.Closed != nil:
			epochs = append(epochs, *d.Closed)
		case d.Opened != nil:
			epochs = append(epochs, *d.Opened)
		case d.Changed && d.State == pricing.StateSurging:
			if ep, ok := open[d.CellID]; ok {
				epochs = append(epochs, ep)
			}
		}
	}

	rep.Closed = z.Rollover(started)
	r.enqueue(pendingWrite{rows: cellmetrics.FromClosedWindow(rep.Closed, cfg.WindowMinutes()), epochs: epochs})
	rep.Dropped = r.dropped
	rep.RowsFlushed = r.flush(ctx)
	rep.Pending = len(r.queue)

	if cells := changedCells(rep.Decisions); len(cells) > 0 && r.m.publisher != nil {
		u := PricingUpdate{ZoneID: r.id, Resolution: rep.Resolution, At: started, Cells: cells}
		pctx, cancel := context.WithTimeout(ctx, r.m.flushTimeout)
		if err := r.m.publisher.PublishPricing(pctx, u); err != nil {
			r.m.log.Warnf("zone %s: publish pricing: %v", r.id, err)
		} else {
			rep.Published = len(cells)
		}
		cancel()
	}

	if r.m.metrics != nil {
		r.m.metrics.TickCompleted(r.id, r.m.now().Sub(started))
		r.m.metrics.SurgingCells(r.id, len(r.engine.Surging()))
		r.m.metrics.RetryPending(r.id, rep.Pending)
	}
	r.m.log.Debugw("zone tick", map[string]any{
		"zone_id": r.id, "cells": len(rep.Decisions), "surging": len(r.engine.Surging()),
		"flushed": rep.RowsFlushed, "pending": rep.Pending, "published": rep.Published,
	})
	if r.m.onTick != nil {
		r.m.onTick(rep)
	}
	return rep
}

// enqueue appends to the retry queue, dropping the oldest write when it is full.
func (r *zoneRunner) enqueue(w pendingWrite) {
	if len(w.rows) == 0 && len(w.epochs) == 0 {
		return
	}
	r.queue = append(r.queue, w)
	for len(r.queue) > r.m.queueSize {
		lost := r.queue[0]
		r.queue = r.queue[1:]
		r.dropped++
		if r.m.metrics != nil {
			r.m.metrics.WritesDropped(r.id)
		}
		r.m.log.Errorf("zone %s: retry queue full; dropped %d window rows and %d epochs", r.id, len(lost.rows), len(lost.epochs))
	}
}

// flush writes queued output oldest first and stops at the first failure.
func (r *zoneRunner) flush(ctx context.Context) int {
	written := 0
	for len(r.queue) > 0 {
		w := r.queue[0]
		fctx, cancel := context.WithTimeout(ctx, r.m.flushTimeout)
		err := r.m.sink.WriteWindow(fctx, w.rows)
		if err == nil {
			err = r.m.sink.WriteEpochs(fctx, w.epochs)
		}
		cancel()
		if err != nil {
			if r.m.metrics != nil {
				r.m.metrics.SinkFailed(r.id)
			}
			r.m.log.Warnf("zone %s: metrics sink: %v (%d writes pending)", r.id, err, len(r.queue))
			return written
		}
		written += len(w.rows)
		if r.m.metrics != nil {
			r.m.metrics.RowsFlushed(r.id, len(w.rows))
		}
		r.queue = r.queue[1:]
	}
	return written
}

// drain makes a last attempt to write queued output on shutdown.
func (r *zoneRunner) drain() {
	if len(r.queue) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.m.flushTimeout)
	defer cancel()
	r.flush(ctx)
	if len(r.queue) > 0 {
		r.m.log.Errorf("zone %s: %d sink writes lost on shutdown", r.id, len(r.queue))
	}
}
