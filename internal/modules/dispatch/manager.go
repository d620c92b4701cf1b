// README: Manager starts one tick goroutine per zone, flushes driver dwell and reacts to settings changes.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"honeycomb/internal/config"
	"honeycomb/internal/logger"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/cellmetrics"
	"honeycomb/internal/modules/zoneconfig"
)

type ZoneConfigs interface {
	Get(ctx context.Context, zoneID string) zoneconfig.ZoneDispatchConfig
}

type Metrics interface {
	TickCompleted(zoneID string, elapsed time.Duration)
	SurgingCells(zoneID string, n int)
	SinkFailed(zoneID string)
	RowsFlushed(zoneID string, n int)
	RetryPending(zoneID string, n int)
	WritesDropped(zoneID string)
}

type Deps struct {
	Aggregator  *aggregator.Aggregator
	Zones       ZoneConfigs
	Sink        cellmetrics.Sink
	Publisher   Publisher
	Dwell       *cellmetrics.DwellBuffer
	DwellWriter cellmetrics.DwellWriter
	Metrics     Metrics
	Log         logger.Logger
	Now         func() time.Time
}

const discoverInterval = 5 * time.Second

type Manager struct {
	agg         *aggregator.Aggregator
	zones       ZoneConfigs
	sink        cellmetrics.Sink
	publisher   Publisher
	dwell       *cellmetrics.DwellBuffer
	dwellWriter cellmetrics.DwellWriter
	metrics     Metrics
	log         logger.Logger
	now         func() time.Time

	boot         []string
	queueSize    int
	flushTimeout time.Duration
	dwellEvery   time.Duration

	mu      sync.Mutex
	ctx     context.Context
	runners map[string]*zoneRunner
	manual  map[string]*zoneRunner
	wg      sync.WaitGroup

	onTick func(TickReport)
}

func NewManager(cfg config.SchedulerConfig, d Deps) *Manager {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	return &Manager{
		agg:          d.Aggregator,
		zones:        d.Zones,
		sink:         d.Sink,
		publisher:    d.Publisher,
		dwell:        d.Dwell,
		dwellWriter:  d.DwellWriter,
		metrics:      d.Metrics,
		log:          d.Log,
		now:          d.Now,
		boot:         cfg.Zones,
		queueSize:    cfg.RetryQueueSize,
		flushTimeout: time.Duration(cfg.FlushTimeoutSeconds) * time.Second,
		dwellEvery:   time.Duration(cfg.DwellFlushSeconds) * time.Second,
		runners:      map[string]*zoneRunner{},
	}
}

// Run blocks until ctx is done. Zones listed in the scheduler config start at once;
// zones first seen through traffic start within a few seconds. settings may be nil.
func (m *Manager) Run(ctx context.Context, settings <-chan zoneconfig.Invalidation) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	for _, id := range m.boot {
		m.ensure(id)
	}
	m.discover()

	discover := time.NewTicker(discoverInterval)
	defer discover.Stop()
	dwell := time.NewTicker(m.dwellEvery)
	defer dwell.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			fctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
			m.flushDwell(fctx)
			cancel()
			m.log.Infof("zone schedulers stopped")
			return nil
		case <-discover.C:
			m.discover()
		case <-dwell.C:
			m.flushDwell(ctx)
		case inv, ok := <-settings:
			if !ok {
				settings = nil
				continue
			}
			m.Invalidate(inv.ZoneID)
		}
	}
}

func (m *Manager) discover() {
	for _, z := range m.agg.Zones() {
		m.ensure(z.ID())
	}
}

// ensure starts the zone's tick goroutine once Run is active.
func (m *Manager) ensure(zoneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[zoneID]; ok || m.ctx == nil || m.ctx.Err() != nil {
		return
	}
	r := newZoneRunner(m, zoneID)
	m.runners[zoneID] = r
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.run(m.ctx)
	}()
	m.log.Infof("zone %s scheduler started", zoneID)
}

// Invalidate makes the zone's runner re-read its settings; an empty id reaches every zone.
func (m *Manager) Invalidate(zoneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.runners {
		if zoneID == "" || id == zoneID {
			r.notify()
		}
	}
}

// Zones lists zones with a running scheduler.
func (m *Manager) Zones() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.runners))
	for id := range m.runners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) flushDwell(ctx context.Context) {
	if m.dwell == nil || m.dwellWriter == nil {
		return
	}
	n, err := m.dwell.Flush(ctx, m.dwellWriter)
	if err != nil {
		m.log.Warnf("flush driver dwell: %v", err)
		return
	}
	if n > 0 {
		m.log.Debugf("flushed %d driver dwell rows", n)
	}
}

// tickNow runs one tick of zoneID on the caller's goroutine. The runner it uses is
// never started by Run.
func (m *Manager) tickNow(ctx context.Context, zoneID string) TickReport {
	m.mu.Lock()
	if m.manual == nil {
		m.manual = map[string]*zoneRunner{}
	}
	r, ok := m.manual[zoneID]
	if !ok {
		r = newZoneRunner(m, zoneID)
		m.manual[zoneID] = r
	}
	m.mu.Unlock()
	return r.tick(ctx)
}
