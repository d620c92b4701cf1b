// README: Prometheus collectors for ingest, matching and the zone schedulers.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "honeycomb"

// Metrics implements the Metrics interfaces of the location, matching and dispatch packages.
type Metrics struct {
	pings         *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	matches       *prometheus.CounterVec
	matchLatency  *prometheus.HistogramVec
	offers        *prometheus.CounterVec
	lostReserve   prometheus.Counter
	tickLatency   *prometheus.HistogramVec
	surging       *prometheus.GaugeVec
	sinkFailures  *prometheus.CounterVec
	rowsFlushed   *prometheus.CounterVec
	retryPending  *prometheus.GaugeVec
	writesDropped *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registerer when reg is nil.
// Collectors already registered under the same name are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "location_pings_total",
			Help: "Location samples processed, by outcome.",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "location_anomalies_total",
			Help: "Anomaly flags raised on location samples.",
		}, []string{"flag"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "match_outcomes_total",
			Help: "Finished match attempts, by outcome.",
		}, []string{"outcome"}),
		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "match_duration_seconds",
			Help:    "Time from match start to outcome.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		}, []string{"outcome"}),
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "match_offers_total",
			Help: "Driver offers, by result.",
		}, []string{"result"}),
		lostReserve: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "match_reservations_lost_total",
			Help: "Candidates taken by a concurrent match before they could be reserved.",
		}),
		tickLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "zone_tick_duration_seconds",
			Help:    "Duration of a zone scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"zone"}),
		surging: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "zone_surging_cells",
			Help: "Cells currently surging.",
		}, []string{"zone"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metrics_sink_failures_total",
			Help: "Failed writes to the cell metrics sink.",
		}, []string{"zone"}),
		rowsFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metrics_sink_rows_total",
			Help: "Cell window rows written to the sink.",
		}, []string{"zone"}),
		retryPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "metrics_sink_pending_writes",
			Help: "Sink writes waiting in the retry queue.",
		}, []string{"zone"}),
		writesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metrics_sink_dropped_writes_total",
			Help: "Sink writes evicted from a full retry queue.",
		}, []string{"zone"}),
	}
	var err error
	if m.pings, err = register(reg, m.pings); err != nil {
		return nil, err
	}
	if m.anomalies, err = register(reg, m.anomalies); err != nil {
		return nil, err
	}
	if m.matches, err = register(reg, m.matches); err != nil {
		return nil, err
	}
	if m.matchLatency, err = register(reg, m.matchLatency); err != nil {
		return nil, err
	}
	if m.offers, err = register(reg, m.offers); err != nil {
		return nil, err
	}
	if m.lostReserve, err = register(reg, m.lostReserve); err != nil {
		return nil, err
	}
	if m.tickLatency, err = register(reg, m.tickLatency); err != nil {
		return nil, err
	}
	if m.surging, err = register(reg, m.surging); err != nil {
		return nil, err
	}
	if m.sinkFailures, err = register(reg, m.sinkFailures); err != nil {
		return nil, err
	}
	if m.rowsFlushed, err = register(reg, m.rowsFlushed); err != nil {
		return nil, err
	}
	if m.retryPending, err = register(reg, m.retryPending); err != nil {
		return nil, err
	}
	if m.writesDropped, err = register(reg, m.writesDropped); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) PingProcessed(outcome string) { m.pings.WithLabelValues(outcome).Inc() }
func (m *Metrics) AnomalyFlagged(flag string)   { m.anomalies.WithLabelValues(flag).Inc() }

func (m *Metrics) MatchCompleted(outcome string, elapsed time.Duration) {
	m.matches.WithLabelValues(outcome).Inc()
	m.matchLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ReservationLost()           { m.lostReserve.Inc() }
func (m *Metrics) OfferResolved(result string) { m.offers.WithLabelValues(result).Inc() }

func (m *Metrics) TickCompleted(zoneID string, elapsed time.Duration) {
	m.tickLatency.WithLabelValues(zoneID).Observe(elapsed.Seconds())
}

func (m *Metrics) SurgingCells(zoneID string, n int) { m.surging.WithLabelValues(zoneID).Set(float64(n)) }
func (m *Metrics) SinkFailed(zoneID string)          { m.sinkFailures.WithLabelValues(zoneID).Inc() }
func (m *Metrics) RowsFlushed(zoneID string, n int) {
	m.rowsFlushed.WithLabelValues(zoneID).Add(float64(n))
}
func (m *Metrics) RetryPending(zoneID string, n int) {
	m.retryPending.WithLabelValues(zoneID).Set(float64(n))
}
func (m *Metrics) WritesDropped(zoneID string) { m.writesDropped.WithLabelValues(zoneID).Inc() }
