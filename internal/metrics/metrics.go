// Package metrics exposes the execution core's Prometheus series:
//
//	cryptotrader_venue_calls_total{op,outcome}
//	cryptotrader_venue_retries_total{op}
//	cryptotrader_orders_total{kind,status,mode}
//	cryptotrader_positions_opened_total{side,mode}
//	cryptotrader_positions_closed_total{reason}
//	cryptotrader_open_positions
//	cryptotrader_rate_limit_waits_total{scope}
//	cryptotrader_rate_limit_wait_seconds{scope}
//	cryptotrader_reconcile_runs_total{result}
//	cryptotrader_events_dropped_total
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptotrader"

type Metrics struct {
	registry *prometheus.Registry

	venueCalls      *prometheus.CounterVec
	venueRetries    *prometheus.CounterVec
	orders          *prometheus.CounterVec
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	openPositions   prometheus.Gauge
	rateLimitWaits  *prometheus.CounterVec
	rateLimitWait   *prometheus.HistogramVec
	reconcileRuns   *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

// New builds the collectors on a private registry, plus Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		venueCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_calls_total",
			Help:      "Venue calls by operation and classified outcome.",
		}, []string{"op", "outcome"}),
		venueRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_retries_total",
			Help:      "Backoff retries issued after a retryable failure.",
		}, []string{"op"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order status changes by kind, status and mode (paper|live).",
		}, []string{"kind", "status", "mode"}),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Positions opened by side and mode.",
		}, []string{"side", "mode"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Positions closed by reason.",
		}, []string{"reason"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Currently open positions.",
		}),
		rateLimitWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Admissions that had to wait for a rate limit slot.",
		}, []string{"scope"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Scheduled wait before admission.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"scope"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation passes by result (ok|error).",
		}, []string{"result"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Change notifications dropped for slow subscribers.",
		}),
	}
	m.registry.MustRegister(
		m.venueCalls, m.venueRetries, m.orders,
		m.positionsOpened, m.positionsClosed, m.openPositions,
		m.rateLimitWaits, m.rateLimitWait, m.reconcileRuns, m.eventsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) VenueCall(op, outcome string) {
	if m == nil {
		return
	}
	m.venueCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) VenueRetry(op string) {
	if m == nil {
		return
	}
	m.venueRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) OrderStatus(kind, status string, simulated bool) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(kind, status, mode(simulated)).Inc()
}

func (m *Metrics) PositionOpened(side string, simulated bool) {
	if m == nil {
		return
	}
	m.positionsOpened.WithLabelValues(side, mode(simulated)).Inc()
	m.openPositions.Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	if m == nil {
		return
	}
	m.positionsClosed.WithLabelValues(reason).Inc()
	m.openPositions.Dec()
}

// SetOpenPositions overwrites the gauge, e.g. after a startup scan.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) RateLimitWait(scope string, seconds float64) {
	if m == nil {
		return
	}
	m.rateLimitWaits.WithLabelValues(scope).Inc()
	m.rateLimitWait.WithLabelValues(scope).Observe(seconds)
}

func (m *Metrics) ReconcileRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func mode(simulated bool) string {
	if simulated {
		return "paper"
	}
	return "live"
}
