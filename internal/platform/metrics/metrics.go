package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Forbidden reasons.
const (
	ReasonDevice = "device"
	ReasonToken  = "token"
)

// Cast results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds Prometheus counters and gauges for castnote.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	forbiddenTotal  *prometheus.CounterVec
	notFoundTotal   prometheus.Counter
	devicesObserved prometheus.Counter
	castsTotal      *prometheus.CounterVec
	activeCast      prometheus.Gauge
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castnote_requests_total",
		Help: "Total number of content server requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castnote_errors_total",
		Help: "Total number of content server responses with status 4xx or 5xx",
	})
	forbiddenTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "castnote_forbidden_total",
		Help: "Requests rejected with 403, by reason",
	}, []string{"reason"})
	notFoundTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castnote_not_found_total",
		Help: "Authorized requests answered with 404",
	})
	devicesObserved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castnote_devices_observed_total",
		Help: "Receivers reported to a discovery session",
	})
	castsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "castnote_casts_total",
		Help: "Load commands issued to receivers, by result",
	}, []string{"result"})
	activeCast := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "castnote_active_cast",
		Help: "1 while a receiver is showing the served document",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		forbiddenTotal,
		notFoundTotal,
		devicesObserved,
		castsTotal,
		activeCast,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		forbiddenTotal:  forbiddenTotal,
		notFoundTotal:   notFoundTotal,
		devicesObserved: devicesObserved,
		castsTotal:      castsTotal,
		activeCast:      activeCast,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncForbidden counts a 403 for reason (ReasonDevice or ReasonToken).
func (m *Metrics) IncForbidden(reason string) {
	m.forbiddenTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncNotFound() {
	m.notFoundTotal.Inc()
}

func (m *Metrics) IncDevicesObserved() {
	m.devicesObserved.Inc()
}

// IncCasts counts a load command by result (ResultOK or ResultError).
func (m *Metrics) IncCasts(result string) {
	m.castsTotal.WithLabelValues(result).Inc()
}

// SetActiveCast sets the active cast gauge.
func (m *Metrics) SetActiveCast(active bool) {
	if active {
		m.activeCast.Set(1)
		return
	}
	m.activeCast.Set(0)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
