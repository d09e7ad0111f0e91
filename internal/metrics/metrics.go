// Package metrics exposes Prometheus instrumentation for the gateway:
// request counters by route/status, admission rejections, and
// per-backend health gauges, served at GET /metrics via
// promhttp.Handler().
//
// The teacher's /metrics handler (internal/server/server.go
// handleMetrics) returns hand-built fake data; this package replaces
// it with real github.com/prometheus/client_golang instrumentation,
// grounded on the retrieved other_examples/ repos that wire
// promhttp.Handler() directly into their mux (jordigilh-kubernaut,
// xentoshi-lake, pgollucci-loom).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	AdmissionRejections *prometheus.CounterVec
	AdmissionInflight   *prometheus.GaugeVec
	BackendHealthy      *prometheus.GaugeVec
	BackendReady        *prometheus.GaugeVec
}

// New registers and returns the gateway's metric collectors against
// reg (pass prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request handling latency in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		AdmissionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_admission_rejections_total",
			Help: "Requests rejected for lack of an admission slot, by backend and route kind.",
		}, []string{"backend", "route_kind"}),
		AdmissionInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_admission_inflight",
			Help: "Current in-flight admitted requests, by backend and route kind.",
		}, []string{"backend", "route_kind"}),
		BackendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_healthy",
			Help: "1 if the backend's last liveness probe succeeded, else 0.",
		}, []string{"backend"}),
		BackendReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_ready",
			Help: "1 if the backend is currently routable, else 0.",
		}, []string{"backend"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.AdmissionRejections,
		m.AdmissionInflight,
		m.BackendHealthy,
		m.BackendReady,
	)
	return m
}

// Handler returns the /metrics scrape endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveAdmission sets the per-(backend,route_kind) inflight gauge
// from an admission.Stat-shaped snapshot, called after every
// acquire/release so scrapes reflect live state without the admission
// controller importing this package.
func (m *Metrics) ObserveAdmission(backend, routeKind string, inflight float64) {
	m.AdmissionInflight.WithLabelValues(backend, routeKind).Set(inflight)
}

// ObserveAdmissionRejection increments the rejection counter for a
// backend/route_kind pair that failed TryAcquire.
func (m *Metrics) ObserveAdmissionRejection(backend, routeKind string) {
	m.AdmissionRejections.WithLabelValues(backend, routeKind).Inc()
}

// ObserveBackendHealth mirrors a health.Snapshot into the gauge pair.
func (m *Metrics) ObserveBackendHealth(backend string, healthy, ready bool) {
	m.BackendHealthy.WithLabelValues(backend).Set(boolToFloat(healthy))
	m.BackendReady.WithLabelValues(backend).Set(boolToFloat(ready))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
