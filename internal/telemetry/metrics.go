// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	// UpstreamDuration/UpstreamErrors cover the ForwardProxy's calls
	// to a backend (local llama-server child or remote ApiAlias),
	// labeled by backend kind so the two failure domains are visible
	// separately.
	UpstreamDuration *prometheus.HistogramVec // labels: backend
	UpstreamErrors   *prometheus.CounterVec   // labels: backend, reason

	// CircuitBreakerState/Rejects report the per-ApiAlias breaker
	// forward.Proxy gates remote calls through.
	CircuitBreakerState   *prometheus.GaugeVec   // labels: alias_id; value: 0=closed, 1=open, 2=half_open
	CircuitBreakerRejects *prometheus.CounterVec // labels: alias_id
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bodhi",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "bodhi",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bodhi",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bodhi",
			Name:      "upstream_duration_seconds",
			Help:      "Duration of forwarded requests to a local or remote backend.",
		}, []string{"backend"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bodhi",
			Name:      "upstream_errors_total",
			Help:      "Total forwarding failures, by backend kind and reason.",
		}, []string{"backend", "reason"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bodhi",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per API alias (0=closed, 1=open, 2=half_open).",
		}, []string{"alias_id"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bodhi",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by an open circuit breaker.",
		}, []string{"alias_id"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
