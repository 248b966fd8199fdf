// Package metrics exports Prometheus metrics for command dispatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry and dispatch meters. It implements
// dispatcher.Observer.
type Metrics struct {
	Registry         *prometheus.Registry
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
}

// NewMetrics creates a custom registry with the cmdrpc metrics and the Go
// runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmdrpc_dispatch_total",
		Help: "Total number of command requests by disposition.",
	}, []string{"disposition"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmdrpc_dispatch_duration_seconds",
		Help:    "Time from request receipt to response, in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"disposition"})

	reg.MustRegister(total, duration, collectors.NewGoCollector())

	return &Metrics{
		Registry:         reg,
		DispatchTotal:    total,
		DispatchDuration: duration,
	}
}

// ObserveDispatch records one request.
func (m *Metrics) ObserveDispatch(disposition string, elapsed time.Duration) {
	m.DispatchTotal.WithLabelValues(disposition).Inc()
	m.DispatchDuration.WithLabelValues(disposition).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
