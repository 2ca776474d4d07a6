// Package metrics exposes Prometheus instrumentation for the push fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatpush"

// Metrics groups the collectors used by the service. A nil *Metrics is
// valid and records nothing, which keeps unit tests free of registries.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	reconciled    prometheus.Counter
	directoryLoad *prometheus.CounterVec
	batches       prometheus.Counter
}

// New registers all collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Push requests by final HTTP status.",
		}, []string{"status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-token delivery outcomes by failure class.",
		}, []string{"class"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_removed_total",
			Help:      "Permanently invalid tokens removed from user records.",
		}),
		directoryLoad: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_loads_total",
			Help:      "Token directory loads by source (store, shared).",
		}, []string{"source"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "multicast_batches_total",
			Help:      "Multicast send calls issued.",
		}),
	}
	reg.MustRegister(m.requests, m.deliveries, m.reconciled, m.directoryLoad, m.batches)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

// ObserveDelivery counts one outcome; class is "ok" for successes.
func (m *Metrics) ObserveDelivery(class string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.Add(float64(n))
}

func (m *Metrics) ObserveDirectoryLoad(source string) {
	if m == nil {
		return
	}
	m.directoryLoad.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveBatch() {
	if m == nil {
		return
	}
	m.batches.Inc()
}
