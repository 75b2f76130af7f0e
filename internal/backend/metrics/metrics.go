// Package metrics exposes Prometheus instrumentation for the collection
// operations.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "gallerystore"
	subsystem = "collection"
)

// Metrics implements the collection hooks on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	warnings   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Collection operations by outcome",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Collection operation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conflicts_total",
			Help:      "Requests rejected because the parent gate was held",
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "id_resync_retries_total",
			Help:      "Inserts retried after resynchronizing the asset id sequence",
		}, []string{"operation"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "warnings_total",
			Help:      "Non-fatal anomalies such as failed blob deletes or adjacency pairing",
		}, []string{"operation", "kind"}),
	}
	m.registry.MustRegister(m.operations, m.latency, m.conflicts, m.retries, m.warnings)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) ObserveOperation(name, status string, dur time.Duration) {
	if m == nil {
		return
	}
	name = strings.TrimSpace(name)
	m.operations.WithLabelValues(name, strings.TrimSpace(status)).Inc()
	m.latency.WithLabelValues(name).Observe(dur.Seconds())
}

func (m *Metrics) IncConflict(name string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(strings.TrimSpace(name)).Inc()
}

func (m *Metrics) IncRetry(name string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(strings.TrimSpace(name)).Inc()
}

func (m *Metrics) IncWarning(name, kind string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(strings.TrimSpace(name), strings.TrimSpace(kind)).Inc()
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
