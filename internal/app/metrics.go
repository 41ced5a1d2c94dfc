package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeSettled = "settled"
	outcomeUndone  = "undone"
	outcomeRefused = "refused"
)

// Metrics owns a private registry so tests can build as many services as
// they like without colliding on the default registerer.
type Metrics struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	undos        *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkit_transitions_total",
			Help: "Review transitions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		undos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkit_optimistic_undo_total",
			Help: "Optimistic cache patches reverted after an upstream failure.",
		}, []string{"operation"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkit_cache_lookups_total",
			Help: "Review cache lookups by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.transitions,
		m.undos,
		m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) transition(operation, outcome string) {
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) undo(operation string) {
	m.undos.WithLabelValues(operation).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
