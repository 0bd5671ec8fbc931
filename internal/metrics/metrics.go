// Package metrics exposes gateway counters and gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remote-agent-terminal/gateway/internal/events"
)

const namespace = "termgw"

// Metrics owns a private registry so tests and embedders never collide on
// the global one.
type Metrics struct {
	registry    *prometheus.Registry
	active      prometheus.Gauge
	started     prometheus.Counter
	terminated  *prometheus.CounterVec
	connections prometheus.Gauge

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates the metrics and registers them along with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions with a running process.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Number of sessions whose process was started.",
		}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Number of terminated sessions by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Number of open gateway connections.",
		}),
		running: make(map[string]struct{}),
	}

	m.registry.MustRegister(
		m.active,
		m.started,
		m.terminated,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handle implements events.Sink.
func (m *Metrics) Handle(_ context.Context, evt events.Event) error {
	switch evt.Type {
	case events.TypeSessionStarted:
		m.mu.Lock()
		m.running[evt.SessionID] = struct{}{}
		m.mu.Unlock()
		m.started.Inc()
		m.active.Inc()

	case events.TypeSessionTerminated:
		m.mu.Lock()
		_, wasRunning := m.running[evt.SessionID]
		delete(m.running, evt.SessionID)
		m.mu.Unlock()
		if wasRunning {
			m.active.Dec()
		}
		m.terminated.WithLabelValues(string(evt.Reason)).Inc()
	}
	return nil
}

// ConnectionOpened counts a new gateway connection.
func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
}

// ConnectionClosed counts a closed gateway connection.
func (m *Metrics) ConnectionClosed() {
	m.connections.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
