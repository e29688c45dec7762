// Package metrics exposes Prometheus collectors for the chat core and the HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vovakirdan/dmchat/internal/core"
)

// Metrics implements core.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions is the number of sessions past the handshake.
	ActiveSessions prometheus.Gauge

	// SessionsTotal counts connection outcomes.
	// Labels: result (accepted|rejected)
	SessionsTotal *prometheus.CounterVec

	// MessagesPersisted counts chat messages written to the store.
	MessagesPersisted prometheus.Counter

	// EventsDelivered counts events queued to sessions.
	// Labels: kind
	EventsDelivered *prometheus.CounterVec

	// EventsDropped counts events discarded by full outbound queues.
	// Labels: kind
	EventsDropped *prometheus.CounterVec

	// HandlerErrors counts error events sent to clients.
	// Labels: code
	HandlerErrors *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ core.Observer = (*Metrics)(nil)

// New registers all collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dmchat",
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmchat",
			Name:      "sessions_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		MessagesPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dmchat",
			Name:      "messages_persisted_total",
			Help:      "Chat messages written to the store.",
		}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmchat",
			Name:      "events_delivered_total",
			Help:      "Events queued to session outbound queues.",
		}, []string{"kind"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmchat",
			Name:      "events_dropped_total",
			Help:      "Events discarded because an outbound queue was full.",
		}, []string{"kind"}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmchat",
			Name:      "handler_errors_total",
			Help:      "Error events sent to clients by code.",
		}, []string{"code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dmchat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),
	}
}

// Registry returns the registry to expose on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
	m.SessionsTotal.WithLabelValues("accepted").Inc()
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
}

func (m *Metrics) ConnectRejected() {
	m.SessionsTotal.WithLabelValues("rejected").Inc()
}

func (m *Metrics) MessagePersisted() {
	m.MessagesPersisted.Inc()
}

func (m *Metrics) Delivered(kind core.EventKind, n int) {
	if n > 0 {
		m.EventsDelivered.WithLabelValues(kind.String()).Add(float64(n))
	}
}

func (m *Metrics) Dropped(kind core.EventKind, n int) {
	if n > 0 {
		m.EventsDropped.WithLabelValues(kind.String()).Add(float64(n))
	}
}

func (m *Metrics) HandlerFailed(code string) {
	m.HandlerErrors.WithLabelValues(code).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
