package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	registry *prometheus.Registry

	// Orchestration metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Completion metrics
	CompletionCallsTotal   *prometheus.CounterVec
	CompletionCallDuration prometheus.Histogram

	// Store metrics
	StoreFallbacksTotal prometheus.Counter
	SessionLoadDuration prometheus.Histogram
	SessionSaveDuration prometheus.Histogram

	// Transport metrics
	ClientsConnected      prometheus.Gauge
	MessagesReceivedTotal prometheus.Counter
	RepliesSentTotal      prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_cycles_total",
				Help: "Total orchestration cycles by outcome",
			},
			[]string{"status"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_cycle_duration_seconds",
				Help:    "Duration of orchestration cycles",
				Buckets: prometheus.DefBuckets,
			},
		),

		CompletionCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_completion_calls_total",
				Help: "Total completion-service calls by failure kind",
			},
			[]string{"kind"},
		),
		CompletionCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_completion_call_duration_seconds",
				Help:    "Duration of completion-service calls including retries",
				Buckets: prometheus.DefBuckets,
			},
		),

		StoreFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_store_fallbacks_total",
				Help: "Total requests served by the in-memory fallback buffer",
			},
		),
		SessionLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_session_load_duration_seconds",
				Help:    "Duration of session history loads",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		SessionSaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_session_save_duration_seconds",
				Help:    "Duration of session message appends",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		ClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_clients_connected",
				Help: "Currently connected WebSocket clients",
			},
		),
		MessagesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_messages_received_total",
				Help: "Total inbound chat messages",
			},
		),
		RepliesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_replies_sent_total",
				Help: "Total outbound reply events",
			},
		),
	}

	registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.CompletionCallsTotal,
		m.CompletionCallDuration,
		m.StoreFallbacksTotal,
		m.SessionLoadDuration,
		m.SessionSaveDuration,
		m.ClientsConnected,
		m.MessagesReceivedTotal,
		m.RepliesSentTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
