// Package metrics provides Prometheus metrics for the relay and the edge gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Agent invocations routinely take tens of seconds to finish streaming.
var agentBuckets = []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120}

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	SessionsTotal       *prometheus.CounterVec
	SessionDuration     *prometheus.HistogramVec
	ChunksRelayed       prometheus.Counter
	BytesRelayed        prometheus.Counter
	AgentInvokeDuration prometheus.Histogram

	Normalizations *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "review_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: agentBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "review_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "review_gateway_origin_request_duration_seconds",
			Help:    "Time to first byte from the signed origin in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_gateway_origin_responses_total",
			Help: "Total origin responses by method and status code.",
		}, []string{"method", "status_code"}),

		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_gateway_relay_sessions_total",
			Help: "Relay sessions by terminal state.",
		}, []string{"state"}),

		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "review_gateway_relay_session_duration_seconds",
			Help:    "Relay session lifetime from receipt to terminal state.",
			Buckets: agentBuckets,
		}, []string{"state"}),

		ChunksRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_gateway_relay_chunks_total",
			Help: "Agent chunks written to clients.",
		}),

		BytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_gateway_relay_bytes_total",
			Help: "Agent payload bytes written to clients.",
		}),

		AgentInvokeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "review_gateway_agent_invoke_duration_seconds",
			Help:    "Time for the agent invocation to be established.",
			Buckets: agentBuckets,
		}),

		Normalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_gateway_edge_normalizations_total",
			Help: "Content-hash normalizer runs by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.SessionsTotal,
		m.SessionDuration,
		m.ChunksRelayed,
		m.BytesRelayed,
		m.AgentInvokeDuration,
		m.Normalizations,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/api/review", "/healthz", "/status", "/metrics", "/_edge"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
