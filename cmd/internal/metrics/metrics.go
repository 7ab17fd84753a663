// Package metrics owns the service's Prometheus registry and collectors.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ssogate"

type Metrics struct {
	registry *prometheus.Registry

	gateOutcomes    *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	httpRequests    *prometheus.HistogramVec
	streamClients   prometheus.Gauge
	auditEntries    *prometheus.CounterVec
}

// New builds a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		gateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_outcomes_total",
			Help:      "Verification gate decisions by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Silent refresh attempts by result.",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Identity provider call latency.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"class"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_stream_clients",
			Help:      "Connected live audit log stream clients.",
		}),
		auditEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Audit log entries appended by level.",
		}, []string{"level"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gateOutcomes,
		m.refreshes,
		m.providerLatency,
		m.httpRequests,
		m.streamClients,
		m.auditEntries,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) GateOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.gateOutcomes.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) RefreshResult(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveProviderRequest(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(op, result).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(class string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(class).Observe(d.Seconds())
}

func (m *Metrics) StreamClientConnected() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *Metrics) StreamClientDisconnected() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}

func (m *Metrics) AuditEntry(level string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(level).Inc()
}
