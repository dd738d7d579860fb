// Package telemetry provides observability for the exploration runtime.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the exploration runtime.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal  *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	pollAttempts     *prometheus.HistogramVec
	gateDecisions    *prometheus.CounterVec
	knowledgeWrites  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidbcloud_skills_operations_total",
			Help: "Executed operations by SUT, operation id and status.",
		}, []string{"sut", "operation", "status"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tidbcloud_skills_operation_duration_seconds",
			Help:    "Operation execution duration.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"sut", "operation"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tidbcloud_skills_poll_attempts",
			Help:    "Attempts consumed per polling run.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60},
		}, []string{"sut", "operation"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidbcloud_skills_gate_decisions_total",
			Help: "Intervention gate decisions by kind.",
		}, []string{"sut", "gate"}),
		knowledgeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidbcloud_skills_knowledge_writes_total",
			Help: "Knowledge store mutations by entity kind.",
		}, []string{"sut", "kind"}),
	}

	reg.MustRegister(
		m.operationsTotal,
		m.operationSeconds,
		m.pollAttempts,
		m.gateDecisions,
		m.knowledgeWrites,
	)
	return m
}

// RecordOperation records one executed operation.
func (m *Metrics) RecordOperation(sut, operation, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(sut, operation, status).Inc()
	m.operationSeconds.WithLabelValues(sut, operation).Observe(duration.Seconds())
}

// RecordPoll records the attempts consumed by one polling run.
func (m *Metrics) RecordPoll(sut, operation string, attempts int) {
	m.pollAttempts.WithLabelValues(sut, operation).Observe(float64(attempts))
}

// RecordGate records an intervention gate decision.
func (m *Metrics) RecordGate(sut, gate string) {
	m.gateDecisions.WithLabelValues(sut, gate).Inc()
}

// RecordKnowledgeWrite records a knowledge store mutation.
func (m *Metrics) RecordKnowledgeWrite(sut, kind string) {
	m.knowledgeWrites.WithLabelValues(sut, kind).Inc()
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
