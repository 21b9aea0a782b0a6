// Package metrics defines the kernel's Prometheus counters. A nil *Metrics is
// valid and records nothing, so systems can be constructed without a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "steward"

// Metrics holds the collectors registered against a private registry.
type Metrics struct {
	registry *prometheus.Registry

	signals     *prometheus.CounterVec
	exceptions  *prometheus.CounterVec
	evaluations *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	approvals   *prometheus.CounterVec
	agents      *prometheus.CounterVec
	violations  *prometheus.CounterVec
}

// New creates and registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_ingested_total",
			Help:      "Signals received, by outcome (created or duplicate).",
		}, []string{"outcome"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exceptions_total",
			Help:      "Exception deduplication outcomes (raised or merged), by pack.",
		}, []string{"outcome", "pack"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Policy evaluations, by result and whether a stored result was replayed.",
		}, []string{"result", "replayed"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_recorded_total",
			Help:      "Decisions committed to the ledger, by decision type.",
		}, []string{"decision_type"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_transitions_total",
			Help:      "Approval queue transitions, by action type and target status.",
		}, []string{"action_type", "status"}),
		agents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_traces_total",
			Help:      "Agent execution lifecycle events, by agent type and status.",
		}, []string{"agent_type", "status"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "immutability_violations_total",
			Help:      "Rejected attempts to mutate append-only tables.",
		}, []string{"table"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signals,
		m.exceptions,
		m.evaluations,
		m.decisions,
		m.approvals,
		m.agents,
		m.violations,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SignalIngested(created bool) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(outcome(created, "created", "duplicate")).Inc()
}

func (m *Metrics) ExceptionDeduplicated(created bool, pack string) {
	if m == nil {
		return
	}
	m.exceptions.WithLabelValues(outcome(created, "raised", "merged"), pack).Inc()
}

func (m *Metrics) EvaluationRecorded(result string, created bool) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(result, outcome(created, "false", "true")).Inc()
}

func (m *Metrics) DecisionRecorded(decisionType string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decisionType).Inc()
}

func (m *Metrics) ApprovalTransition(actionType, status string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(actionType, status).Inc()
}

func (m *Metrics) AgentTrace(agentType, status string) {
	if m == nil {
		return
	}
	m.agents.WithLabelValues(agentType, status).Inc()
}

func (m *Metrics) ImmutabilityViolation(table string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(table).Inc()
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
