package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application
// metrics. The metrics system is built on Prometheus and tracks:
//   - Tool calls by policy decision
//   - Escalation latency and outcome
//   - Downstream tool-server call latency and errors
//   - Egress proxy requests by allow/deny
//   - Sandboxed agent loop/stagnation and budget exhaustion
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	defer metrics.CallDuration.WithLabelValues(decision).Observe(time.Since(start).Seconds())
//	metrics.RecordDecision(decision)
type Metrics struct {
	// CallDuration measures end-to-end tool-call mediation latency.
	// Labels: decision (allow|deny|escalate)
	CallDuration *prometheus.HistogramVec

	// CallCounter counts mediated tool calls by decision.
	// Labels: decision (allow|deny|escalate)
	CallCounter *prometheus.CounterVec

	// EscalationDuration measures time spent blocked on a human decision.
	// Labels: outcome (approved|denied|expired|timeout)
	EscalationDuration *prometheus.HistogramVec

	// EscalationCounter counts escalations by outcome.
	// Labels: outcome (approved|denied|expired|timeout)
	EscalationCounter *prometheus.CounterVec

	// AutoApproveCounter counts auto-approver verdicts.
	// Labels: decision (approve|escalate)
	AutoApproveCounter *prometheus.CounterVec

	// DownstreamCallDuration measures one downstream tools/call RPC.
	// Labels: server, tool, status (success|error)
	DownstreamCallDuration *prometheus.HistogramVec

	// DownstreamErrors counts downstream server errors.
	// Labels: server, kind (crash|rpc_error|schema_mismatch)
	DownstreamErrors *prometheus.CounterVec

	// EgressRequests counts proxied HTTPS requests by provider and verdict.
	// Labels: provider (the upstream host), verdict (allow or the deny
	// reason, e.g. endpoint-denied|missing-fake-key|upstream-error)
	EgressRequests *prometheus.CounterVec

	// EgressRequestDuration measures one proxied HTTPS request.
	// Labels: provider
	EgressRequestDuration *prometheus.HistogramVec

	// SandboxLoopClassification counts loop-detector classifications.
	// Labels: classification (full-progress|world-changed|stuck|full-stagnation)
	SandboxLoopClassification *prometheus.CounterVec

	// BudgetExhausted counts sessions that hit a resource budget limit.
	// Labels: dimension (tokens|steps|wall_clock|usd)
	BudgetExhausted *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// AuditWriteDuration measures append+fsync latency for the audit log.
	AuditWriteDuration prometheus.Histogram

	// RedactionCounter counts values redacted by category.
	// Labels: category (credit-card|ssn|api-key)
	RedactionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. This should be
// called once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		CallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironcurtain_tool_call_duration_seconds",
				Help:    "Duration of mediated tool calls in seconds by policy decision",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"decision"},
		),
		CallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_tool_calls_total",
				Help: "Total number of mediated tool calls by policy decision",
			},
			[]string{"decision"},
		),
		EscalationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironcurtain_escalation_duration_seconds",
				Help:    "Duration a tool call spent blocked on human escalation",
				Buckets: []float64{0.25, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		EscalationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_escalations_total",
				Help: "Total number of escalations by outcome",
			},
			[]string{"outcome"},
		),
		AutoApproveCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_autoapprove_verdicts_total",
				Help: "Total number of auto-approver verdicts",
			},
			[]string{"decision"},
		),
		DownstreamCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironcurtain_downstream_call_duration_seconds",
				Help:    "Duration of downstream tools/call RPCs in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"server", "tool", "status"},
		),
		DownstreamErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_downstream_errors_total",
				Help: "Total number of downstream server errors by kind",
			},
			[]string{"server", "kind"},
		),
		EgressRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_egress_requests_total",
				Help: "Total number of egress-proxied HTTPS requests by provider and verdict",
			},
			[]string{"provider", "verdict"},
		),
		EgressRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironcurtain_egress_request_duration_seconds",
				Help:    "Duration of egress-proxied HTTPS requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),
		SandboxLoopClassification: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_sandbox_loop_classifications_total",
				Help: "Total number of sandboxed-agent loop-detector classifications",
			},
			[]string{"classification"},
		),
		BudgetExhausted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_budget_exhausted_total",
				Help: "Total number of sessions that exhausted a resource budget dimension",
			},
			[]string{"dimension"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ironcurtain_active_sessions",
				Help: "Current number of active sessions",
			},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ironcurtain_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),
		AuditWriteDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ironcurtain_audit_write_duration_seconds",
				Help:    "Duration of append+fsync audit log writes in seconds",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		RedactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironcurtain_redactions_total",
				Help: "Total number of values redacted by category",
			},
			[]string{"category"},
		),
	}
}

// RecordDecision records one mediated tool call's terminal policy
// decision.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.CallCounter.WithLabelValues(decision).Inc()
}

// RecordEscalation records one completed escalation (state
// machine: pending -> approved|denied|expired, plus the requester-side
// timeout outcome).
func (m *Metrics) RecordEscalation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EscalationCounter.WithLabelValues(outcome).Inc()
	m.EscalationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAutoApprove records one auto-approver verdict (always
// approve or escalate, never deny).
func (m *Metrics) RecordAutoApprove(decision string) {
	if m == nil {
		return
	}
	m.AutoApproveCounter.WithLabelValues(decision).Inc()
}

// RecordDownstreamCall records one downstream tools/call RPC.
func (m *Metrics) RecordDownstreamCall(server, tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DownstreamCallDuration.WithLabelValues(server, tool, status).Observe(duration.Seconds())
}

// RecordDownstreamError records one downstream server failure: a
// subprocess crash, a JSON-RPC error, or a schema validation failure.
func (m *Metrics) RecordDownstreamError(server, kind string) {
	if m == nil {
		return
	}
	m.DownstreamErrors.WithLabelValues(server, kind).Inc()
}

// RecordEgressRequest records one egress-proxied HTTPS request.
func (m *Metrics) RecordEgressRequest(provider, verdict string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EgressRequests.WithLabelValues(provider, verdict).Inc()
	m.EgressRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordLoopClassification records one loop-detector classification.
func (m *Metrics) RecordLoopClassification(classification string) {
	if m == nil {
		return
	}
	m.SandboxLoopClassification.WithLabelValues(classification).Inc()
}

// RecordBudgetExhausted records a session's budget tracker tripping on
// one dimension.
func (m *Metrics) RecordBudgetExhausted(dimension string) {
	if m == nil {
		return
	}
	m.BudgetExhausted.WithLabelValues(dimension).Inc()
}

// RecordRedaction records one value masked by the redactor.
func (m *Metrics) RecordRedaction(category string) {
	if m == nil {
		return
	}
	m.RedactionCounter.WithLabelValues(category).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records session
// duration.
func (m *Metrics) SessionEnded(duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// ObserveCall records one mediated call's end-to-end latency, labeled by
// its terminal decision.
func (m *Metrics) ObserveCall(decision string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(decision).Observe(duration.Seconds())
}
