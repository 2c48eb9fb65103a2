// Package metrics exposes Prometheus metrics of the orchestrator.
//
// Metrics live on a private registry so tests can build as many instances as
// they like without duplicate registration panics.
//
// Metrics:
//   - tutor_orchestrator_requests_total{action,outcome}
//   - tutor_orchestrator_request_duration_seconds{action}
//   - tutor_orchestrator_state_transitions_total{from,to}
//   - tutor_orchestrator_action_failures_total{state}
//   - tutor_orchestrator_escalations_total
//   - tutor_orchestrator_sessions_completed_total
//   - tutor_orchestrator_session_resets_total
//   - tutor_teaching_phase_changes_total{from,to}
//   - tutor_feedback_recorded_total{progression_ready}
//   - tutor_collaborator_calls_total{endpoint,outcome}
//   - tutor_collaborator_call_duration_seconds{endpoint}
//   - tutor_collaborator_breaker_state{breaker} (0 closed, 1 half-open, 2 open)
//   - tutor_http_requests_total{method,route,status}
//   - tutor_http_request_duration_seconds{method,route}
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/circuitbreaker"
)

const namespace = "tutor"

// Metrics holds the orchestrator's collectors.
type Metrics struct {
	registry *prometheus.Registry

	OrchestratorRequests *prometheus.CounterVec
	OrchestratorDuration *prometheus.HistogramVec
	StateTransitions     *prometheus.CounterVec
	ActionFailures       *prometheus.CounterVec
	Escalations          prometheus.Counter
	SessionsCompleted    prometheus.Counter
	SessionResets        prometheus.Counter

	PhaseChanges     *prometheus.CounterVec
	FeedbackRecorded *prometheus.CounterVec

	CollaboratorCalls    *prometheus.CounterVec
	CollaboratorDuration *prometheus.HistogramVec
	BreakerState         *prometheus.GaugeVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewDefault creates metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// New registers the orchestrator metrics on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OrchestratorRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "requests_total",
			Help:      "Orchestration cycles by requested action and outcome",
		}, []string{"action", "outcome"}),
		OrchestratorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "request_duration_seconds",
			Help:      "Duration of one orchestration cycle in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "state_transitions_total",
			Help:      "Top-level state changes",
		}, []string{"from", "to"}),
		ActionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "action_failures_total",
			Help:      "Failed state actions by the state they ran in",
		}, []string{"state"}),
		Escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "escalations_total",
			Help:      "Sessions durably marked failed after repeated errors",
		}),
		SessionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sessions_completed_total",
			Help:      "Sessions that reached session_complete",
		}),
		SessionResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "session_resets_total",
			Help:      "Explicit external resets of failed sessions",
		}),

		PhaseChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "teaching",
			Name:      "phase_changes_total",
			Help:      "Teaching phase changes",
		}, []string{"from", "to"}),
		FeedbackRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "recorded_total",
			Help:      "Feedback records stored",
		}, []string{"progression_ready"}),

		CollaboratorCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "calls_total",
			Help:      "Collaborator calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		CollaboratorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "call_duration_seconds",
			Help:      "Collaborator call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"breaker"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Inbound HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOrchestration records one orchestration cycle.
func (m *Metrics) ObserveOrchestration(action string, success bool, d time.Duration) {
	if action == "" {
		action = "none"
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.OrchestratorRequests.WithLabelValues(action, outcome).Inc()
	m.OrchestratorDuration.WithLabelValues(action).Observe(d.Seconds())
}

// ObserveCollaboratorCall implements collaborator.Observer.
func (m *Metrics) ObserveCollaboratorCall(endpoint, outcome string, latency time.Duration) {
	m.CollaboratorCalls.WithLabelValues(endpoint, outcome).Inc()
	m.CollaboratorDuration.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// OnBreakerStateChange tracks the breaker gauge.
func (m *Metrics) OnBreakerStateChange(name string, _, to circuitbreaker.State) {
	var v float64
	switch to {
	case circuitbreaker.StateHalfOpen:
		v = 1
	case circuitbreaker.StateOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}

// ObserveHTTP records one inbound request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// EventHandler counts domain events. Subscribe it to the event bus.
func (m *Metrics) EventHandler() shared.EventHandler {
	return func(event shared.Event) error {
		switch e := event.(type) {
		case shared.SessionStateChangedEvent:
			m.StateTransitions.WithLabelValues(e.From, e.To).Inc()
		case shared.SessionActionFailedEvent:
			m.ActionFailures.WithLabelValues(e.State).Inc()
		case shared.SessionEscalatedEvent:
			m.Escalations.Inc()
		case shared.SessionCompletedEvent:
			m.SessionsCompleted.Inc()
		case shared.SessionResetEvent:
			m.SessionResets.Inc()
		case shared.TeachingPhaseChangedEvent:
			m.PhaseChanges.WithLabelValues(e.From, e.To).Inc()
		case shared.FeedbackRecordedEvent:
			m.FeedbackRecorded.WithLabelValues(strconv.FormatBool(e.ProgressionReady)).Inc()
		}
		return nil
	}
}
