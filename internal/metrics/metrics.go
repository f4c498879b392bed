// Package metrics exposes gateway counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric name.
const namespace = "ferry"

// stageBuckets covers a local round trip up to a slow ledger confirmation.
var stageBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the gateway's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal      *prometheus.CounterVec
	ActiveSessions     *prometheus.GaugeVec
	Retries            *prometheus.CounterVec
	Dropped            *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	RecoveryRuns       *prometheus.CounterVec
	RecoveryAnomalies  prometheus.Counter
	StageLatency       *prometheus.HistogramVec
	MessagesReceived   *prometheus.CounterVec
	LedgerCallDuration *prometheus.HistogramVec
}

// New creates metrics on a fresh registry, including Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions that reached a terminal outcome",
		}, []string{"role", "outcome", "reason"}),

		ActiveSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions not yet terminal",
		}, []string{"role"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Message resends after a timeout",
		}, []string{"kind"}),

		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped by validation",
		}, []string{"reason"}),

		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating ledger actions by result",
		}, []string{"result"}),

		RecoveryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_runs_total",
			Help:      "Recovery exchanges by decision",
		}, []string{"decision"}),

		RecoveryAnomalies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_anomalies_total",
			Help:      "Recoveries that found diverging logs",
		}),

		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage",
			Buckets:   stageBuckets,
		}, []string{"role", "stage"}),

		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound protocol messages by kind",
		}, []string{"kind"}),

		LedgerCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_call_duration_seconds",
			Help:      "Ledger connector call latency",
			Buckets:   stageBuckets,
		}, []string{"op"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SessionStarted records a new or recovered non-terminal session.
func (m *Metrics) SessionStarted(role string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(role).Inc()
}

// SessionFinished records a terminal outcome.
func (m *Metrics) SessionFinished(role, outcome, reason string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(role, outcome, reason).Inc()
	m.ActiveSessions.WithLabelValues(role).Dec()
}

// Retry records a resend of kind.
func (m *Metrics) Retry(kind string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind).Inc()
}

// Drop records an inbound message rejected by validation.
func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// Received records an inbound message.
func (m *Metrics) Received(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// Compensation records a compensating action; ok false means it failed.
func (m *Metrics) Compensation(ok bool) {
	if m == nil {
		return
	}

	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Compensations.WithLabelValues(result).Inc()
}

// Recovery records a reconcile decision.
func (m *Metrics) Recovery(decision string) {
	if m == nil {
		return
	}
	m.RecoveryRuns.WithLabelValues(decision).Inc()
}

// Anomaly records a recovery divergence.
func (m *Metrics) Anomaly() {
	if m == nil {
		return
	}
	m.RecoveryAnomalies.Inc()
}

// Stage records how long a session spent in stage.
func (m *Metrics) Stage(role, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(role, stage).Observe(d.Seconds())
}

// LedgerCall records the latency of a connector operation.
func (m *Metrics) LedgerCall(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCallDuration.WithLabelValues(op).Observe(d.Seconds())
}
