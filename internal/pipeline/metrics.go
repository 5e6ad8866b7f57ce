package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/redress/internal/gateway"
)

// Metrics holds Prometheus metrics for the resolution pipeline.
type Metrics struct {
	CasesTotal     *prometheus.CounterVec
	CaseDuration   *prometheus.HistogramVec
	StageTotal     *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	Duplicates     prometheus.Counter
	ActionsTotal   *prometheus.CounterVec
	ToolCallsTotal *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	ToolAttempts   *prometheus.HistogramVec
	SubmitsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_cases_total",
			Help: "Total cases reaching a terminal stage, by stage.",
		}, []string{"stage"}),
		CaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redress_case_duration_seconds",
			Help:    "End-to-end case duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"stage"}),
		StageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_stage_runs_total",
			Help: "Total stage executions by stage and status.",
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redress_stage_duration_seconds",
			Help:    "Duration of stage executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"stage"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redress_duplicate_alerts_total",
			Help: "Total alert deliveries short-circuited as duplicates.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_actions_total",
			Help: "Total executed actions by type and outcome.",
		}, []string{"action", "outcome"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_tool_calls_total",
			Help: "Total gateway tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redress_tool_duration_seconds",
			Help:    "Duration of gateway tool invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1s .. ~12.8s
		}, []string{"tool"}),
		ToolAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redress_tool_attempts",
			Help:    "Attempts per gateway tool invocation, retries included.",
			Buckets: prometheus.LinearBuckets(1, 1, 6), // 1 .. 6
		}, []string{"tool"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CasesTotal,
		m.CaseDuration,
		m.StageTotal,
		m.StageDuration,
		m.Duplicates,
		m.ActionsTotal,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.ToolAttempts,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns pipeline Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStage: func(stage string, seconds float64, ok bool) {
			status := "ok"
			if !ok {
				status = "error"
			}
			m.StageTotal.WithLabelValues(stage, status).Inc()
			m.StageDuration.WithLabelValues(stage).Observe(seconds)
		},
		OnCase: func(final Stage, seconds float64) {
			m.CasesTotal.WithLabelValues(string(final)).Inc()
			m.CaseDuration.WithLabelValues(string(final)).Observe(seconds)
		},
		OnDuplicate: func() {
			m.Duplicates.Inc()
		},
		OnAction: func(action ActionType, outcome string) {
			m.ActionsTotal.WithLabelValues(string(action), outcome).Inc()
		},
	}
}

// GatewayHooks returns gateway Hooks that increment the tool metrics.
func (m *Metrics) GatewayHooks() gateway.Hooks {
	return gateway.Hooks{
		OnCall: func(tool string, seconds float64, attempts int, outcome string) {
			m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
			m.ToolDuration.WithLabelValues(tool).Observe(seconds)
			m.ToolAttempts.WithLabelValues(tool).Observe(float64(attempts))
		},
	}
}
