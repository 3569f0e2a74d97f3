package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentRunTotal      *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	agentRunIterations *prometheus.HistogramVec
	activeRuns         prometheus.Gauge

	llmCallTotal    *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmRetryTotal   *prometheus.CounterVec
	llmTokensTotal  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	providerCooldown *prometheus.GaugeVec

	jobUpdateTotal *prometheus.CounterVec
	artifactBytes  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_agent_run_total",
					Help: "Total agent runs by agent and outcome.",
				},
				[]string{"agent", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "studio_agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by agent.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"agent"},
			),
			agentRunIterations: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "studio_agent_run_iterations",
					Help:    "Iterations consumed per agent run.",
					Buckets: prometheus.LinearBuckets(1, 1, 15),
				},
				[]string{"agent"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "studio_agent_active_runs",
					Help: "Agent runs currently in progress.",
				},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_llm_call_total",
					Help: "Total model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "studio_llm_call_duration_seconds",
					Help:    "Model call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			llmRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_llm_retry_total",
					Help: "Total retried model calls by provider.",
				},
				[]string{"provider"},
			),
			llmTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_llm_tokens_total",
					Help: "Tokens consumed by agent and direction.",
				},
				[]string{"agent", "direction"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "studio_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "studio_provider_cooldown_active",
					Help: "Auth profile cooldown state (1 active, 0 inactive).",
				},
				[]string{"profile"},
			),
			jobUpdateTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_job_update_total",
					Help: "Job record updates by kind and resulting status.",
				},
				[]string{"kind", "status"},
			),
			artifactBytes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studio_artifact_bytes_total",
					Help: "Bytes written to project storage by artifact area.",
				},
				[]string{"area"},
			),
		}

		prometheus.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRunIterations,
			m.activeRuns,
			m.llmCallTotal,
			m.llmCallDuration,
			m.llmRetryTotal,
			m.llmTokensTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.providerCooldown,
			m.jobUpdateTotal,
			m.artifactBytes,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordAgentRun records a finished run. outcome is one of
// "terminated", "exhausted", "cancelled" or "failed".
func RecordAgentRun(agent, outcome string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(agent, outcome).Inc()
	m.agentRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
	m.agentRunIterations.WithLabelValues(agent).Observe(float64(iterations))
}

func RunStarted() {
	getMetrics().activeRuns.Inc()
}

func RunFinished() {
	getMetrics().activeRuns.Dec()
}

func RecordLLMCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.llmCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordLLMRetry(provider string) {
	getMetrics().llmRetryTotal.WithLabelValues(provider).Inc()
}

func RecordTokens(agent string, input, output int) {
	m := getMetrics()
	if input > 0 {
		m.llmTokensTotal.WithLabelValues(agent, "input").Add(float64(input))
	}
	if output > 0 {
		m.llmTokensTotal.WithLabelValues(agent, "output").Add(float64(output))
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func SetProviderCooldown(profile string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(profile).Set(value)
}

func RecordJobUpdate(kind, status string) {
	if status == "" {
		status = "unchanged"
	}
	getMetrics().jobUpdateTotal.WithLabelValues(kind, status).Inc()
}

func RecordArtifactWrite(area string, size int) {
	getMetrics().artifactBytes.WithLabelValues(area).Add(float64(size))
}
