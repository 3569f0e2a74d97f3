package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAgentRun(t *testing.T) {
	t.Run("should count runs by agent and outcome", func(t *testing.T) {
		m := getMetrics()
		before := testutil.ToFloat64(m.agentRunTotal.WithLabelValues("metrics_test_agent", "exhausted"))

		RecordAgentRun("metrics_test_agent", "exhausted", 2*time.Second, 10)

		after := testutil.ToFloat64(m.agentRunTotal.WithLabelValues("metrics_test_agent", "exhausted"))
		assert.Equal(t, before+1, after)
	})

	t.Run("should track active runs", func(t *testing.T) {
		m := getMetrics()
		before := testutil.ToFloat64(m.activeRuns)
		RunStarted()
		assert.Equal(t, before+1, testutil.ToFloat64(m.activeRuns))
		RunFinished()
		assert.Equal(t, before, testutil.ToFloat64(m.activeRuns))
	})
}

func TestRecordTokens(t *testing.T) {
	m := getMetrics()
	RecordTokens("token_test_agent", 120, 30)
	RecordTokens("token_test_agent", 0, 5)

	assert.Equal(t, 120.0, testutil.ToFloat64(m.llmTokensTotal.WithLabelValues("token_test_agent", "input")))
	assert.Equal(t, 35.0, testutil.ToFloat64(m.llmTokensTotal.WithLabelValues("token_test_agent", "output")))
}

func TestRecordToolExecution(t *testing.T) {
	m := getMetrics()
	RecordToolExecution("metrics_test_tool", time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("metrics_test_tool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("metrics_test_tool", "error")))
}

func TestRecordJobUpdate(t *testing.T) {
	m := getMetrics()
	RecordJobUpdate("metrics_test_kind", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobUpdateTotal.WithLabelValues("metrics_test_kind", "unchanged")))
}

func TestMetricsHandler(t *testing.T) {
	SetProviderCooldown("metrics-handler-profile", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `studio_provider_cooldown_active{profile="metrics-handler-profile"} 1`)
}

func TestAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := GetAuditLogger()
	SetAuditLogger(NewAuditLogger(zerolog.New(&buf)))
	t.Cleanup(func() { SetAuditLogger(prev) })

	t.Run("should record job transitions", func(t *testing.T) {
		buf.Reset()
		RecordJobAudit(context.Background(), "email", "p1", "j1", "ready")

		out := buf.String()
		assert.Contains(t, out, `"action":"job:ready"`)
		assert.Contains(t, out, `"job_id":"j1"`)
	})

	t.Run("should record artifact failures", func(t *testing.T) {
		buf.Reset()
		RecordArtifactAudit(context.Background(), "p1", "studio/x.md", 0, errors.New("disk full"))

		out := buf.String()
		assert.Contains(t, out, `"status":"failure"`)
		assert.Contains(t, out, "disk full")
	})
}
