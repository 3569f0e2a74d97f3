package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent propagates tracing context to a nested agent.
// It keeps the trace ID and job but generates a new run ID for the sub-agent.
func PropagateToSubAgent(ctx context.Context, subAgentID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithRunID(newCtx, NewRunID())
	return WithAgentID(newCtx, subAgentID)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agent_id", tc.AgentID)
	}
	if tc.ProjectID != "" {
		lc = lc.Str("project_id", tc.ProjectID)
	}
	if tc.JobID != "" {
		lc = lc.Str("job_id", tc.JobID)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
