package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the execution ID of one agent run
	RunIDKey ContextKey = "run_id"
	// AgentIDKey is the context key for the agent name
	AgentIDKey ContextKey = "agent_id"
	// ProjectIDKey is the context key for project ID
	ProjectIDKey ContextKey = "project_id"
	// JobIDKey is the context key for job ID
	JobIDKey ContextKey = "job_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RunID     string
	AgentID   string
	ProjectID string
	JobID     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithJob adds the project and job the work belongs to.
func WithJob(ctx context.Context, projectID, jobID string) context.Context {
	ctx = context.WithValue(ctx, ProjectIDKey, projectID)
	return context.WithValue(ctx, JobIDKey, jobID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return stringValue(ctx, RunIDKey) }

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string { return stringValue(ctx, AgentIDKey) }

// GetProjectID retrieves the project ID from the context
func GetProjectID(ctx context.Context) string { return stringValue(ctx, ProjectIDKey) }

// GetJobID retrieves the job ID from the context
func GetJobID(ctx context.Context) string { return stringValue(ctx, JobIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RunID:     GetRunID(ctx),
		AgentID:   GetAgentID(ctx),
		ProjectID: GetProjectID(ctx),
		JobID:     GetJobID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewAgentRunContext attaches a run ID and agent name for one agent execution.
func NewAgentRunContext(ctx context.Context, agentID, runID string) context.Context {
	if runID == "" {
		runID = NewRunID()
	}
	ctx = WithRunID(ctx, runID)
	return WithAgentID(ctx, agentID)
}
