// Package studio holds what the artifact agents share: running an agent
// against a job record, terminal results, and project URLs.
package studio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/storage"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Runner executes agent definitions.
type Runner interface {
	Run(ctx context.Context, def *agent.Definition, task agent.Task) (agent.RunResult, error)
}

// Deps are the collaborators every artifact agent needs.
type Deps struct {
	Runner  Runner
	Jobs    jobs.Store
	Storage *storage.Store
	Prompts *prompts.Loader
	Logger  zerolog.Logger
}

// Validate checks that all collaborators are set.
func (d Deps) Validate() error {
	switch {
	case d.Runner == nil:
		return fmt.Errorf("runner is required")
	case d.Jobs == nil:
		return fmt.Errorf("job store is required")
	case d.Storage == nil:
		return fmt.Errorf("storage is required")
	case d.Prompts == nil:
		return fmt.Errorf("prompt loader is required")
	}
	return nil
}

// Job describes one artifact run.
type Job struct {
	Kind      string
	Agent     string
	ProjectID string
	JobID     string
	SourceID  string
	Override  config.AgentOverride
	// StartMessage is the status_message written when the job starts.
	StartMessage string
	Description  string
	Tools        *toolexecutor.ToolExecutor
	State        interface{}
	// PromptData builds the user message template data.
	PromptData func(pc *prompts.Config) (interface{}, error)
	Metadata   map[string]interface{}
}

// Run marks the job processing, builds the agent definition from the
// agent's prompt config and runs it. Setup failures mark the job as error.
func Run(ctx context.Context, d Deps, job Job) (agent.RunResult, error) {
	if err := storage.ValidateComponent(job.ProjectID); err != nil {
		return agent.RunResult{}, fmt.Errorf("invalid project id: %w", err)
	}
	if err := storage.ValidateComponent(job.JobID); err != nil {
		return agent.RunResult{}, fmt.Errorf("invalid job id: %w", err)
	}

	ctx = tracing.WithJob(ctx, job.ProjectID, job.JobID)
	logger := tracing.LoggerFromContext(ctx, d.Logger).With().Str("agent", job.Agent).Logger()

	if err := d.Jobs.Update(ctx, job.Kind, job.ProjectID, job.JobID, jobs.Fields{
		"status":         jobs.StatusProcessing,
		"status_message": job.StartMessage,
		"started_at":     Now(),
	}); err != nil {
		return agent.RunResult{}, fmt.Errorf("failed to start job: %w", err)
	}

	def, userMessage, err := buildDefinition(d.Prompts, job)
	if err != nil {
		Fail(ctx, d.Jobs, job.Kind, job.ProjectID, job.JobID, err.Error(), logger)
		return agent.RunResult{}, err
	}

	logger.Info().Str("job_id", ShortID(job.JobID)).Msg("Starting artifact job")

	return d.Runner.Run(ctx, def, agent.Task{
		ProjectID:   job.ProjectID,
		JobID:       job.JobID,
		SourceID:    job.SourceID,
		JobKind:     job.Kind,
		Description: job.Description,
		UserMessage: userMessage,
		State:       job.State,
		Metadata:    job.Metadata,
	})
}

func buildDefinition(loader *prompts.Loader, job Job) (*agent.Definition, string, error) {
	pc, err := loader.Get(job.Agent)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load prompt config: %w", err)
	}
	pc = pc.WithOverride(job.Override)

	var data interface{}
	if job.PromptData != nil {
		if data, err = job.PromptData(pc); err != nil {
			return nil, "", err
		}
	}
	userMessage, err := pc.Render(data)
	if err != nil {
		return nil, "", err
	}

	return &agent.Definition{
		Name:          job.Agent,
		SystemPrompt:  pc.SystemPrompt,
		Model:         pc.Model,
		MaxTokens:     pc.MaxTokens,
		Temperature:   pc.Temperature,
		MaxIterations: pc.MaxIterations,
		ToolChoice:    agent.ToolChoiceAny,
		Tools:         job.Tools,
	}, userMessage, nil
}

// Result is the output of a terminal artifact tool.
type Result struct {
	Success      bool                   `json:"success"`
	JobID        string                 `json:"job_id,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Artifact     map[string]interface{} `json:"artifact,omitempty"`
	Iterations   int                    `json:"iterations"`
	Usage        agent.TokenUsage       `json:"usage"`
}

// Succeeded implements agent.Outcome.
func (r *Result) Succeeded() bool { return r.Success }

// FailureMessage implements agent.Outcome.
func (r *Result) FailureMessage() string { return r.ErrorMessage }

// Done builds a successful terminal result.
func Done(execCtx *toolexecutor.ExecutionContext, artifact map[string]interface{}) *Result {
	return &Result{
		Success:    true,
		JobID:      execCtx.JobID,
		Artifact:   artifact,
		Iterations: execCtx.Iteration,
		Usage:      Usage(execCtx),
	}
}

// Failed marks the job as error and builds a failed terminal result.
func Failed(ctx context.Context, store jobs.Store, execCtx *toolexecutor.ExecutionContext, msg string, logger zerolog.Logger) *Result {
	Fail(ctx, store, execCtx.JobKind, execCtx.ProjectID, execCtx.JobID, msg, logger)
	return &Result{
		Success:      false,
		JobID:        execCtx.JobID,
		ErrorMessage: msg,
		Iterations:   execCtx.Iteration,
		Usage:        Usage(execCtx),
	}
}

// Fail marks a job as error.
func Fail(ctx context.Context, store jobs.Store, kind, projectID, jobID, msg string, logger zerolog.Logger) {
	logger.Error().Str("job_id", jobID).Msg(msg)
	if err := store.Update(context.WithoutCancel(ctx), kind, projectID, jobID, jobs.Fields{
		"status":         jobs.StatusError,
		"error_message":  msg,
		"status_message": msg,
	}); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job as error")
	}
}

// Progress merges fields into the running job. Failures are logged only.
func Progress(ctx context.Context, store jobs.Store, execCtx *toolexecutor.ExecutionContext, fields jobs.Fields, logger zerolog.Logger) {
	if err := store.Update(ctx, execCtx.JobKind, execCtx.ProjectID, execCtx.JobID, fields); err != nil {
		logger.Warn().Err(err).Str("job_id", execCtx.JobID).Msg("Failed to update job")
	}
}

// ExecContext returns the call's execution context and typed task state.
func ExecContext[T any](ctx context.Context) (*toolexecutor.ExecutionContext, T, error) {
	var zero T
	execCtx := toolexecutor.ExecContextFromContext(ctx)
	if execCtx == nil {
		return nil, zero, fmt.Errorf("missing execution context")
	}
	state, ok := execCtx.State.(T)
	if !ok {
		return nil, zero, fmt.Errorf("unexpected task state %T", execCtx.State)
	}
	return execCtx, state, nil
}

// Usage returns the running token totals of a call.
func Usage(execCtx *toolexecutor.ExecutionContext) agent.TokenUsage {
	return agent.TokenUsage{InputTokens: execCtx.InputTokens, OutputTokens: execCtx.OutputTokens}
}

// ProjectURL builds an API path under a project.
func ProjectURL(projectID string, elems ...string) string {
	return "/api/v1/projects/" + projectID + "/" + strings.Join(elems, "/")
}

// StudioURL builds an API path under a project's studio.
func StudioURL(projectID string, elems ...string) string {
	return ProjectURL(projectID, append([]string{"studio"}, elems...)...)
}

// ShortID truncates an id for log lines and task descriptions.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Now is the timestamp format of job records.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Truncate cuts s to max runes and appends suffix when it was longer.
func Truncate(s string, max int, suffix string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + suffix
}

// SourcePrompt is the template data of agents that work from one source.
type SourcePrompt struct {
	SourceName       string
	SourceContent    string
	DirectionSection string
}

// LoadSourcePrompt reads a source's name and processed text.
func LoadSourcePrompt(store *storage.Store, projectID, sourceID, direction string) (SourcePrompt, error) {
	src, err := store.GetSource(projectID, sourceID)
	if err != nil {
		return SourcePrompt{}, fmt.Errorf("failed to load source: %w", err)
	}
	text, err := store.ProcessedText(projectID, sourceID)
	if err != nil {
		return SourcePrompt{}, fmt.Errorf("failed to read source %s: %w", src.Name, err)
	}

	p := SourcePrompt{SourceName: src.Name, SourceContent: text}
	if direction != "" {
		p.DirectionSection = "DIRECTION: " + direction
	}
	return p, nil
}
