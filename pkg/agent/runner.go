package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/studio/internal/observability"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/execlog"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	profileCooldownStep   = 60 * time.Second

	continuePrompt = "Please continue by calling one of the available tools."
)

// Run outcomes reported to metrics.
const (
	outcomeTerminated = "terminated"
	outcomeExhausted  = "exhausted"
	outcomeCancelled  = "cancelled"
	outcomeFailed     = "failed"
)

// JobUpdater merges fields into a job record.
type JobUpdater interface {
	Update(ctx context.Context, kind, projectID, jobID string, fields jobs.Fields) error
}

// Runner drives the model/tool loop for agent definitions.
type Runner struct {
	jobs            JobUpdater
	executions      execlog.Recorder
	logger          zerolog.Logger
	providerFactory ProviderCreator
	maxRetries      int
	retryBaseDelay  time.Duration
	toolTimeout     time.Duration
	now             func() time.Time

	// Auth profiles
	authProfiles []AuthProfile
	providers    map[string]LLMProvider
	authMu       sync.RWMutex

	// Active runs for abort capability, keyed by job id
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Jobs            JobUpdater
	Executions      execlog.Recorder
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
	// MaxRetries is the number of retries after a transient failure. Zero uses DefaultMaxRetries.
	MaxRetries     int
	RetryBaseDelay time.Duration
	// ToolTimeout is passed to every tool call; zero leaves the dispatcher default.
	ToolTimeout time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.Executions == nil {
		return nil, fmt.Errorf("execution log is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	for _, p := range cfg.AuthProfiles {
		// Definitions name Anthropic models; other providers cannot serve them.
		if p.Provider != "anthropic" && p.Model == "" {
			return nil, fmt.Errorf("auth profile %s: model is required for provider %s", p.ID, p.Provider)
		}
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	profiles := make([]AuthProfile, len(cfg.AuthProfiles))
	copy(profiles, cfg.AuthProfiles)

	return &Runner{
		jobs:            cfg.Jobs,
		executions:      cfg.Executions,
		logger:          cfg.Logger.With().Str("component", "agent").Logger(),
		providerFactory: providerFactory,
		maxRetries:      maxRetries,
		retryBaseDelay:  baseDelay,
		toolTimeout:     cfg.ToolTimeout,
		now:             time.Now,
		authProfiles:    profiles,
		providers:       make(map[string]LLMProvider),
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

// Run executes def against task until a terminal tool fires, the iteration
// budget runs out, the model cannot be reached or ctx is cancelled.
//
// Budget exhaustion is not an error: the result carries Success=false and the
// job is marked as failed. Provider failures and cancellation also mark the
// job, and are returned as errors alongside the partial result.
func (r *Runner) Run(ctx context.Context, def *Definition, task Task) (RunResult, error) {
	if err := def.validate(); err != nil {
		return RunResult{}, fmt.Errorf("invalid agent definition: %w", err)
	}

	executionID := uuid.NewString()
	startedAt := r.now()

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	if task.ProjectID != "" || task.JobID != "" {
		ctx = tracing.WithJob(ctx, task.ProjectID, task.JobID)
	}
	ctx = tracing.NewAgentRunContext(ctx, def.Name, executionID)
	ctx, span := tracing.StartSpan(ctx, "studio.agent", "agent.run",
		attribute.String("agent", def.Name),
		attribute.String("execution_id", executionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Sub-agents share their parent's job id; only the owner is abortable.
	if task.JobKind != "" && task.JobID != "" {
		r.runsMu.Lock()
		r.activeRuns[task.JobID] = cancel
		r.runsMu.Unlock()
		defer func() {
			r.runsMu.Lock()
			delete(r.activeRuns, task.JobID)
			r.runsMu.Unlock()
		}()
	}

	observability.RunStarted()
	defer observability.RunFinished()

	run := &runState{
		def:         def,
		task:        task,
		startedAt:   startedAt,
		messages:    []AgentMessage{{Role: RoleUser, Content: task.UserMessage}},
		result:      RunResult{ExecutionID: executionID},
		tools:       def.Tools.Schemas(),
		maxIter:     def.maxIterations(),
		executionID: executionID,
	}

	logger.Info().
		Int("max_iterations", run.maxIter).
		Int("tools", len(run.tools)).
		Msg("Agent run started")

	for iteration := 1; iteration <= run.maxIter; iteration++ {
		if err := runCtx.Err(); err != nil {
			return r.abortRun(ctx, span, run, err)
		}
		run.result.Iterations = iteration

		resp, err := r.callWithFailover(runCtx, LLMRequest{
			Model:        def.Model,
			SystemPrompt: def.SystemPrompt,
			Messages:     run.messages,
			Tools:        run.tools,
			ToolChoice:   def.ToolChoice,
			Temperature:  def.Temperature,
			MaxTokens:    def.maxTokens(),
		})
		if err != nil {
			return r.abortRun(ctx, span, run, err)
		}

		run.result.Usage.Add(resp.Usage)
		if resp.Usage != nil {
			observability.RecordTokens(def.Name, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		run.messages = append(run.messages, AgentMessage{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			logger.Debug().Int("iteration", iteration).Msg("Model replied without tool calls")
			run.messages = append(run.messages, AgentMessage{Role: RoleUser, Content: continuePrompt})
			continue
		}

		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			tr := def.Tools.Execute(runCtx, call.Name, call.Parameters, &toolexecutor.ExecutionContext{
				ProjectID:    task.ProjectID,
				JobID:        task.JobID,
				SourceID:     task.SourceID,
				JobKind:      task.JobKind,
				AgentName:    def.Name,
				Iteration:    iteration,
				InputTokens:  run.result.Usage.InputTokens,
				OutputTokens: run.result.Usage.OutputTokens,
				State:        task.State,
				Timeout:      r.toolTimeout,
			})

			if tr.Terminal {
				return r.completeRun(ctx, run, call.Name, tr)
			}

			results = append(results, ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    toolexecutor.Message(tr),
				IsError:    !tr.Success,
			})
		}

		run.messages = append(run.messages, AgentMessage{Role: RoleUser, ToolResults: results})
	}

	run.result.Success = false
	run.result.ErrorMessage = fmt.Sprintf("Agent reached maximum iterations (%d)", run.maxIter)
	logger.Warn().Int("iterations", run.maxIter).Msg("Agent reached maximum iterations")
	span.SetStatus(codes.Error, run.result.ErrorMessage)

	r.markJobError(ctx, task, run.result.ErrorMessage)
	r.saveExecution(ctx, run)
	observability.RecordAgentRun(def.Name, outcomeExhausted, time.Since(startedAt), run.result.Iterations)

	return run.result, nil
}

// Abort cancels the active run for a job.
func (r *Runner) Abort(jobID string) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[jobID]
	if !exists {
		r.logger.Debug().Str("job_id", jobID).Msg("No active run to abort")
		return nil
	}

	r.logger.Info().Str("job_id", jobID).Msg("Aborting agent execution")
	cancel()
	delete(r.activeRuns, jobID)

	return nil
}

// IsRunning reports whether a run is active for a job.
func (r *Runner) IsRunning(jobID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[jobID]
	return exists
}

// runState is the bookkeeping of one Run call.
type runState struct {
	def         *Definition
	task        Task
	executionID string
	startedAt   time.Time
	messages    []AgentMessage
	tools       []ToolSchema
	maxIter     int
	result      RunResult
}

func (r *Runner) completeRun(ctx context.Context, run *runState, toolName string, tr toolexecutor.ToolResult) (RunResult, error) {
	run.result.Terminated = true
	run.result.Output = tr.Output
	run.result.Success = tr.Success
	if outcome, ok := tr.Output.(Outcome); ok && !outcome.Succeeded() {
		run.result.Success = false
		run.result.ErrorMessage = outcome.FailureMessage()
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().
		Str("tool", toolName).
		Bool("success", run.result.Success).
		Int("iterations", run.result.Iterations).
		Int("input_tokens", run.result.Usage.InputTokens).
		Int("output_tokens", run.result.Usage.OutputTokens).
		Msg("Agent run terminated")

	r.saveExecution(ctx, run)
	observability.RecordAgentRun(run.def.Name, outcomeTerminated, time.Since(run.startedAt), run.result.Iterations)
	return run.result, nil
}

// abortRun records a run that stopped on a provider failure or cancellation.
func (r *Runner) abortRun(ctx context.Context, span trace.Span, run *runState, err error) (RunResult, error) {
	outcome := outcomeFailed
	message := fmt.Sprintf("Agent run failed: %v", err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = outcomeCancelled
		message = fmt.Sprintf("Agent run cancelled: %v", err)
	}

	run.result.Success = false
	run.result.ErrorMessage = message
	span.RecordError(err)
	span.SetStatus(codes.Error, message)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Error().
		Err(err).
		Int("iteration", run.result.Iterations).
		Msg("Agent run aborted")

	// The run context may already be done; bookkeeping must still land.
	persistCtx := context.WithoutCancel(ctx)
	r.markJobError(persistCtx, run.task, message)
	r.saveExecution(persistCtx, run)
	observability.RecordAgentRun(run.def.Name, outcome, time.Since(run.startedAt), run.result.Iterations)

	if outcome == outcomeCancelled {
		return run.result, fmt.Errorf("agent run cancelled: %w", err)
	}
	return run.result, err
}

func (r *Runner) markJobError(ctx context.Context, task Task, message string) {
	if task.JobKind == "" || task.JobID == "" {
		return
	}
	err := r.jobs.Update(ctx, task.JobKind, task.ProjectID, task.JobID, jobs.Fields{
		"status":         jobs.StatusError,
		"error_message":  message,
		"status_message": message,
	})
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Error().Err(err).Msg("Failed to mark job as failed")
	}
}

func (r *Runner) saveExecution(ctx context.Context, run *runState) {
	err := r.executions.Save(ctx, execlog.Execution{
		ExecutionID: run.executionID,
		AgentName:   run.def.Name,
		ProjectID:   run.task.ProjectID,
		Task:        run.task,
		Messages:    run.messages,
		Result:      run.result,
		StartedAt:   run.startedAt,
		CompletedAt: r.now(),
		Metadata: map[string]interface{}{
			"model":          run.def.Model,
			"max_iterations": run.maxIter,
			"tool_choice":    string(run.def.ToolChoice),
		},
	})
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().Err(err).Msg("Failed to save execution log")
	}
}

// callWithFailover tries auth profiles in priority order.
func (r *Runner) callWithFailover(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.RUnlock()

	sortProfilesByPriority(profiles)

	now := r.now().UnixMilli()
	var lastErr error

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && now < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.ID, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.providerFor(profile)
		if err != nil {
			lastErr = err
			r.updateProfileFailure(profile.ID)
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		profileReq := req
		if profile.Model != "" {
			profileReq.Model = profile.Model
		}

		resp, err := r.callWithRetry(ctx, provider, profileReq)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		r.updateProfileFailure(profile.ID)
		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, errors.New("all auth profiles are in cooldown")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// callWithRetry retries transient failures with exponential backoff.
func (r *Runner) callWithRetry(ctx context.Context, provider LLMProvider, req LLMRequest) (*LLMResponse, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	attempts := r.maxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := r.callLLM(ctx, provider, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := r.retryBaseDelay * time.Duration(1<<attempt)
		observability.RecordLLMRetry(provider.Provider())
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

// callLLM makes a single LLM API call
func (r *Runner) callLLM(ctx context.Context, provider LLMProvider, req LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "studio.agent", "agent.llm_call",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", req.Model),
		attribute.Int("messages", len(req.Messages)),
	)
	defer span.End()

	start := time.Now()
	resp, err := provider.Call(ctx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("%s returned an empty response", provider.Provider())
	}
	observability.RecordLLMCall(provider.Provider(), time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("usage.input_tokens", resp.Usage.InputTokens),
			attribute.Int("usage.output_tokens", resp.Usage.OutputTokens),
		)
	}
	return resp, nil
}

// providerFor returns the cached provider for a profile.
func (r *Runner) providerFor(profile AuthProfile) (LLMProvider, error) {
	r.authMu.RLock()
	provider, ok := r.providers[profile.ID]
	r.authMu.RUnlock()
	if ok {
		return provider, nil
	}

	provider, err := r.providerFactory.NewProvider(profile)
	if err != nil {
		return nil, err
	}

	r.authMu.Lock()
	defer r.authMu.Unlock()
	if existing, ok := r.providers[profile.ID]; ok {
		return existing, nil
	}
	r.providers[profile.ID] = provider
	return provider, nil
}

// updateProfileSuccess resets failure count for a profile
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(profileID, false)
			break
		}
	}
}

// updateProfileFailure puts a profile into a cooldown that grows with each failure.
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			until := r.now().Add(profileCooldownStep * time.Duration(r.authProfiles[i].FailureCount)).UnixMilli()
			r.authProfiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(profileID, true)
			break
		}
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
