package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/agent/agenttest"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finalReport struct {
	ok      bool
	message string
}

func (f finalReport) Succeeded() bool        { return f.ok }
func (f finalReport) FailureMessage() string { return f.message }

type recordedCall struct {
	tool    string
	execCtx toolexecutor.ExecutionContext
}

type harness struct {
	tools      *toolexecutor.ToolExecutor
	jobs       *agenttest.Jobs
	executions *agenttest.Executions

	mu    sync.Mutex
	calls []recordedCall
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tools:      toolexecutor.New(),
		jobs:       &agenttest.Jobs{},
		executions: &agenttest.Executions{},
	}

	record := func(ctx context.Context, name string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls = append(h.calls, recordedCall{tool: name, execCtx: *toolexecutor.ExecContextFromContext(ctx)})
	}

	require.NoError(t, h.tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "take_note",
		Description: "Store a note",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "note", Type: "string", Description: "Note text", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			record(ctx, "take_note")
			return map[string]interface{}{"message": "Noted: " + params["note"].(string)}, nil
		},
	}))
	require.NoError(t, h.tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "broken",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			record(ctx, "broken")
			return nil, errors.New("disk on fire")
		},
	}))
	require.NoError(t, h.tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "finish",
		Description: "Finish the job",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "ok", Type: "boolean", Description: "Whether the write succeeded"},
		},
		Terminal: true,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			record(ctx, "finish")
			ok, present := params["ok"].(bool)
			if !present {
				ok = true
			}
			return finalReport{ok: ok, message: "write failed"}, nil
		},
	}))
	return h
}

func (h *harness) recorded() []recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedCall(nil), h.calls...)
}

func (h *harness) runner(t *testing.T, factory agent.ProviderCreator, profiles []agent.AuthProfile, maxRetries int) *agent.Runner {
	t.Helper()
	r, err := agent.NewRunner(agent.Config{
		Jobs:            h.jobs,
		Executions:      h.executions,
		Logger:          zerolog.Nop(),
		AuthProfiles:    profiles,
		ProviderFactory: factory,
		MaxRetries:      maxRetries,
		RetryBaseDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func (h *harness) definition(maxIterations int) *agent.Definition {
	return &agent.Definition{
		Name:          "test_agent",
		SystemPrompt:  "You write things.",
		Model:         "test-model",
		MaxIterations: maxIterations,
		ToolChoice:    agent.ToolChoiceAny,
		Tools:         h.tools,
	}
}

func testTask() agent.Task {
	return agent.Task{
		ProjectID:   "proj",
		JobID:       "job-1",
		JobKind:     jobs.KindEmail,
		UserMessage: "Write an email",
	}
}

func note(id, text string) agent.ToolCall {
	return agenttest.Call(id, "take_note", map[string]interface{}{"note": text})
}

func TestNewRunner(t *testing.T) {
	h := newHarness(t)
	_, profiles := agenttest.SingleProfile(agenttest.NewProvider())

	t.Run("should require a job store", func(t *testing.T) {
		_, err := agent.NewRunner(agent.Config{Executions: h.executions, AuthProfiles: profiles})
		assert.ErrorContains(t, err, "job store")
	})

	t.Run("should require an execution log", func(t *testing.T) {
		_, err := agent.NewRunner(agent.Config{Jobs: h.jobs, AuthProfiles: profiles})
		assert.ErrorContains(t, err, "execution log")
	})

	t.Run("should require an auth profile", func(t *testing.T) {
		_, err := agent.NewRunner(agent.Config{Jobs: h.jobs, Executions: h.executions})
		assert.ErrorContains(t, err, "auth profile")
	})

	t.Run("should reject negative retries", func(t *testing.T) {
		_, err := agent.NewRunner(agent.Config{Jobs: h.jobs, Executions: h.executions, AuthProfiles: profiles, MaxRetries: -1})
		assert.Error(t, err)
	})

	t.Run("should require a model on non-Anthropic profiles", func(t *testing.T) {
		for _, provider := range []string{"openai", "gemini"} {
			_, err := agent.NewRunner(agent.Config{
				Jobs:       h.jobs,
				Executions: h.executions,
				AuthProfiles: []agent.AuthProfile{
					{ID: "primary", Provider: "anthropic", Priority: 1},
					{ID: "backup", Provider: provider, Priority: 2},
				},
			})
			assert.EqualError(t, err, "auth profile backup: model is required for provider "+provider)
		}

		_, err := agent.NewRunner(agent.Config{
			Jobs:         h.jobs,
			Executions:   h.executions,
			AuthProfiles: []agent.AuthProfile{{ID: "backup", Provider: "gemini", Model: "gemini-2.5-pro"}},
		})
		assert.NoError(t, err)
	})
}

func TestRunner_RejectsInvalidDefinition(t *testing.T) {
	h := newHarness(t)
	factory, profiles := agenttest.SingleProfile(agenttest.NewProvider())
	r := h.runner(t, factory, profiles, 0)

	_, err := r.Run(context.Background(), &agent.Definition{Name: "x", Model: "m"}, testTask())
	assert.ErrorContains(t, err, "tool executor is required")

	_, err = r.Run(context.Background(), nil, testTask())
	assert.Error(t, err)
}

func TestRunner_TerminatesOnTerminalTool(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.ToolUse(note("t1", "plan")),
		agenttest.ToolUse(agenttest.Call("t2", "finish", nil)),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Terminated)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, agent.TokenUsage{InputTokens: 20, OutputTokens: 10}, result.Usage)
	assert.Equal(t, finalReport{ok: true, message: "write failed"}, result.Output)
	assert.NotEmpty(t, result.ExecutionID)

	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "You write things.", requests[0].SystemPrompt)
	assert.Equal(t, agent.ToolChoiceAny, requests[0].ToolChoice)
	assert.Len(t, requests[0].Tools, 3)
	require.Len(t, requests[0].Messages, 1)
	assert.Equal(t, "Write an email", requests[0].Messages[0].Content)

	second := requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, agent.RoleAssistant, second[1].Role)
	assert.Equal(t, agent.RoleUser, second[2].Role)
	require.Len(t, second[2].ToolResults, 1)
	assert.Equal(t, agent.ToolResult{ToolCallID: "t1", ToolName: "take_note", Content: "Noted: plan"}, second[2].ToolResults[0])

	saved := h.executions.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, result.ExecutionID, saved[0].ExecutionID)
	assert.Equal(t, "test_agent", saved[0].AgentName)
	assert.Equal(t, "proj", saved[0].ProjectID)
	assert.False(t, saved[0].CompletedAt.Before(saved[0].StartedAt))

	assert.Empty(t, h.jobs.Updates(), "runner leaves successful job records to the handlers")
	assert.False(t, r.IsRunning("job-1"))
}

func TestRunner_PassesIterationAndTokensToHandlers(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.ToolUse(note("a", "one")),
		agenttest.ToolUse(note("b", "two")),
		agenttest.ToolUse(agenttest.Call("c", "finish", nil)),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	task := testTask()
	task.SourceID = "src-1"
	task.State = &struct{ N int }{}
	_, err := r.Run(context.Background(), h.definition(5), task)
	require.NoError(t, err)

	calls := h.recorded()
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.Equal(t, i+1, call.execCtx.Iteration)
		assert.Equal(t, (i+1)*10, call.execCtx.InputTokens)
		assert.Equal(t, (i+1)*5, call.execCtx.OutputTokens)
		assert.Equal(t, "proj", call.execCtx.ProjectID)
		assert.Equal(t, "job-1", call.execCtx.JobID)
		assert.Equal(t, "src-1", call.execCtx.SourceID)
		assert.Equal(t, jobs.KindEmail, call.execCtx.JobKind)
		assert.Equal(t, "test_agent", call.execCtx.AgentName)
		assert.Same(t, task.State, call.execCtx.State)
	}
}

func TestRunner_GroupsToolResults(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.ToolUse(note("a", "one"), agenttest.Call("b", "broken", nil), agenttest.Call("c", "missing", nil)),
		agenttest.ToolUse(agenttest.Call("d", "finish", nil)),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	_, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)

	messages := provider.Requests()[1].Messages
	require.Len(t, messages, 3)
	results := messages[2].ToolResults
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].ToolCallID)
	assert.False(t, results[0].IsError)

	assert.Equal(t, "b", results[1].ToolCallID)
	assert.True(t, results[1].IsError)
	assert.Equal(t, "disk on fire", results[1].Content)

	assert.Equal(t, "c", results[2].ToolCallID)
	assert.True(t, results[2].IsError)
	assert.Equal(t, "Unknown tool: missing", results[2].Content)
}

func TestRunner_TerminalCallSkipsLaterCalls(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.ToolUse(agenttest.Call("a", "finish", nil), note("b", "late")),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)
	assert.True(t, result.Terminated)

	calls := h.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "finish", calls[0].tool)
}

func TestRunner_TerminalOutcomeFailure(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.ToolUse(agenttest.Call("a", "finish", map[string]interface{}{"ok": false})),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)
	assert.True(t, result.Terminated)
	assert.False(t, result.Success)
	assert.Equal(t, "write failed", result.ErrorMessage)
}

func TestRunner_NudgesAfterTextReply(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.Text("Let me think."),
		agenttest.ToolUse(agenttest.Call("a", "finish", nil)),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Iterations)

	messages := provider.Requests()[1].Messages
	require.Len(t, messages, 3)
	assert.Equal(t, "Let me think.", messages[1].Content)
	assert.Equal(t, agent.RoleUser, messages[2].Role)
	assert.Equal(t, "Please continue by calling one of the available tools.", messages[2].Content)
}

func TestRunner_ExhaustsIterationBudget(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(agenttest.ToolUse(note("a", "again")))
	provider.Repeat = true
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(3), testTask())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.Terminated)
	assert.Equal(t, "Agent reached maximum iterations (3)", result.ErrorMessage)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, agent.TokenUsage{InputTokens: 30, OutputTokens: 15}, result.Usage)
	assert.Len(t, provider.Requests(), 3)

	updates := h.jobs.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, jobs.KindEmail, updates[0].Kind)
	assert.Equal(t, "job-1", updates[0].JobID)
	assert.Equal(t, jobs.StatusError, updates[0].Fields["status"])
	assert.Equal(t, "Agent reached maximum iterations (3)", updates[0].Fields["error_message"])

	assert.Len(t, h.executions.Saved(), 1)
}

func TestRunner_DefaultIterationBudget(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(agenttest.Text("hmm"))
	provider.Repeat = true
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(0), testTask())
	require.NoError(t, err)
	assert.Equal(t, agent.DefaultMaxIterations, result.Iterations)
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(
		agenttest.Fail(errors.New("503 service unavailable")),
		agenttest.Fail(errors.New("connection reset by peer")),
		agenttest.ToolUse(agenttest.Call("a", "finish", nil)),
	)
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 2)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, provider.Requests(), 3)
}

func TestRunner_PermanentErrorStopsFailover(t *testing.T) {
	h := newHarness(t)
	primary := agenttest.NewProvider(agenttest.Fail(errors.New("invalid api key")))
	backup := agenttest.NewProvider(agenttest.ToolUse(agenttest.Call("a", "finish", nil)))
	factory := &agenttest.Factory{Providers: map[string]agent.LLMProvider{"primary": primary, "backup": backup}}
	profiles := []agent.AuthProfile{
		{ID: "backup", Provider: "openai", Priority: 2, Model: "backup-model"},
		{ID: "primary", Provider: "anthropic", Priority: 1},
	}
	r := h.runner(t, factory, profiles, 0)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.False(t, result.Success)
	assert.Len(t, primary.Requests(), 1)
	assert.Empty(t, backup.Requests())

	updates := h.jobs.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, jobs.StatusError, updates[0].Fields["status"])
	assert.Contains(t, updates[0].Fields["error_message"], "invalid api key")
	assert.Len(t, h.executions.Saved(), 1)
}

func TestRunner_FailoverAndCooldown(t *testing.T) {
	h := newHarness(t)
	primary := agenttest.NewProvider(agenttest.Fail(errors.New("429 rate limit")))
	primary.Repeat = true
	backup := agenttest.NewProvider(agenttest.ToolUse(agenttest.Call("a", "finish", nil)))
	backup.Repeat = true
	factory := &agenttest.Factory{Providers: map[string]agent.LLMProvider{"primary": primary, "backup": backup}}
	profiles := []agent.AuthProfile{
		{ID: "primary", Provider: "anthropic", Priority: 1},
		{ID: "backup", Provider: "openai", Priority: 2, Model: "backup-model"},
	}
	r := h.runner(t, factory, profiles, 1)

	result, err := r.Run(context.Background(), h.definition(5), testTask())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, primary.Requests(), 2, "one call plus one retry")
	require.Len(t, backup.Requests(), 1)
	assert.Equal(t, "backup-model", backup.Requests()[0].Model)

	t.Run("should skip a profile in cooldown", func(t *testing.T) {
		task := testTask()
		task.JobID = "job-2"
		_, err := r.Run(context.Background(), h.definition(5), task)
		require.NoError(t, err)
		assert.Len(t, primary.Requests(), 2)
		assert.Len(t, backup.Requests(), 2)
		assert.Equal(t, 1, factory.Created("backup"), "providers are cached per profile")
	})
}

func TestRunner_AllProfilesFail(t *testing.T) {
	h := newHarness(t)
	primary := agenttest.NewProvider(agenttest.Fail(errors.New("502 bad gateway")))
	primary.Repeat = true
	factory := &agenttest.Factory{Providers: map[string]agent.LLMProvider{"primary": primary}}
	r := h.runner(t, factory, []agent.AuthProfile{{ID: "primary", Provider: "anthropic"}}, 1)

	_, err := r.Run(context.Background(), h.definition(5), testTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all auth profiles failed")

	t.Run("should report cooldown when nothing is callable", func(t *testing.T) {
		_, err := r.Run(context.Background(), h.definition(5), testTask())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cooldown")
	})
}

func TestRunner_Cancellation(t *testing.T) {
	t.Run("should stop before calling the model", func(t *testing.T) {
		h := newHarness(t)
		provider := agenttest.NewProvider(agenttest.ToolUse(agenttest.Call("a", "finish", nil)))
		factory, profiles := agenttest.SingleProfile(provider)
		r := h.runner(t, factory, profiles, 0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := r.Run(ctx, h.definition(5), testTask())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, result.Success)
		assert.Empty(t, provider.Requests())

		updates := h.jobs.Updates()
		require.Len(t, updates, 1)
		assert.Equal(t, jobs.StatusError, updates[0].Fields["status"])
		assert.Contains(t, updates[0].Fields["error_message"], "cancelled")
		assert.Len(t, h.executions.Saved(), 1)
	})

	t.Run("should abort an active run by job id", func(t *testing.T) {
		h := newHarness(t)
		provider := agenttest.NewProvider(agenttest.Step{Block: true})
		factory, profiles := agenttest.SingleProfile(provider)
		r := h.runner(t, factory, profiles, 0)

		done := make(chan error, 1)
		go func() {
			_, err := r.Run(context.Background(), h.definition(5), testTask())
			done <- err
		}()

		require.Eventually(t, func() bool { return r.IsRunning("job-1") }, time.Second, time.Millisecond)
		require.NoError(t, r.Abort("job-1"))

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop after abort")
		}
		assert.False(t, r.IsRunning("job-1"))
		assert.NoError(t, r.Abort("job-1"))
	})
}

func TestRunner_SubAgentRunsWithoutJobKind(t *testing.T) {
	h := newHarness(t)
	provider := agenttest.NewProvider(agenttest.ToolUse(note("a", "x")))
	provider.Repeat = true
	factory, profiles := agenttest.SingleProfile(provider)
	r := h.runner(t, factory, profiles, 0)

	task := testTask()
	task.JobKind = ""
	result, err := r.Run(context.Background(), h.definition(2), task)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, h.jobs.Updates())
}
