package agent

import (
	"fmt"

	"github.com/harun/studio/pkg/toolexecutor"
)

// ToolChoice controls whether the model must call a tool.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceAny  ToolChoice = "any"
	ToolChoiceNone ToolChoice = "none"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultMaxIterations = 10
	DefaultMaxTokens     = 4096
)

// ToolSchema is the model-facing tool description.
type ToolSchema = toolexecutor.ToolSchema

// Definition describes one agent: its prompt, model settings and tools.
type Definition struct {
	Name          string
	SystemPrompt  string
	Model         string
	MaxTokens     int
	Temperature   *float64
	MaxIterations int
	ToolChoice    ToolChoice
	Tools         *toolexecutor.ToolExecutor
}

func (d *Definition) validate() error {
	if d == nil {
		return fmt.Errorf("agent definition is required")
	}
	if d.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if d.Model == "" {
		return fmt.Errorf("agent %s: model is required", d.Name)
	}
	if d.Tools == nil {
		return fmt.Errorf("agent %s: tool executor is required", d.Name)
	}
	if d.MaxIterations < 0 {
		return fmt.Errorf("agent %s: max iterations cannot be negative", d.Name)
	}
	if d.Temperature != nil && (*d.Temperature < 0 || *d.Temperature > 1) {
		return fmt.Errorf("agent %s: temperature must be between 0 and 1", d.Name)
	}
	return nil
}

func (d *Definition) maxIterations() int {
	if d.MaxIterations > 0 {
		return d.MaxIterations
	}
	return DefaultMaxIterations
}

func (d *Definition) maxTokens() int {
	if d.MaxTokens > 0 {
		return d.MaxTokens
	}
	return DefaultMaxTokens
}

// Task is one unit of work handed to an agent.
type Task struct {
	ProjectID string `json:"project_id"`
	JobID     string `json:"job_id"`
	SourceID  string `json:"source_id,omitempty"`
	// JobKind selects the job record the runner marks on failure. Empty
	// means the run has no job record of its own.
	JobKind     string                 `json:"job_kind,omitempty"`
	Description string                 `json:"description,omitempty"`
	UserMessage string                 `json:"user_message"`
	State       interface{}            `json:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RunResult is the outcome of Runner.Run.
type RunResult struct {
	Success      bool        `json:"success"`
	Terminated   bool        `json:"terminated"`
	Output       interface{} `json:"output,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Iterations   int         `json:"iterations"`
	Usage        TokenUsage  `json:"usage"`
	ExecutionID  string      `json:"execution_id"`
}

// Outcome is implemented by terminal tool outputs that can report failure.
type Outcome interface {
	Succeeded() bool
	FailureMessage() string
}

// ToolCall represents a tool invocation
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u into t.
func (t *TokenUsage) Add(u *TokenUsage) {
	if u == nil {
		return
	}
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
}

// AuthProfile represents authentication credentials for LLM providers
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic", "openai", "gemini"
	APIKey        string `json:"api_key"`
	Model         string `json:"model,omitempty"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// AgentMessage is one turn of the conversation. A user turn carries either
// text or the grouped results of the previous assistant turn's tool calls.
type AgentMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolResult is the reply to one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	// ToolName is required by providers that match results by function name.
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
	IsError  bool   `json:"is_error,omitempty"`
}
