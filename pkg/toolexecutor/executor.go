package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/harun/studio/internal/observability"
	"github.com/harun/studio/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout bounds a handler when neither the tool nor the caller sets one.
	DefaultTimeout = 30 * time.Second

	maxOutputSize = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Default     interface{}   `json:"default,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
	// Items is the JSON Schema of array elements. Arrays without one accept any element.
	Items map[string]interface{} `json:"items,omitempty"`
	// Properties are the JSON Schemas of an object's fields.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	// Terminal tools end the agent run once their handler has executed.
	Terminal bool `json:"terminal,omitempty"`
	// Timeout overrides the caller's timeout for this tool.
	Timeout time.Duration `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext carries per-call state into handlers. The agent runner
// builds a fresh one for every tool call.
type ExecutionContext struct {
	// ProjectID and JobID address the job record and the project's files.
	ProjectID string
	JobID     string
	// SourceID is the source the run reads from, when it has one.
	SourceID string
	// JobKind selects the job table. Sub-agent runs leave it empty.
	JobKind   string
	AgentName string

	// Iteration is the 1-based loop turn that produced the call. The token
	// counts are cumulative for the run so far, so terminal handlers can
	// copy them onto the job record.
	Iteration    int
	InputTokens  int
	OutputTokens int

	// State is the task's mutable accumulator shared by all calls in one run.
	State interface{}
	// Timeout bounds this call when the tool sets none; zero means DefaultTimeout.
	Timeout time.Duration
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Terminal  bool                   `json:"terminal,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolSchema is the model-facing description of a tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools      map[string]*ToolDefinition
	schemas    map[string]*gojsonschema.Schema
	schemaMaps map[string]map[string]interface{}
	order      []string
	logger     zerolog.Logger
	mu         sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	return &ToolExecutor{
		tools:      make(map[string]*ToolDefinition),
		schemas:    make(map[string]*gojsonschema.Schema),
		schemaMaps: make(map[string]map[string]interface{}),
		logger:     log.Logger.With().Str("component", "toolexecutor").Logger(),
	}
}

// SetLogger replaces the executor's logger.
func (te *ToolExecutor) SetLogger(logger zerolog.Logger) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.logger = logger
}

// RegisterTool registers a new tool. Re-registering a name replaces the
// previous definition but keeps its position.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; !exists {
		te.order = append(te.order, def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.schemaMaps[def.Name] = schemaMap

	te.logger.Debug().Str("tool", def.Name).Bool("terminal", def.Terminal).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[name]; !exists {
		return
	}
	delete(te.tools, name)
	delete(te.schemas, name)
	delete(te.schemaMaps, name)
	for i, n := range te.order {
		if n == name {
			te.order = append(te.order[:i], te.order[i+1:]...)
			break
		}
	}
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns registered tool names in registration order.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return append([]string(nil), te.order...)
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Schemas returns the model-facing schemas in registration order.
func (te *ToolExecutor) Schemas() []ToolSchema {
	te.mu.RLock()
	defer te.mu.RUnlock()

	out := make([]ToolSchema, 0, len(te.order))
	for _, name := range te.order {
		def := te.tools[name]
		out = append(out, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: te.schemaMaps[name],
		})
	}
	return out
}

// Execute validates params, runs the handler under a timeout and reports the
// outcome. Failures never panic or return errors; they are carried in the result.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "studio.toolexecutor", "tool.execute",
		attribute.String("tool.name", toolName),
	)
	defer span.End()

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	logger := tracing.LoggerFromContext(ctx, te.logger).With().Str("tool", toolName).Logger()
	te.mu.RUnlock()

	finish := func(result ToolResult) ToolResult {
		duration := time.Since(startTime)
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["duration"] = duration.Milliseconds()
		observability.RecordToolExecution(toolName, duration, result.Success)
		span.SetAttributes(
			attribute.Bool("tool.success", result.Success),
			attribute.Bool("tool.terminal", result.Terminal),
		)
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		return result
	}

	if tool == nil {
		logger.Warn().Msg("Unknown tool requested")
		return finish(ToolResult{
			Success: false,
			Error:   fmt.Sprintf("Unknown tool: %s", toolName),
		})
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return finish(ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		})
	}

	timeout := DefaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type handlerOutcome struct {
		output interface{}
		err    error
	}
	done := make(chan handlerOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("tool %s panicked: %v", toolName, r)}
			}
		}()
		output, err := tool.Handler(timeoutCtx, params)
		done <- handlerOutcome{output: output, err: err}
	}()

	var outcome handlerOutcome
	select {
	case outcome = <-done:
	case <-timeoutCtx.Done():
		outcome.err = timeoutCtx.Err()
	}

	// A handler that returns because its context ended is reported the same
	// way as one that is still running.
	if outcome.err != nil && timeoutCtx.Err() != nil {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("Tool execution cancelled")
			return finish(ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool execution cancelled: %v", ctx.Err()),
			})
		}
		logger.Error().Dur("timeout", timeout).Msg("Tool execution timeout")
		return finish(ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution timeout after %v", timeout),
		})
	}

	if outcome.err != nil {
		logger.Error().Err(outcome.err).Msg("Tool execution failed")
		span.RecordError(outcome.err)
		return finish(ToolResult{
			Success: false,
			Error:   outcome.err.Error(),
		})
	}

	output, truncated := outcome.output, false
	if !tool.Terminal {
		output, truncated = truncateOutput(output)
		if truncated {
			logger.Warn().Msg("Tool output truncated")
		}
	}

	logger.Debug().Dur("duration", time.Since(startTime)).Bool("terminal", tool.Terminal).Msg("Tool execution completed")

	return finish(ToolResult{
		Success:   true,
		Output:    output,
		Truncated: truncated,
		Terminal:  tool.Terminal,
	})
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput caps the rendered size of an output at maxOutputSize.
// Oversized values are replaced by a truncated string.
func truncateOutput(output interface{}) (interface{}, bool) {
	var str string
	switch v := output.(type) {
	case nil:
		return nil, false
	case string:
		str = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= maxOutputSize {
		return output, false
	}

	return str[:maxOutputSize] + "\n... [output truncated]", true
}
