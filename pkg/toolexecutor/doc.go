// Package toolexecutor registers and executes structured tools for agents.
//
// Invariants:
// - Tool names are unique and schemas are listed in registration order.
// - Parameters are schema-validated before execution.
// - A result is terminal only when a terminal tool's handler actually ran.
// - Failures are reported in ToolResult, never returned or panicked.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
package toolexecutor
