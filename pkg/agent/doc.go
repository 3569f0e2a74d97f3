// Package agent drives multi-turn tool-calling conversations with an LLM.
//
// A Runner sends the conversation and the definition's tool schemas to the
// model, dispatches every requested tool call through a toolexecutor, and
// feeds the grouped results back as the next user turn. The run ends when a
// terminal tool has executed, when the iteration budget is spent, or when
// the model cannot be reached.
//
// Invariants:
//   - Every tool call in an assistant turn gets exactly one result in the
//     following user turn, unless a terminal tool ended the run first.
//   - Iteration numbers passed to handlers are 1-based and token totals
//     never decrease.
//   - Auth profiles are tried in priority order; failing profiles cool down
//     for 60s per consecutive failure.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Jobs: store, Executions: log, AuthProfiles: profiles})
//	result, err := runner.Run(ctx, &agent.Definition{...}, agent.Task{...})
package agent
