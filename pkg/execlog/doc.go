// Package execlog records agent executions as JSONL, one file per project
// and agent: <root>/<project>/executions/<agent>.jsonl.
//
// Appends to the same file are serialized; lines are never rewritten.
package execlog
