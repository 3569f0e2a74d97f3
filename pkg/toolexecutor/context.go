package toolexecutor

import "context"

// execKey carries the *ExecutionContext of the agent run that issued a tool
// call. Execute sets it before a handler runs.
type execKey struct{}

// ContextWithExecContext returns ctx carrying execCtx. Handlers are
// registered once per service but serve many concurrent runs, so they read
// the project, job and accumulated run State from here rather than from
// their receiver. A nil execCtx leaves ctx unchanged.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execKey{}, execCtx)
}

// ExecContextFromContext returns the calling run's ExecutionContext, or nil
// when ctx did not come from Execute.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(execKey{}).(*ExecutionContext)
	return execCtx
}
