package tool

import "context"

// ProgressFunc reports what a tool is doing while the agent runs
type ProgressFunc func(ctx context.Context, message string)

type progressKey struct{}

// WithProgress returns a context carrying fn
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// Progress calls the ProgressFunc stored in ctx. It is a no-op without one.
func Progress(ctx context.Context, message string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(ctx, message)
	}
}
