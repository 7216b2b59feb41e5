package runctx

import "context"

type runIDKey struct{}
type triggerKey struct{}

// WithRunID returns a context carrying the orchestration run ID. Events and
// journal rows emitted under this context are attributed to the run.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID from the context, or empty string if not set.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(runIDKey{}).(string)
	return s
}

// WithTrigger records what started the run (e.g. "cli", "schedule:nightly").
func WithTrigger(ctx context.Context, trigger string) context.Context {
	if trigger == "" {
		return ctx
	}
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// Trigger returns the run trigger, defaulting to "cli".
func Trigger(ctx context.Context) string {
	if ctx == nil {
		return "cli"
	}
	if s, _ := ctx.Value(triggerKey{}).(string); s != "" {
		return s
	}
	return "cli"
}
