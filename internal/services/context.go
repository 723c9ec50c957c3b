package services

import "context"

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	batchIDKey contextKey = "batch_id"
	stageKey   contextKey = "stage"
)

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return withValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, runIDKey)
}

// WithBatchID annotates context with the remote batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	return withValue(ctx, batchIDKey, id)
}

// BatchIDFromContext returns the remote batch identifier if present.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, batchIDKey)
}

// WithStage annotates context with the pipeline stage name (detect, submit,
// poll, materialize).
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, stageKey)
}

// Blank values leave ctx untouched so an outer value is not masked.
func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
