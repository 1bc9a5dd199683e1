package services

import "context"

type contextKey string

const (
	runIDKey      contextKey = "run_id"
	stageKey      contextKey = "stage"
	jobIndexKey   contextKey = "job_index"
	influencerKey contextKey = "influencer"
)

// WithRunID annotates context with the batch run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the batch run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the plan stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithJobIndex annotates context with the job's position in its stage.
func WithJobIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, jobIndexKey, index)
}

// JobIndexFromContext extracts the job position if present.
func JobIndexFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(jobIndexKey).(int)
	return v, ok
}

// WithInfluencer annotates context with the persona a job renders.
func WithInfluencer(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, influencerKey, name)
}

// InfluencerFromContext returns the persona name if present.
func InfluencerFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(influencerKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
