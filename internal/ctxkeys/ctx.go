package ctxkeys

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	PassIDKey    contextKey = "pass_id"
	TaskIDKey    contextKey = "task_id"
	RequestIDKey contextKey = "request_id"
	TriggerKey   contextKey = "trigger"
)

func PassID(ctx context.Context) string {
	id, _ := ctx.Value(PassIDKey).(string)
	return id
}

func WithPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PassIDKey, id)
}

func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(TaskIDKey).(string)
	return id
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TaskIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// Trigger names what started a pass: "scheduler", "task" or "cli".
func Trigger(ctx context.Context) string {
	trigger, _ := ctx.Value(TriggerKey).(string)
	return trigger
}

func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}
