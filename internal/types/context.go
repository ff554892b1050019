package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	workerIDKey  contextKey = "worker_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithWorkerID stores the id of the process running a scheduled job. Outbound
// calls use it for correlation when no request ID is present.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// GetWorkerID retrieves the worker ID from the context.
func GetWorkerID(ctx context.Context) string {
	id, _ := ctx.Value(workerIDKey).(string)
	return id
}
