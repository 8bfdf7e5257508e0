package middleware

import "context"

// ContextKeyRequestID is the echo context key holding the request id.
const ContextKeyRequestID = "request_id"

type requestIDKey struct{}

// WithRequestID stores rid on a standard context for code below the handlers.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, rid)
}

// RequestIDFromStdContext returns the id stored by WithRequestID.
func RequestIDFromStdContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}
