package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// authContextKey stores the resolved AuthContext in the context.
	authContextKey contextKey = iota
)

// ContextWithAuthContext returns a new context with the given resolution
// outcome attached. It can later be retrieved with
// [AuthContextFromContext].
//
// This is typically called by [Middleware] after resolution succeeds.
func ContextWithAuthContext(ctx context.Context, actx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, actx)
}

// AuthContextFromContext retrieves the resolution outcome from the
// context. Returns the outcome and true if present, or nil and false if
// none has been set. This function never returns a non-nil outcome with
// false.
func AuthContextFromContext(ctx context.Context) (*AuthContext, bool) {
	actx, ok := ctx.Value(authContextKey).(*AuthContext)
	return actx, ok
}

// MustAuthContextFromContext retrieves the resolution outcome from the
// context, panicking if none is present. This should only be used in
// code paths guaranteed to run behind [Middleware].
func MustAuthContextFromContext(ctx context.Context) *AuthContext {
	actx, ok := AuthContextFromContext(ctx)
	if !ok {
		panic("auth: no auth context in request context; ensure authentication middleware is configured")
	}
	return actx
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
//
// This allows correlating authentication outcomes with distributed traces,
// enabling operators to link denials to specific request flows.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext extracts the OpenTelemetry span ID from the context.
// Returns the span ID as a hex string and true if a valid span is active,
// or an empty string and false if no span is present.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}
