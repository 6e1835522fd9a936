// Package requestcontext provides transport-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; flows and stores read them. Keeping the
// package free of net/http lets batch workers and tests use the same
// accessors.
package requestcontext

import (
	"context"
	"time"
)

type (
	registrarIDKey struct{}
	sessionIDKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// RegistrarID retrieves the authenticated registrar from the context.
// Returns "" if not set.
func RegistrarID(ctx context.Context) string {
	if id, ok := ctx.Value(registrarIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRegistrarID injects a registrar identifier into the context.
func WithRegistrarID(ctx context.Context, registrarID string) context.Context {
	return context.WithValue(ctx, registrarIDKey{}, registrarID)
}

// SessionID retrieves the protocol session identifier from the context.
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithSessionID injects a session identifier into the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context, falling back to
// time.Now for non-request contexts (workers, CLI, tests that don't care).
//
// The flow executor stamps the context once per transaction attempt so every
// time comparison inside a flow sees the same instant.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
