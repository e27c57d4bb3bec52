// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services and stores read them without
// importing net/http.
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type (
	principalKey   struct{}
	clientIPKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue.
var (
	ContextKeyPrincipal   = principalKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Principal returns the authenticated caller (API key label or JWT subject).
// Returns "" if the request was not authenticated.
func Principal(ctx context.Context) string {
	if p, ok := ctx.Value(ContextKeyPrincipal).(string); ok {
		return p
	}
	return ""
}

// WithPrincipal injects the authenticated caller into the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the client IP into a context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
