// Package ports defines the interfaces shared by the ratelimit service and its stores.
package ports

import (
	"context"
	"log/slog"
	"time"

	"payguard/internal/ratelimit/models"
	"payguard/pkg/requestcontext"
)

// WindowStore holds per-key admission state.
type WindowStore interface {
	// Allow consumes one unit for key if the allowance permits it.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)

	// Reset clears the state for key.
	Reset(ctx context.Context, key string) error
}

// LogAudit logs a security-relevant event, such as a rejected credential or
// an exceeded limit, with the request ID attached.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
