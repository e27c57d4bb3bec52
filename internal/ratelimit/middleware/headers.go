// Package middleware renders admission results onto HTTP responses.
package middleware

import (
	"net/http"
	"strconv"

	"payguard/internal/ratelimit/models"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/httputil"
)

// DegradedHeader is set while the fallback limiter is answering.
const DegradedHeader = "X-RateLimit-Status"

// AddRateLimitHeaders sets the X-RateLimit-* headers for result.
func AddRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set(DegradedHeader, "degraded")
	}
}

// WriteRateLimitExceeded writes the 429 response with Retry-After.
func WriteRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	retryAfter := result.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            string(dErrors.CodeRateLimited),
		ErrorDescription: "Too many requests",
		RetryAfter:       retryAfter,
	})
}
