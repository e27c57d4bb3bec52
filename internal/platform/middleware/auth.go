package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"payguard/internal/ratelimit/ports"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/httputil"
	"payguard/pkg/requestcontext"
)

// APIKeyHeader carries the shared merchant API key.
const APIKeyHeader = "X-API-Key"

// JWTValidator defines the interface for validating bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims the middleware needs from a validated token.
type JWTClaims struct {
	Subject string
	TokenID string
}

// RequireCredential accepts either the configured API key in X-API-Key or a
// bearer token accepted by validator. Either may be disabled by passing an
// empty key or a nil validator.
func RequireCredential(apiKey string, validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if key := r.Header.Get(APIKeyHeader); key != "" && apiKey != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
					ctx = requestcontext.WithPrincipal(ctx, "api-key")
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				ports.LogAudit(ctx, logger, "auth_failed", "reason", "invalid_api_key")
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid API key"))
				return
			}

			const bearerPrefix = "Bearer "
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok && validator != nil {
				claims, err := validator.ValidateToken(token)
				if err != nil {
					ports.LogAudit(ctx, logger, "auth_failed", "reason", "invalid_token", "error", err)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
					return
				}
				ctx = requestcontext.WithPrincipal(ctx, claims.Subject)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ports.LogAudit(ctx, logger, "auth_failed", "reason", "missing_credentials")
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing credentials"))
		})
	}
}
