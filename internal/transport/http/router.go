// Package httptransport assembles the public router.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payguard/internal/platform/metrics"
	"payguard/internal/platform/middleware"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/httputil"
)

// Registrar mounts its routes on r.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Config struct {
	APIKey       string
	JWTValidator middleware.JWTValidator
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer

	// Protected routes require X-API-Key or a bearer token.
	Protected []Registrar
	Public    []Registrar
	Health    map[string]HealthChecker
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewRouter wires every endpoint. Unknown routes and wrong verbs get the JSON
// error envelope.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Latency(cfg.Metrics))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Error:            "method_not_allowed",
			ErrorDescription: "Method not allowed",
		})
	})

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics/prometheus", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	for _, reg := range cfg.Public {
		reg.Register(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCredential(cfg.APIKey, cfg.JWTValidator, cfg.Logger))
		for _, reg := range cfg.Protected {
			reg.Register(r)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
