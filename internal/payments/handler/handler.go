// Package handler exposes the decide flow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payguard/internal/domain"
	"payguard/internal/payments"
	rlmiddleware "payguard/internal/ratelimit/middleware"
	"payguard/internal/ratelimit/models"
	"payguard/pkg/platform/httputil"
	"payguard/pkg/requestcontext"
)

// ReplayedHeader marks a response served from a stored decision.
const ReplayedHeader = "Idempotent-Replayed"

// Service is the idempotent decide flow.
type Service interface {
	Process(ctx context.Context, req payments.DecisionRequest) (*payments.Outcome, error)
}

// Limiter admits or rejects one request for a customer.
type Limiter interface {
	Check(ctx context.Context, customerID string) (*models.RateLimitResult, error)
}

// Recorder tracks the decision and latency of every decide request.
type Recorder interface {
	Record(decision domain.Decision, latency time.Duration)
}

type Handler struct {
	service  Service
	limiter  Limiter
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration
}

func New(service Service, limiter Limiter, recorder Recorder, logger *slog.Logger, timeout time.Duration) *Handler {
	return &Handler{
		service:  service,
		limiter:  limiter,
		recorder: recorder,
		logger:   logger,
		timeout:  timeout,
	}
}

// Register mounts the decide route. Credentials are checked by the caller's
// middleware stack.
func (h *Handler) Register(r chi.Router) {
	r.Post("/payments/decide", h.HandleDecide)
}

// HandleDecide validates, admits and decides one payment. Only admitted
// requests reach the recorder; a failed decision is recorded as a block.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[DecideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.limiter.Check(ctx, req.CustomerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rlmiddleware.AddRateLimitHeaders(w, result)
	if !result.Allowed {
		rlmiddleware.WriteRateLimitExceeded(w, result)
		return
	}

	decision := domain.DecisionBlock
	defer func() {
		if h.recorder != nil {
			h.recorder.Record(decision, time.Since(start))
		}
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	out, err := h.service.Process(ctx, req.toDomain())
	if err != nil {
		h.logger.WarnContext(ctx, "payment decision failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	decision = out.Record.Decision
	if out.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	httputil.WriteJSON(w, http.StatusOK, out.Record)
}
