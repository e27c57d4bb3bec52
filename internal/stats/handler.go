package stats

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"payguard/pkg/platform/httputil"
)

// Handler serves the aggregate as JSON.
type Handler struct {
	aggregator *Aggregator
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/metrics", h.HandleSnapshot)
}

func (h *Handler) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.aggregator.Snapshot())
}
