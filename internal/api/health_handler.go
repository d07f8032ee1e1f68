package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const healthCheckTimeout = 10 * time.Second

// HealthHandler serves GET /api/v1/health by logging in to the mailbox once.
type HealthHandler struct {
	retriever CodeRetriever
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(r CodeRetriever, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{retriever: r, log: log.With().Str("handler", "health").Logger()}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Check reports 200 when the mailbox accepts our credentials and 502 otherwise.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.retriever.TestConnection(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, h.log, http.StatusBadGateway, healthResponse{Status: "error", Error: err.Error()})
		return
	}

	writeJSON(w, h.log, http.StatusOK, healthResponse{Status: "ok"})
}
