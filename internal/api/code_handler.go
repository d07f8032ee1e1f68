package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/logging"
	"github.com/vdavid/vcode/internal/retriever"
	ws "github.com/vdavid/vcode/internal/websocket"
)

// CodeHandler serves POST /api/v1/code.
type CodeHandler struct {
	retriever CodeRetriever
	hub       *ws.Hub
	log       zerolog.Logger
}

// NewCodeHandler creates a new CodeHandler instance.
func NewCodeHandler(r CodeRetriever, hub *ws.Hub, log zerolog.Logger) *CodeHandler {
	return &CodeHandler{
		retriever: r,
		hub:       hub,
		log:       log.With().Str("handler", "code").Logger(),
	}
}

type codeRequest struct {
	Address        string `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type codeResponse struct {
	Address string `json:"address"`
	Code    string `json:"code"`
}

// RetrieveCode blocks until a code for the requested address arrives or the timeout passes.
// Progress is also broadcast to WebSocket watchers of the same address.
func (h *CodeHandler) RetrieveCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req codeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "invalid_request"})
		return
	}
	timeout, err := timeoutFromSeconds(req.TimeoutSeconds)
	if err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}

	target, err := retriever.NormalizeTarget(req.Address)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	log := h.log.With().Str("target", logging.MaskEmail(target)).Logger()
	start := time.Now()

	code, err := h.retriever.RetrieveCode(r.Context(), target, timeout, broadcaster(h.hub, target))
	if err != nil {
		if !errors.Is(err, r.Context().Err()) {
			log.Info().Err(err).Dur("elapsed", time.Since(start)).Msg("Code request failed")
		}
		writeError(w, log, err)
		return
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("Code request served")
	writeJSON(w, log, http.StatusOK, codeResponse{Address: target, Code: code})
}
