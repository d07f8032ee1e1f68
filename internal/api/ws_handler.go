package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/logging"
	"github.com/vdavid/vcode/internal/retriever"
	ws "github.com/vdavid/vcode/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for live retrieval progress.
type WebSocketHandler struct {
	retriever CodeRetriever
	hub       *ws.Hub
	log       zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(r CodeRetriever, hub *ws.Hub, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		retriever: r,
		hub:       hub,
		log:       log.With().Str("handler", "ws").Logger(),
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The endpoint is token-protected and expected to run behind a trusted proxy.
		return true
	},
}

// Handle upgrades the connection and subscribes it to events for ?address=.
// Without ?watch=true it also starts a retrieval and closes the socket once it ends;
// the last event (state "closed") carries the code or the error.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	target, err := retriever.NormalizeTarget(query.Get("address"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	watch := false
	if v := query.Get("watch"); v != "" {
		if watch, err = strconv.ParseBool(v); err != nil {
			writeJSON(w, h.log, http.StatusBadRequest, errorResponse{Error: "watch must be true or false", Kind: "invalid_request"})
			return
		}
	}

	timeout, err := parseTimeoutSeconds(query.Get("timeout_seconds"))
	if err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}

	log := h.log.With().Str("target", logging.MaskEmail(target)).Bool("watch", watch).Logger()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := h.hub.Register(target, conn)
	if client == nil {
		log.Warn().Msg("Connection rejected, too many subscribers")
		return
	}
	log.Debug().Msg("WebSocket connection established")

	// The retrieval outlives the HTTP request but not the socket.
	ctx, cancel := context.WithCancel(context.Background())
	go h.readLoop(target, client, cancel)

	if watch {
		return
	}

	go func() {
		defer cancel()
		if _, err := h.retriever.RetrieveCode(ctx, target, timeout, broadcaster(h.hub, target)); err != nil {
			log.Info().Err(err).Msg("Streamed retrieval ended without a code")
		}
		client.CloseNormal("retrieval finished")
	}()
}

// readLoop reads until the client disconnects, then unregisters it and stops its retrieval.
func (h *WebSocketHandler) readLoop(target string, client *ws.Client, cancel context.CancelFunc) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	h.hub.Unregister(target, client)
}
