package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/retrieval"
	"github.com/vdavid/vcode/internal/retriever"
	ws "github.com/vdavid/vcode/internal/websocket"
)

// CodeRetriever is what the handlers need from retriever.Retriever.
type CodeRetriever interface {
	RetrieveCode(ctx context.Context, target string, maxWait time.Duration, options ...retriever.Option) (string, error)
	TestConnection(ctx context.Context) error
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON encodes to a buffer first so a failed encode never leaves a partial body.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// errorStatus maps a retrieval error to an HTTP status and a short machine-readable kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, retriever.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, retrieval.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, retrieval.ErrConnection):
		return http.StatusBadGateway, "connection"
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this.
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status, kind := errorStatus(err)
	writeJSON(w, log, status, errorResponse{Error: err.Error(), Kind: kind})
}

// parseTimeoutSeconds reads a timeout in whole seconds. Zero means "use the default".
func parseTimeoutSeconds(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("timeout_seconds must be a non-negative integer")
	}
	return timeoutFromSeconds(seconds)
}

// timeoutFromSeconds bounds seconds before converting, so huge values cannot overflow.
func timeoutFromSeconds(seconds int) (time.Duration, error) {
	if seconds < 0 {
		return 0, errors.New("timeout_seconds must be a non-negative integer")
	}
	if seconds > int(retriever.MaxWait/time.Second) {
		return 0, fmt.Errorf("timeout_seconds must be at most %d", int(retriever.MaxWait/time.Second))
	}
	return time.Duration(seconds) * time.Second, nil
}

// broadcaster streams a session's events to every WebSocket subscriber of target.
func broadcaster(hub *ws.Hub, target string) retriever.Option {
	return retriever.WithObserver(retrieval.ObserverFunc(func(e retrieval.Event) {
		hub.SendJSON(target, e)
	}))
}
