package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/auth"
	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/imap"
	ws "github.com/vdavid/vcode/internal/websocket"
)

const shutdownGrace = 10 * time.Second

// NewServer creates and returns the HTTP handler for the vcode API.
// imapCfg is only used by the test endpoints.
func NewServer(cfg *config.Config, r CodeRetriever, imapCfg imap.Config, log zerolog.Logger) http.Handler {
	hub := ws.NewHub(10, log)
	requireAuth := auth.RequireToken(cfg.APIToken, log)

	codeHandler := NewCodeHandler(r, hub, log)
	healthHandler := NewHealthHandler(r, log)
	wsHandler := NewWebSocketHandler(r, hub, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)
	mux.Handle("/api/v1/code", requireAuth(http.HandlerFunc(codeHandler.RetrieveCode)))
	mux.Handle("/api/v1/health", requireAuth(http.HandlerFunc(healthHandler.Check)))
	// Browsers can't set headers on WebSocket connections; the middleware also accepts ?token=.
	mux.Handle("/api/v1/ws", requireAuth(http.HandlerFunc(wsHandler.Handle)))

	if cfg.Environment == "test" {
		testHandler := NewTestHandler(imapCfg, log)
		mux.Handle("/test/add-imap-message", requireAuth(http.HandlerFunc(testHandler.AddIMAPMessage)))
	}

	return mux
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "vcode API is running")
}

// ListenAndServe serves handler on addr until ctx is done, then shuts down gracefully.
// WriteTimeout is left unset because code requests block for up to the retrieval timeout.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("HTTP server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
