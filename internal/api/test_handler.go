package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/imap"
)

// TestHandler provides test-only endpoints used by E2E tests to seed the mailbox.
// These endpoints are only registered in test environments.
type TestHandler struct {
	imapCfg imap.Config
	log     zerolog.Logger
}

// NewTestHandler creates a new TestHandler instance.
func NewTestHandler(imapCfg imap.Config, log zerolog.Logger) *TestHandler {
	return &TestHandler{imapCfg: imapCfg, log: log.With().Str("handler", "test").Logger()}
}

type addIMAPMessageRequest struct {
	Folder  string `json:"folder"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	To      string `json:"to"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Seen    bool   `json:"seen"`
}

// AddIMAPMessage appends a message to a folder of the configured mailbox.
// It is used by E2E tests to simulate a verification mail arriving.
func (h *TestHandler) AddIMAPMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	store := imap.NewStore(h.imapCfg, h.log)
	defer func() {
		_ = store.Close()
	}()

	if err := store.Connect(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to connect to IMAP server")
		http.Error(w, "failed to connect to IMAP server", http.StatusBadGateway)
		return
	}

	if err := store.Append(r.Context(), req.Folder, req.Seen, buildMessage(req, time.Now())); err != nil {
		h.log.Warn().Err(err).Str("folder", req.Folder).Msg("Failed to append message")
		http.Error(w, "failed to append message to IMAP folder", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseRequest parses and validates the request body.
func (h *TestHandler) parseRequest(r *http.Request) (*addIMAPMessageRequest, error) {
	var req addIMAPMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}

	if req.Folder == "" {
		req.Folder = "INBOX"
	}

	if req.Subject == "" || req.From == "" || req.To == "" {
		return nil, fmt.Errorf("subject, from, and to are required")
	}

	return &req, nil
}

// buildMessage renders a single-part RFC 822 message. HTML wins over text when both are set.
func buildMessage(req *addIMAPMessageRequest, now time.Time) []byte {
	contentType, body := "text/plain", req.Text
	if req.HTML != "" {
		contentType, body = "text/html", req.HTML
	}
	if body == "" {
		body = "E2E test message."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: <e2e-%s@vcode.local>\r\n", uuid.NewString())
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", req.From)
	fmt.Fprintf(&b, "To: %s\r\n", req.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=utf-8\r\n\r\n%s\r\n", contentType, body)
	return []byte(b.String())
}
