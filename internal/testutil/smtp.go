package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-smtp"
)

// DeliveryBackend is an SMTP backend that drops every accepted message into a mailbox
// of the in-memory IMAP backend, so tests can send real mail and read it back over IMAP.
type DeliveryBackend struct {
	imap *memory.Backend

	mu sync.Mutex
	// route picks the folder for a recipient. INBOX when nil.
	route     func(rcpt string) string
	delivered int
}

// NewDeliveryBackend creates a backend delivering into be.
func NewDeliveryBackend(be *memory.Backend) *DeliveryBackend {
	return &DeliveryBackend{imap: be}
}

// RouteWith sets the folder routing function.
func (b *DeliveryBackend) RouteWith(route func(rcpt string) string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.route = route
}

// Delivered returns how many messages were stored.
func (b *DeliveryBackend) Delivered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

// NewSession creates a new SMTP session.
func (b *DeliveryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &deliverySession{backend: b}, nil
}

func (b *DeliveryBackend) folderFor(rcpt string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.route == nil {
		return "INBOX"
	}
	return b.route(rcpt)
}

func (b *DeliveryBackend) deliver(rcpt string, data []byte) error {
	user, err := b.imap.Login(nil, IMAPUsername, IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to open mailbox user: %w", err)
	}

	folder := b.folderFor(rcpt)
	mbox, err := user.GetMailbox(folder)
	if err != nil {
		if err := user.CreateMailbox(folder); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
		if mbox, err = user.GetMailbox(folder); err != nil {
			return fmt.Errorf("failed to open folder %s: %w", folder, err)
		}
	}

	if err := mbox.CreateMessage(nil, time.Now(), bytes.NewBuffer(data)); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()
	return nil
}

type deliverySession struct {
	backend *DeliveryBackend
	from    string
	to      []string
}

func (s *deliverySession) AuthMechanism() (string, bool) {
	return "PLAIN", true
}

func (s *deliverySession) Auth(username, password string) error {
	// Accept any credentials for testing
	return nil
}

func (s *deliverySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *deliverySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *deliverySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	// All recipients share the one test mailbox; deliver once per distinct folder.
	folders := make(map[string]bool)
	for _, rcpt := range s.to {
		folder := s.backend.folderFor(rcpt)
		if folders[folder] {
			continue
		}
		folders[folder] = true
		if err := s.backend.deliver(rcpt, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *deliverySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *deliverySession) Logout() error {
	return nil
}

// TestSMTPServer represents a test SMTP server instance.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *DeliveryBackend
	cleanup func()
}

// NewTestSMTPServer starts an SMTP server on a random port delivering into imapServer.
func NewTestSMTPServer(t *testing.T, imapServer *TestIMAPServer) *TestSMTPServer {
	t.Helper()

	srv, err := StartSMTPServer("127.0.0.1:0", imapServer.Backend)
	if err != nil {
		t.Fatalf("Failed to start SMTP server: %v", err)
	}
	return srv
}

// StartSMTPServer starts an SMTP server on addr delivering into be.
func StartSMTPServer(addr string, be *memory.Backend) (*TestSMTPServer, error) {
	backend := NewDeliveryBackend(be)

	s := smtp.NewServer(backend)
	s.Addr = addr
	s.AllowInsecureAuth = true
	s.Domain = "localhost"
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		// Serve returns once the server is closed.
		_ = s.Serve(listener)
	}()

	return &TestSMTPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: backend,
		cleanup: func() {
			_ = s.Close()
		},
	}, nil
}

// Close shuts down the test SMTP server.
func (s *TestSMTPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Send submits msg through the server. The server has no TLS, so this talks plain SMTP
// instead of smtp.SendMail, which insists on STARTTLS.
func (s *TestSMTPServer) Send(from string, to []string, msg Message) error {
	c, err := smtp.Dial(s.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.SendMail(from, to, strings.NewReader(msg.Build())); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return c.Quit()
}
