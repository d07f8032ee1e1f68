package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// Credentials of the default user created by the memory backend.
const (
	IMAPUsername = "username"
	IMAPPassword = "password"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
	cleanup func()
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend.
// The memory backend creates a default user with username "username" and password "password",
// and an INBOX holding one old, read message.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	srv, err := StartIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	return srv
}

// StartIMAPServer starts a memory IMAP server outside of a test, for the sandbox command.
func StartIMAPServer(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		// Serve returns once the server is closed.
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
	}, nil
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return IMAPUsername
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return IMAPPassword
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(IMAPUsername, IMAPPassword); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// EnsureFolder creates folderName unless it already exists.
func (s *TestIMAPServer) EnsureFolder(t *testing.T, folderName string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, true); err == nil {
		return
	}
	if err := client.Create(folderName); err != nil {
		t.Fatalf("Failed to create %s: %v", folderName, err)
	}
}

// Message is a test mail to put in a folder.
type Message struct {
	MessageID string
	From      string
	To        string
	Subject   string
	Date      time.Time
	Text      string
	HTML      string
	Seen      bool
}

// Build renders the message as RFC 822. With both Text and HTML set it is multipart/alternative.
func (m Message) Build() string {
	messageID := m.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("<%d@test.local>", time.Now().UnixNano())
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case m.HTML != "" && m.Text != "":
		const boundary = "vcode-test-boundary"
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, m.Text)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, m.HTML)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case m.HTML != "":
		fmt.Fprintf(&b, "Content-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", m.HTML)
	default:
		fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", m.Text)
	}

	return b.String()
}

// AddMessage appends msg to folderName and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName string, msg Message) uint32 {
	t.Helper()

	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("<%d@test.local>", time.Now().UnixNano())
	}

	client, cleanup := s.Connect(t)
	defer cleanup()

	var flags []string
	if msg.Seen {
		flags = []string{imap.SeenFlag}
	}
	if err := client.Append(folderName, flags, time.Now(), strings.NewReader(msg.Build())); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	if _, err := client.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	// Search for the message we just added to get its UID
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", msg.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}

	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}

	return uids[0]
}

// IsSeen reports whether the message with uid in folderName carries \Seen.
func (s *TestIMAPServer) IsSeen(t *testing.T, folderName string, uid uint32) bool {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	messages := make(chan *imap.Message, 1)
	if err := client.UidFetch(seqSet, []imap.FetchItem{imap.FetchFlags}, messages); err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}

	for msg := range messages {
		for _, flag := range msg.Flags {
			if flag == imap.SeenFlag {
				return true
			}
		}
	}
	return false
}

// CreateFolder creates folderName on the backend unless it already exists. Unlike
// EnsureFolder it needs no *testing.T, for the sandbox command.
func (s *TestIMAPServer) CreateFolder(folderName string) error {
	user, err := s.Backend.Login(nil, IMAPUsername, IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to open backend user: %w", err)
	}
	if _, err := user.GetMailbox(folderName); err == nil {
		return nil
	}
	if err := user.CreateMailbox(folderName); err != nil {
		return fmt.Errorf("failed to create %s: %w", folderName, err)
	}
	return nil
}
