// Command test-server runs a local sandbox: an in-memory IMAP mailbox, an SMTP server that
// delivers into it, and the vcode API wired to that mailbox. Mail sent to an address
// containing "+junk" lands in the Junk folder, to exercise the folder fallback.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/api"
	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/logging"
	"github.com/vdavid/vcode/internal/retriever"
	"github.com/vdavid/vcode/internal/testutil"
)

func main() {
	log := logging.New(getEnvOrDefault("VCODE_LOG_LEVEL", "debug"), true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error().Err(err).Msg("Sandbox failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	imapServer, smtpServer, err := startMailServers(log)
	if err != nil {
		return err
	}
	defer imapServer.Close()
	defer smtpServer.Close()

	if err := seedTestData(imapServer); err != nil {
		return fmt.Errorf("failed to seed test data: %w", err)
	}

	cfg, err := sandboxConfig(imapServer)
	if err != nil {
		return err
	}

	r := retriever.New(cfg, imapServer.Password(), log)
	handler := api.NewServer(cfg, r, retriever.IMAPConfig(cfg, imapServer.Password()), log)

	log.Info().
		Str("imap", imapServer.Address).
		Str("smtp", smtpServer.Address).
		Str("username", imapServer.Username()).
		Str("password", imapServer.Password()).
		Str("api_token", cfg.APIToken).
		Msg("Sandbox ready. Press Ctrl+C to stop.")

	return api.ListenAndServe(ctx, ":"+cfg.Port, handler, log)
}

// startMailServers starts the IMAP server and an SMTP server delivering into it.
func startMailServers(log zerolog.Logger) (*testutil.TestIMAPServer, *testutil.TestSMTPServer, error) {
	imapServer, err := testutil.StartIMAPServer(getEnvOrDefault("VCODE_SANDBOX_IMAP_ADDR", "127.0.0.1:1143"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	log.Info().Str("address", imapServer.Address).Msg("Test IMAP server started")

	smtpServer, err := testutil.StartSMTPServer(getEnvOrDefault("VCODE_SANDBOX_SMTP_ADDR", "127.0.0.1:1025"), imapServer.Backend)
	if err != nil {
		imapServer.Close()
		return nil, nil, fmt.Errorf("failed to start test SMTP server: %w", err)
	}
	smtpServer.Backend.RouteWith(routeRecipient)
	log.Info().Str("address", smtpServer.Address).Msg("Test SMTP server started")

	return imapServer, smtpServer, nil
}

func routeRecipient(rcpt string) string {
	if strings.Contains(strings.ToLower(rcpt), "+junk") {
		return "Junk"
	}
	return "INBOX"
}

// seedTestData creates the folders a real account has and a few decoys the classifier must skip.
func seedTestData(imapServer *testutil.TestIMAPServer) error {
	for _, folder := range []string{"Sent", "Drafts", "Junk", "Trash", "Archive"} {
		if err := imapServer.CreateFolder(folder); err != nil {
			return err
		}
	}

	decoys := []testutil.Message{
		{
			// Stale: outside the recency window.
			From: "Windsurf <no-reply@windsurf.com>", To: "dev@example.com",
			Subject: "Your Windsurf code 111111", Date: time.Now().Add(-3 * time.Hour),
		},
		{
			// Not from a verification sender.
			From: "Newsletter <news@example.org>", To: "dev@example.com",
			Subject: "Weekly digest 222222",
		},
	}

	user, err := imapServer.Backend.Login(nil, imapServer.Username(), imapServer.Password())
	if err != nil {
		return fmt.Errorf("failed to open backend user: %w", err)
	}
	inbox, err := user.GetMailbox("INBOX")
	if err != nil {
		return fmt.Errorf("failed to open INBOX: %w", err)
	}
	for _, m := range decoys {
		date := m.Date
		if date.IsZero() {
			date = time.Now()
		}
		if err := inbox.CreateMessage(nil, date, bytes.NewBufferString(m.Build())); err != nil {
			return fmt.Errorf("failed to add decoy %q: %w", m.Subject, err)
		}
	}
	return nil
}

func sandboxConfig(imapServer *testutil.TestIMAPServer) (*config.Config, error) {
	host, port, err := net.SplitHostPort(imapServer.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse IMAP address: %w", err)
	}

	cfg := &config.Config{
		Environment:    "test",
		IMAPHost:       host,
		IMAPPort:       port,
		IMAPUseTLS:     false,
		IMAPUsername:   imapServer.Username(),
		IMAPPassword:   imapServer.Password(),
		Timeout:        120 * time.Second,
		PollInterval:   2 * time.Second,
		FolderFallback: 30 * time.Second,
		LogLevel:       "debug",
		Port:           getEnvOrDefault("PORT", "8080"),
		APIToken:       getEnvOrDefault("VCODE_API_TOKEN", "sandbox-token"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, cfg.ValidateServer()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
