package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/testutil"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	return port
}

func TestRun(t *testing.T) {
	imapServer := testutil.NewTestIMAPServer(t)
	defer imapServer.Close()
	imapServer.AddMessage(t, "INBOX", testutil.Message{
		From: "Windsurf <no-reply@windsurf.com>", To: "dev@example.com", Subject: "Your Windsurf code 482913",
	})

	host, imapPort, err := net.SplitHostPort(imapServer.Address)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:    "test",
		IMAPHost:       host,
		IMAPPort:       imapPort,
		IMAPUsername:   imapServer.Username(),
		IMAPPassword:   imapServer.Password(),
		Timeout:        5 * time.Second,
		PollInterval:   50 * time.Millisecond,
		FolderFallback: time.Second,
		Port:           freePort(t),
		APIToken:       "token",
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zerolog.Nop())
	}()

	base := "http://127.0.0.1:" + cfg.Port
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, base+"/api/v1/code", strings.NewReader(`{"address":"dev@example.com"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
