// Package imap implements the retrieval mail store over go-imap.
package imap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/models"
	"github.com/vdavid/vcode/internal/retrieval"
)

// DefaultCommandTimeout bounds a single IMAP command.
const DefaultCommandTimeout = 30 * time.Second

// logoutGrace is how long Close waits for LOGOUT before dropping the connection.
const logoutGrace = 2 * time.Second

// ErrStoreClosed is returned by calls made after Close.
var ErrStoreClosed = errors.New("imap store is closed")

// Config describes one IMAP account.
type Config struct {
	// Address is host:port.
	Address        string
	Username       string
	Password       string
	UseTLS         bool
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// Store is a single IMAP connection used by one retrieval session.
type Store struct {
	cfg Config
	log zerolog.Logger

	// cmdMu serializes commands. Close never waits on it.
	cmdMu sync.Mutex

	// mu guards the fields below.
	mu     sync.Mutex
	client *client.Client
	folder string
	closed bool
}

var _ retrieval.MailStore = (*Store)(nil)

// NewStore creates a store. Nothing is dialed until Connect.
func NewStore(cfg Config, log zerolog.Logger) *Store {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Store{
		cfg: cfg,
		log: log.With().Str("component", "imap").Str("server", cfg.Address).Logger(),
	}
}

// Connect dials and logs in.
func (s *Store) Connect(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed, existing := s.closed, s.client
	s.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}
	if existing != nil {
		return nil
	}

	c, err := ConnectToIMAP(s.cfg.Address, s.cfg.UseTLS, s.cfg.DialTimeout)
	if err != nil {
		return err
	}
	c.Timeout = s.cfg.CommandTimeout

	if err := Login(c, s.cfg.Username, s.cfg.Password); err != nil {
		_ = c.Terminate()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Close ran while we were dialing.
		_ = c.Terminate()
		return ErrStoreClosed
	}
	s.client = c
	s.log.Debug().Msg("Connected to IMAP server")
	return nil
}

// ListFolders returns the folder catalog.
func (s *Store) ListFolders(ctx context.Context) ([]models.Folder, error) {
	var folders []models.Folder
	err := s.do(ctx, func(c *client.Client) error {
		var err error
		folders, err = ListFolders(c)
		return err
	})
	return folders, err
}

// OpenFolder selects name read-only.
func (s *Store) OpenFolder(ctx context.Context, name string) error {
	return s.do(ctx, func(c *client.Client) error {
		if _, err := c.Select(name, true); err != nil {
			return fmt.Errorf("failed to select folder %s: %w", name, err)
		}
		s.mu.Lock()
		s.folder = name
		s.mu.Unlock()
		return nil
	})
}

// CloseFolder leaves the selected folder.
func (s *Store) CloseFolder(ctx context.Context) error {
	return s.do(ctx, func(c *client.Client) error {
		s.mu.Lock()
		s.folder = ""
		s.mu.Unlock()
		if c.Mailbox() == nil {
			return nil
		}
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close folder: %w", err)
		}
		return nil
	})
}

// Search returns matching UIDs of the selected folder, newest first.
func (s *Store) Search(ctx context.Context, criteria retrieval.SearchCriteria) ([]uint32, error) {
	var uids []uint32
	err := s.do(ctx, func(c *client.Client) error {
		var err error
		uids, err = SearchUIDs(c, criteria)
		return err
	})
	return uids, err
}

// FetchHeaders returns header-only candidates for uids.
func (s *Store) FetchHeaders(ctx context.Context, uids []uint32) ([]*models.Candidate, error) {
	var out []*models.Candidate
	err := s.do(ctx, func(c *client.Client) error {
		messages, err := FetchMessageHeaders(c, uids)
		if err != nil {
			return err
		}
		folder := s.currentFolder()
		out = make([]*models.Candidate, 0, len(messages))
		for _, m := range messages {
			msg, err := ParseHeaders(m, folder)
			if err != nil {
				s.log.Warn().Err(err).Uint32("uid", m.Uid).Msg("Failed to parse headers, skipping")
				continue
			}
			out = append(out, msg)
		}
		return nil
	})
	return out, err
}

// FetchMessage returns one fully decoded candidate.
func (s *Store) FetchMessage(ctx context.Context, uid uint32) (*models.Candidate, error) {
	var out *models.Candidate
	err := s.do(ctx, func(c *client.Client) error {
		m, err := FetchFullMessage(c, uid)
		if err != nil {
			return err
		}
		out, err = ParseFullMessage(m, s.currentFolder())
		return err
	})
	return out, err
}

// Close logs out, or drops the connection if a command is still running or LOGOUT hangs.
// It is safe to call more than once and on a store that never connected.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	if !s.cmdMu.TryLock() {
		s.log.Debug().Msg("Command in flight, dropping connection")
		return c.Terminate()
	}
	defer s.cmdMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = c.Terminate()
			return fmt.Errorf("failed to log out: %w", err)
		}
		return nil
	case <-time.After(logoutGrace):
		s.log.Debug().Msg("Logout timed out, dropping connection")
		return c.Terminate()
	}
}

func (s *Store) do(ctx context.Context, fn func(c *client.Client) error) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	c, closed := s.client, s.closed
	s.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}
	if c == nil {
		return fmt.Errorf("not connected")
	}

	return fn(c)
}

func (s *Store) currentFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folder
}
