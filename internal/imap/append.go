package imap

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// AppendMessage stores a raw RFC 822 message in folder. Used to seed sandboxes; retrieval never writes.
func AppendMessage(c *client.Client, folder string, seen bool, date time.Time, raw []byte) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}

	var flags []string
	if seen {
		flags = []string{imap.SeenFlag}
	}

	if err := c.Append(folder, flags, date, bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("failed to append message to %s: %w", folder, err)
	}
	return nil
}

// Append stores raw in folder on the connected account.
func (s *Store) Append(ctx context.Context, folder string, seen bool, raw []byte) error {
	return s.do(ctx, func(c *client.Client) error {
		return AppendMessage(c, folder, seen, time.Now(), raw)
	})
}
