package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/vdavid/vcode/internal/models"
)

// ListFolders lists all folders on the IMAP server, with their attributes.
func ListFolders(c *client.Client) ([]models.Folder, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var folders []models.Folder
	for m := range mailboxes {
		folders = append(folders, models.Folder{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: m.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}
