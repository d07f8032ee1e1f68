package retrieval

import (
	"context"
	"time"

	"github.com/vdavid/vcode/internal/models"
)

// SearchCriteria narrows a folder search.
type SearchCriteria struct {
	// Since is the earliest arrival time of interest. Servers may round it down to a day.
	Since time.Time
	// UnreadOnly restricts the search to messages without the \Seen flag.
	UnreadOnly bool
}

// MailStore is the mail server as seen by a retrieval session.
// Calls are never made concurrently by one session.
type MailStore interface {
	// Connect dials and authenticates.
	Connect(ctx context.Context) error
	// ListFolders returns the folder catalog.
	ListFolders(ctx context.Context) ([]models.Folder, error)
	// OpenFolder selects a folder; later searches and fetches apply to it.
	OpenFolder(ctx context.Context, name string) error
	// CloseFolder leaves the selected folder.
	CloseFolder(ctx context.Context) error
	// Search returns matching UIDs, newest first.
	Search(ctx context.Context, criteria SearchCriteria) ([]uint32, error)
	// FetchHeaders returns header-only candidates without marking them read.
	FetchHeaders(ctx context.Context, uids []uint32) ([]*models.Candidate, error)
	// FetchMessage returns one fully decoded candidate without marking it read.
	FetchMessage(ctx context.Context, uid uint32) (*models.Candidate, error)
	// Close ends the session. It must be safe to call on a store that never connected
	// and while another call is still in flight.
	Close() error
}
