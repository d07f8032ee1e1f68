package imap

import (
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"

	"github.com/vdavid/vcode/internal/retrieval"
)

const sortCapability = "SORT"

// buildSearchCriteria turns retrieval criteria into an IMAP SEARCH.
// SINCE only carries a date and servers differ on time zone and inclusiveness,
// so the window is widened by a day. Callers check exact recency themselves.
func buildSearchCriteria(criteria retrieval.SearchCriteria) *imap.SearchCriteria {
	sc := imap.NewSearchCriteria()
	if !criteria.Since.IsZero() {
		day := criteria.Since.UTC().AddDate(0, 0, -1)
		sc.Since = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	}
	if criteria.UnreadOnly {
		sc.WithoutFlags = []string{imap.SeenFlag}
	}
	return sc
}

// SearchUIDs returns the UIDs in the selected folder matching criteria, newest first.
// It uses UID SORT (REVERSE DATE) when the server supports it. Sorting by date rather than
// arrival keeps messages moved into a junk folder in the order they were sent.
func SearchUIDs(c *client.Client, criteria retrieval.SearchCriteria) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	sc := buildSearchCriteria(criteria)

	if ok, err := c.Support(sortCapability); err == nil && ok {
		sortClient := sortthread.NewSortClient(c)
		uids, err := sortClient.UidSort([]sortthread.SortCriterion{
			{Field: sortthread.SortDate, Reverse: true},
		}, sc)
		if err != nil {
			return nil, fmt.Errorf("failed to sort: %w", err)
		}
		return uids, nil
	}

	uids, err := c.UidSearch(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	// Without SORT, higher UIDs arrived later.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}
