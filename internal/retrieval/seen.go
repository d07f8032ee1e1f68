package retrieval

import "github.com/vdavid/vcode/internal/models"

// SeenSet remembers which messages were already evaluated in a session.
// It only grows. Only the session loop uses it, so there is no locking.
type SeenSet struct {
	ids map[models.MessageID]struct{}
}

// NewSeenSet creates an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[models.MessageID]struct{})}
}

// Mark records id. Marking twice is a no-op.
func (s *SeenSet) Mark(id models.MessageID) {
	s.ids[id] = struct{}{}
}

// IsSeen reports whether id was marked.
func (s *SeenSet) IsSeen(id models.MessageID) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of marked ids.
func (s *SeenSet) Len() int {
	return len(s.ids)
}

// Unseen filters uids of folder down to those not marked yet, keeping their order.
func (s *SeenSet) Unseen(folder string, uids []uint32) []uint32 {
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if !s.IsSeen(models.MessageID{Folder: folder, UID: uid}) {
			out = append(out, uid)
		}
	}
	return out
}
