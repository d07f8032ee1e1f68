package retrieval

import (
	"context"
	"errors"

	"github.com/vdavid/vcode/internal/classify"
	"github.com/vdavid/vcode/internal/extract"
	"github.com/vdavid/vcode/internal/models"
)

// pollCycle searches the current folder once and evaluates whatever is new.
// Search and fetch failures are logged and left for the next tick.
func (s *Session) pollCycle(ctx context.Context) {
	since := s.now().Add(-s.opts.SearchWindow)

	uids, err := s.search(ctx, SearchCriteria{Since: since, UnreadOnly: true})
	if err != nil {
		return
	}
	if len(uids) == 0 {
		// Some clients mark mail read before we get to it, so fall back to everything recent.
		// This may re-surface a message a human already dismissed.
		uids, err = s.search(ctx, SearchCriteria{Since: since})
		if err != nil {
			return
		}
	}

	fresh := s.seen.Unseen(s.folder, uids)
	if len(fresh) == 0 {
		return
	}

	var headers []*models.Candidate
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		headers, err = s.store.FetchHeaders(ctx, fresh)
		return err
	})
	if err != nil {
		if !errors.Is(err, errSessionOver) {
			s.log.Warn().Err(err).Int("count", len(fresh)).Msg("Failed to fetch headers, will retry on next tick")
		}
		return
	}

	byUID := make(map[uint32]*models.Candidate, len(headers))
	for _, msg := range headers {
		if msg != nil {
			byUID[msg.ID.UID] = msg
		}
	}

	// Header pass first, so a subject code anywhere in the batch wins without any body fetch.
	now := s.now()
	var needBody []models.MessageID
	for _, uid := range fresh {
		msg, ok := byUID[uid]
		if !ok {
			continue
		}
		id := models.MessageID{Folder: s.folder, UID: uid}

		verdict := s.opts.Classifier.Classify(msg, s.target, now)
		switch verdict {
		case classify.Accept:
			if code, ok := extract.FromSubject(msg.Subject); ok {
				s.seen.Mark(id)
				s.log.Debug().Stringer("message", id).Msg("Code found in subject")
				s.resolve(code)
				return
			}
			needBody = append(needBody, id)
		case classify.NeedBody:
			needBody = append(needBody, id)
		default:
			s.seen.Mark(id)
			s.log.Debug().Stringer("message", id).Stringer("verdict", verdict).Msg("Message skipped")
		}
	}

	for _, id := range needBody {
		if s.resolved {
			return
		}
		if !s.evaluateBody(ctx, id) {
			return
		}
	}
}

func (s *Session) search(ctx context.Context, criteria SearchCriteria) ([]uint32, error) {
	var uids []uint32
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		uids, err = s.store.Search(ctx, criteria)
		return err
	})
	if err != nil {
		// After errSessionOver the store goroutine may still write uids.
		if !errors.Is(err, errSessionOver) {
			s.log.Warn().Err(err).Bool("unread_only", criteria.UnreadOnly).Msg("Search failed, will retry on next tick")
		}
		return nil, err
	}
	return uids, nil
}

// evaluateBody fetches one message in full and runs the cascade on it. It returns false
// when the cycle should stop. A failed fetch leaves the message unseen so the next tick retries it.
func (s *Session) evaluateBody(ctx context.Context, id models.MessageID) bool {
	var msg *models.Candidate
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		msg, err = s.store.FetchMessage(ctx, id.UID)
		return err
	})
	if errors.Is(err, errSessionOver) {
		return false
	}
	if err != nil {
		s.log.Warn().Err(err).Stringer("message", id).Msg("Failed to fetch message, will retry on next tick")
		return false
	}

	s.seen.Mark(id)

	if verdict := s.opts.Classifier.Classify(msg, s.target, s.now()); verdict != classify.Accept {
		s.log.Debug().Stringer("message", id).Stringer("verdict", verdict).Msg("Message skipped after reading body")
		return true
	}

	match, ok := s.opts.Cascade.FromMessage(msg.Subject, msg.BodyText, msg.BodyHTML)
	if !ok {
		s.log.Info().
			Stringer("message", id).
			Bool("garbled", extract.Garbled(msg.BodyText)).
			Msg("Message looks right but no code was found in it")
		return true
	}

	s.log.Debug().
		Stringer("message", id).
		Str("rule", match.Rule).
		Str("source", string(match.Source)).
		Msg("Code found in body")
	s.resolve(match.Code)
	return false
}
