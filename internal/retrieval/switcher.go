package retrieval

import (
	"context"
	"errors"
	"strings"

	"github.com/vdavid/vcode/internal/models"
)

// JunkFolderAliases are lower-case substrings of junk-like folder names across providers,
// in order of preference. Spam folders come before trash folders.
var JunkFolderAliases = []string{
	"junk",
	"spam",
	"bulk mail",
	"bulk",
	"垃圾邮件",
	"courrier indésirable",
	"correo no deseado",
	"trash",
	"deleted messages",
	"deleted items",
	"[gmail]/bin",
	"已删除",
}

const (
	junkAttr     = `\Junk`
	noSelectAttr = `\Noselect`
)

// PickJunkFolder returns the best junk-like folder of the catalog, skipping exclude
// (the folder currently open). A folder flagged \Junk wins; otherwise aliases are tried
// in order and the first folder containing one is picked.
func PickJunkFolder(catalog []models.Folder, exclude string) (string, bool) {
	candidates := make([]models.Folder, 0, len(catalog))
	for _, f := range catalog {
		if strings.EqualFold(f.Name, exclude) || strings.EqualFold(f.Name, "INBOX") || hasAttr(f, noSelectAttr) {
			continue
		}
		candidates = append(candidates, f)
	}

	for _, f := range candidates {
		if hasAttr(f, junkAttr) {
			return f.Name, true
		}
	}

	for _, alias := range JunkFolderAliases {
		for _, f := range candidates {
			if strings.Contains(strings.ToLower(f.Name), alias) {
				return f.Name, true
			}
		}
	}

	return "", false
}

func hasAttr(f models.Folder, attr string) bool {
	for _, a := range f.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// shouldSwitch reports whether the folder fallback is due.
func (s *Session) shouldSwitch() bool {
	if s.switchAttempted || !strings.EqualFold(s.folder, s.opts.PrimaryFolder) {
		return false
	}
	return s.now().Sub(s.folderOpenedAt) >= s.opts.FolderFallbackAfter
}

// switchFolder moves polling to the junk folder. After a successful catalog lookup the
// attempt is spent, whether or not a folder matched.
func (s *Session) switchFolder(ctx context.Context) {
	s.setState(StateSwitchingFolder)

	var catalog []models.Folder
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		catalog, err = s.store.ListFolders(ctx)
		return err
	})
	if errors.Is(err, errSessionOver) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to list folders, will retry on next tick")
		s.setState(StatePolling)
		return
	}

	s.switchAttempted = true

	junk, ok := PickJunkFolder(catalog, s.folder)
	if !ok {
		s.log.Info().Int("folders", len(catalog)).Msg("No junk folder found, staying in current folder")
		s.setState(StatePolling)
		return
	}

	previous := s.folder
	s.log.Info().Str("from", previous).Str("to", junk).Msg("Nothing found yet, switching to junk folder")

	if err := s.call(ctx, s.store.CloseFolder); err != nil {
		if errors.Is(err, errSessionOver) {
			return
		}
		s.log.Warn().Err(err).Msg("Failed to close folder before switching")
	}

	if err := s.openFolder(ctx, junk); err != nil {
		if errors.Is(err, errSessionOver) {
			return
		}
		s.log.Warn().Err(err).Str("folder", junk).Msg("Failed to open junk folder, going back")
		if err := s.openFolder(ctx, previous); err != nil {
			if !errors.Is(err, errSessionOver) {
				s.fail(&ConnectionError{Host: s.opts.Host, Op: "open folder " + previous, Err: err})
			}
			return
		}
	}

	s.setState(StatePolling)
}
