package extract

import (
	"unicode"
	"unicode/utf8"
)

const (
	garbledMinRunes = 20
	garbledRatio    = 0.1
)

// Garbled reports whether text looks like it was decoded with the wrong charset:
// invalid UTF-8, replacement characters or stray control characters above a small ratio.
// It is a diagnostic for logs only.
func Garbled(text string) bool {
	total := utf8.RuneCountInString(text)
	if total < garbledMinRunes {
		return false
	}

	bad := 0
	for _, r := range text {
		switch {
		case r == utf8.RuneError:
			bad++
		case r == '\n' || r == '\r' || r == '\t':
		case unicode.IsControl(r):
			bad++
		}
	}

	return float64(bad)/float64(total) > garbledRatio
}
