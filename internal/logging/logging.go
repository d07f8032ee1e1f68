// Package logging builds the zerolog loggers used across vcode.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates a root logger. Pretty output is meant for terminals; servers log JSON.
// Unknown levels fall back to info.
func New(level string, pretty bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, pretty)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// MaskEmail keeps the first and last character of each address part so logs stay
// useful without leaking full addresses.
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}

	mask := func(part string) string {
		if len(part) <= 1 {
			return "*"
		}
		return part[:1] + strings.Repeat("*", max(0, len(part)-2)) + part[len(part)-1:]
	}

	domainParts := strings.Split(s[at+1:], ".")
	for i, p := range domainParts {
		// Keep the TLD readable.
		if i == len(domainParts)-1 && len(domainParts) > 1 {
			continue
		}
		domainParts[i] = mask(p)
	}

	return mask(s[:at]) + "@" + strings.Join(domainParts, ".")
}
