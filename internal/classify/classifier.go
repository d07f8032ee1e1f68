// Package classify decides whether a candidate message is the verification mail
// we are waiting for.
package classify

import (
	"strings"
	"time"

	"github.com/vdavid/vcode/internal/models"
)

// DefaultMaxAge is how old a message may be and still count.
const DefaultMaxAge = 2 * time.Minute

// DefaultVendorTokens identify the sender we expect codes from.
var DefaultVendorTokens = []string{"windsurf", "codeium"}

// DefaultSubjectTokens mark a subject as a generic verification mail.
var DefaultSubjectTokens = []string{"verify", "verification", "验证"}

// Verdict is the outcome of classifying one candidate.
type Verdict int

const (
	// Accept means the message is in scope.
	Accept Verdict = iota
	// NeedBody means the headers pass but the recipient can only be confirmed from the body.
	NeedBody
	// RejectStale means the message is older than the recency window.
	RejectStale
	// RejectProvenance means neither sender nor subject looks like a verification mail.
	RejectProvenance
	// RejectRecipient means the message was addressed to someone else.
	RejectRecipient
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case NeedBody:
		return "need_body"
	case RejectStale:
		return "stale"
	case RejectProvenance:
		return "provenance"
	case RejectRecipient:
		return "recipient"
	default:
		return "unknown"
	}
}

// Classifier holds the rules. The zero value is not usable; use New.
type Classifier struct {
	maxAge        time.Duration
	vendorTokens  []string
	subjectTokens []string
}

// New creates a classifier. Empty token lists and a non-positive maxAge fall back to defaults.
func New(maxAge time.Duration, vendorTokens []string) *Classifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if len(vendorTokens) == 0 {
		vendorTokens = DefaultVendorTokens
	}

	return &Classifier{
		maxAge:        maxAge,
		vendorTokens:  lowerAll(vendorTokens),
		subjectTokens: DefaultSubjectTokens,
	}
}

// Classify checks age, provenance and recipient, in that order.
func (c *Classifier) Classify(msg *models.Candidate, target string, now time.Time) Verdict {
	if msg == nil || msg.Date.IsZero() {
		return RejectStale
	}
	if now.Sub(msg.Date) > c.maxAge {
		return RejectStale
	}

	if !c.fromExpectedSender(msg) {
		return RejectProvenance
	}

	if addressedTo(msg.To, target) {
		return Accept
	}
	if !msg.HasBody {
		return NeedBody
	}
	if addressedTo(msg.BodyText, target) || addressedTo(msg.BodyHTML, target) {
		return Accept
	}

	return RejectRecipient
}

// InScope is the boolean form of Classify.
func (c *Classifier) InScope(msg *models.Candidate, target string, now time.Time) bool {
	return c.Classify(msg, target, now) == Accept
}

func (c *Classifier) fromExpectedSender(msg *models.Candidate) bool {
	subject := strings.ToLower(msg.Subject)
	from := strings.ToLower(msg.From)

	for _, token := range c.vendorTokens {
		if strings.Contains(subject, token) || strings.Contains(from, token) {
			return true
		}
	}
	for _, token := range c.subjectTokens {
		if strings.Contains(subject, token) {
			return true
		}
	}

	return false
}

// addressedTo reports whether field mentions the target address or its local part.
// The local part only counts as a whole token, so "a@example.com" does not match
// mail for "b@example.com" through the "a" in "example".
func addressedTo(field, target string) bool {
	field = strings.ToLower(field)
	target = strings.ToLower(strings.TrimSpace(target))
	if field == "" || target == "" {
		return false
	}

	if containsToken(field, target) {
		return true
	}

	local := LocalPart(target)
	return local != "" && containsToken(field, local)
}

// containsToken reports whether needle occurs in s with no address characters directly
// around it. An "@" right after the needle is allowed, so a local part matches a full address.
func containsToken(s, needle string) bool {
	for from := 0; from <= len(s)-len(needle); {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)

		before := start == 0 || !isAddressByte(s[start-1])
		after := end == len(s) || s[end] == '@' || !isAddressByte(s[end])
		if before && after {
			return true
		}
		from = start + 1
	}
	return false
}

func isAddressByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.', b == '_', b == '-', b == '+', b == '%', b == '@':
		return true
	default:
		return false
	}
}

// LocalPart returns the part of an address before the last "@".
func LocalPart(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at <= 0 {
		return ""
	}
	return address[:at]
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
