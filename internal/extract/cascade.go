// Package extract finds verification codes in message text.
//
// Codes are located with an ordered table of rules, most specific first. The first rule
// whose pattern matches (and whose validator accepts the capture) wins.
package extract

import (
	"regexp"
	"strings"
)

// Rule is one entry of the cascade table.
type Rule struct {
	// Name identifies the rule in logs.
	Name string
	// Pattern must contain at least Group capture groups.
	Pattern *regexp.Regexp
	// Group is the index of the capture group holding the code.
	Group int
	// Accept optionally rejects a capture, letting the cascade move on to the next rule.
	Accept func(code string) bool
	// MarkupSafe rules may run against raw HTML. Rules that fire on any digit run do not,
	// since markup is full of colours, sizes and ids.
	MarkupSafe bool
}

// Match describes a successful extraction.
type Match struct {
	Code   string
	Rule   string
	Source Source
}

// Source names the part of the message a code was found in.
type Source string

const (
	SourceSubject      Source = "subject"
	SourceText         Source = "text"
	SourceHTML         Source = "html"
	SourceStrippedHTML Source = "html_stripped"
)

// DefaultRules is the production cascade table.
var DefaultRules = []Rule{
	{
		Name:       "vendor_six_digit",
		Pattern:    regexp.MustCompile(`(?i)following\s+6[-\s]?digit\s+(?:verification\s+)?code[^0-9]{0,80}([0-9]{6})(?:[^0-9]|$)`),
		Group:      1,
		MarkupSafe: true,
	},
	{
		Name:       "enter_following_code",
		Pattern:    regexp.MustCompile(`(?i)enter\s+the\s+following\s+code[^0-9]{0,80}([0-9]{6})(?:[^0-9]|$)`),
		Group:      1,
		MarkupSafe: true,
	},
	{
		Name:       "labeled_code",
		Pattern:    regexp.MustCompile(`(?i)(?:verification\s*code|verify\s*code|code\s*is|your\s*code)(?:\s*is)?\s*[:：]?\s*([a-z0-9]{6})(?:[^a-z0-9]|$)`),
		Group:      1,
		Accept:     plausibleCode,
		MarkupSafe: true,
	},
	{
		Name:       "labeled_code_zh",
		Pattern:    regexp.MustCompile(`(?:验证码|验证代码)(?:\s*(?:是|为))?\s*[:：]?\s*([A-Za-z0-9]{6})(?:[^A-Za-z0-9]|$)`),
		Group:      1,
		Accept:     plausibleCode,
		MarkupSafe: true,
	},
	{
		Name:       "after_word_code",
		Pattern:    regexp.MustCompile(`(?i)(?:^|[^a-z0-9])code\s*[:：]?\s*([a-z0-9]{6})(?:[^a-z0-9]|$)`),
		Group:      1,
		Accept:     plausibleCode,
		MarkupSafe: true,
	},
	{
		Name:    "standalone_six_digit",
		Pattern: regexp.MustCompile(`(?:^|[^0-9])([0-9]{6})(?:[^0-9]|$)`),
		Group:   1,
	},
}

var subjectCode = regexp.MustCompile(`(?:^|[\s:：-])([0-9]{6})(?:[\s:：-]|$)`)

// Cascade applies an ordered rule table to text.
type Cascade struct {
	rules []Rule
}

// NewCascade creates a cascade over the given rules. A nil or empty slice uses DefaultRules.
func NewCascade(rules []Rule) *Cascade {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Cascade{rules: rules}
}

// Find returns the first code found in text. Empty text never matches.
func (c *Cascade) Find(text string) (Match, bool) {
	return c.find(text, false)
}

func (c *Cascade) find(text string, markupOnly bool) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}

	for _, rule := range c.rules {
		if markupOnly && !rule.MarkupSafe {
			continue
		}
		for _, groups := range rule.Pattern.FindAllStringSubmatch(text, -1) {
			if len(groups) <= rule.Group {
				continue
			}
			code := groups[rule.Group]
			if rule.Accept != nil && !rule.Accept(code) {
				continue
			}
			return Match{Code: code, Rule: rule.Name}, true
		}
	}

	return Match{}, false
}

// FromSubject is the header-only fast path: a 6-digit run standing on its own in the subject.
// It runs before any body is fetched.
func FromSubject(subject string) (string, bool) {
	m := subjectCode.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FromMessage runs the cascade over subject, plain text, raw HTML and finally cleaned HTML.
// The HTML is only cleaned when the raw markup yields nothing.
func (c *Cascade) FromMessage(subject, text, html string) (Match, bool) {
	if m, ok := c.find(subject, false); ok {
		m.Source = SourceSubject
		return m, true
	}

	if m, ok := c.find(text, false); ok {
		m.Source = SourceText
		return m, true
	}

	if strings.TrimSpace(html) == "" {
		return Match{}, false
	}

	if m, ok := c.find(html, true); ok {
		m.Source = SourceHTML
		return m, true
	}

	if m, ok := c.find(StripHTML(html), false); ok {
		m.Source = SourceStrippedHTML
		return m, true
	}

	return Match{}, false
}

// plausibleCode accepts tokens with a digit, or all-uppercase letter codes. Lower-case
// words ("expire", "number") that happen to be six letters long are rejected.
func plausibleCode(s string) bool {
	if strings.IndexAny(s, "0123456789") >= 0 {
		return true
	}
	return s == strings.ToUpper(s)
}
