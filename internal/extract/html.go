package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML turns markup into plain text: script and style contents are dropped,
// tags become whitespace and character references (named and numeric) are decoded.
func StripHTML(markup string) string {
	if markup == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var sb strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; either way we keep what we have.
			return collapseWhitespace(sb.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if isSkippedTag(name) {
				skipDepth++
			}
			sb.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if isSkippedTag(name) && skipDepth > 0 {
				skipDepth--
			}
			sb.WriteByte(' ')
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isSkippedTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
