// Package sanitize cleans snapshot and order text before it is echoed back
// to MCP clients. Snapshot files and order lines come from outside pathsim,
// so nicknames and error messages quoting them are stripped of control
// characters and markup that an agent could mistake for instructions.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxTextLength is the maximum length of free text returned to clients.
const MaxTextLength = 500

// MaxNicknameLength is the longest nickname a relay may advertise.
const MaxNicknameLength = 19

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	// reMarkdownHeading matches markdown headings at the start of a line.
	reMarkdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)

	// reTripleBacktick matches code fence openers.
	reTripleBacktick = regexp.MustCompile("```+")

	reWhitespaceRun = regexp.MustCompile(`\s{2,}`)
)

// Text sanitizes a message such as an order error. The pipeline:
//  1. Strip null bytes and ASCII control characters (newlines become spaces)
//  2. Strip XML/HTML tags
//  3. Drop markdown heading markers
//  4. Collapse triple backticks to a single backtick
//  5. Collapse whitespace runs and trim
//  6. Truncate to MaxTextLength
func Text(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reMarkdownHeading.ReplaceAllString(s, "")
	s = reTripleBacktick.ReplaceAllString(s, "`")
	s = reWhitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) > MaxTextLength {
		s = s[:MaxTextLength] + "..."
	}
	return s
}

// Nickname keeps only the characters a relay nickname may contain
// ([a-zA-Z0-9]) and enforces MaxNicknameLength.
func Nickname(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()

	if len(s) > MaxNicknameLength {
		s = s[:MaxNicknameLength]
	}
	return s
}

// Texts applies Text to every element of in.
func Texts(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Text(s)
	}
	return out
}

// stripControlChars removes ASCII control characters. Newlines and tabs
// become spaces so messages stay on one line.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
