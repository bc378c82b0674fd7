package transcript

import (
	"regexp"
	"strings"
)

var (
	codeSpanRE = regexp.MustCompile("(?s)```.*?```|`[^`\n]*`")
	boldRE     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	bulletRE   = regexp.MustCompile(`(?m)^[ \t]*\*[ \t]+`)
	headingRE  = regexp.MustCompile(`(?m)^#{1,3} +(.*)$`)
)

// ToTelegramMarkdown rewrites GitHub-flavored Markdown into the legacy
// Telegram Markdown dialect. Fenced blocks and inline code spans are copied
// unchanged; elsewhere bold is narrowed to single asterisks, underscores are
// escaped, list stars become bullets and headings become bold lines.
func ToTelegramMarkdown(text string) string {
	if text == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + len(text)/16)
	last := 0
	for _, m := range codeSpanRE.FindAllStringIndex(text, -1) {
		b.WriteString(telegramProse(text[last:m[0]]))
		b.WriteString(text[m[0]:m[1]])
		last = m[1]
	}
	b.WriteString(telegramProse(text[last:]))
	return b.String()
}

func telegramProse(prose string) string {
	if prose == "" {
		return prose
	}
	prose = boldRE.ReplaceAllString(prose, "*$1*")
	prose = escapeUnderscores(prose)
	prose = bulletRE.ReplaceAllString(prose, "• ")
	return headingRE.ReplaceAllStringFunc(prose, func(line string) string {
		title := strings.TrimSpace(strings.ReplaceAll(headingRE.FindStringSubmatch(line)[1], "*", ""))
		if title == "" {
			return line
		}
		return "*" + title + "*"
	})
}

// escapeUnderscores escapes every underscore not already escaped.
func escapeUnderscores(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if s[i] == '_' && (i == 0 || s[i-1] != '\\') {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
