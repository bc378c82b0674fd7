package transcript

import (
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var backtickTokenRE = regexp.MustCompile("`([^`\n]+)`")

// FileReferences lists every single-backtick token in text, in order.
func FileReferences(text string) []string {
	matches := backtickTokenRE.FindAllStringSubmatch(text, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		if ref := strings.TrimSpace(m[1]); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ResolveFileReference returns the absolute path of the first token in text
// that names an existing regular file inside workdir.
func ResolveFileReference(text, workdir string) (string, bool) {
	root, err := filepath.Abs(workdir)
	if err != nil {
		return "", false
	}
	for _, ref := range FileReferences(text) {
		candidate := filepath.Clean(filepath.Join(root, ref))
		if !IsWithin(root, candidate) {
			continue
		}
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return candidate, true
	}
	return "", false
}

// IsWithin reports whether path lies inside root (or is root itself).
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// FileMessage is one chat message carrying part of a file's content.
type FileMessage struct {
	Text string
	HTML bool
}

const (
	preOpen  = "<pre><code>"
	preClose = "</code></pre>"
)

// FileMessages renders file content as chat messages of at most limit runes.
// Markdown files are sent as text; everything else is escaped into
// preformatted blocks.
func FileMessages(name string, content []byte, limit int) []FileMessage {
	text := DecodeText(content)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if strings.EqualFold(filepath.Ext(name), ".md") {
		var msgs []FileMessage
		for _, segment := range Split(ToTelegramMarkdown(text), limit) {
			msgs = append(msgs, FileMessage{Text: segment})
		}
		return msgs
	}

	room := limit - len(preOpen) - len(preClose)
	var msgs []FileMessage
	for rest := html.EscapeString(text); rest != ""; {
		head, tail := cutAtBoundary(rest, room, true)
		// Never cut inside an HTML entity.
		if amp := strings.LastIndexByte(head, '&'); amp >= 0 && !strings.Contains(head[amp:], ";") && tail != "" {
			if amp == 0 {
				end := strings.IndexByte(rest, ';') + 1
				head, tail = rest[:end], rest[end:]
			} else {
				head, tail = head[:amp], head[amp:]+tail
			}
		}
		msgs = append(msgs, FileMessage{Text: preOpen + head + preClose, HTML: true})
		rest = tail
	}
	return msgs
}

// DecodeText interprets content as UTF-8, falling back to Latin-1.
func DecodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}
	return string(runes)
}
