package transcript

import (
	"strings"
	"unicode/utf8"
)

const fenceDelimiter = "```"

// Split cuts text into segments of at most limit runes. Fenced regions that
// fit in one segment are never cut; a fence longer than limit is split on
// line boundaries and every piece is re-fenced so each segment stays valid.
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	s := &segmenter{limit: limit}
	for _, region := range Regions(text) {
		if region.Fenced {
			s.addFence(region.Text)
			continue
		}
		s.addProse(region.Text)
	}
	s.flush()
	return s.segments
}

type segmenter struct {
	limit    int
	segments []string
	current  strings.Builder
	size     int
}

func (s *segmenter) write(text string) {
	s.current.WriteString(text)
	s.size += utf8.RuneCountInString(text)
}

func (s *segmenter) flush() {
	if s.size == 0 {
		return
	}
	s.segments = append(s.segments, s.current.String())
	s.current.Reset()
	s.size = 0
}

func (s *segmenter) addFence(fence string) {
	n := utf8.RuneCountInString(fence)
	if s.size+n <= s.limit {
		s.write(fence)
		return
	}
	s.flush()
	if n <= s.limit {
		s.write(fence)
		return
	}
	for _, piece := range splitFence(fence, s.limit) {
		s.segments = append(s.segments, piece)
	}
}

func (s *segmenter) addProse(prose string) {
	rest := prose
	for rest != "" {
		room := s.limit - s.size
		if utf8.RuneCountInString(rest) <= room {
			s.write(rest)
			return
		}
		head, tail := cutAtBoundary(rest, room, s.size == 0)
		if head == "" {
			s.flush()
			continue
		}
		s.write(head)
		s.flush()
		rest = tail
	}
}

// cutAtBoundary returns a prefix of s of at most room runes, preferring to end
// after a newline and then after a space. Without a boundary it returns an
// empty head unless force is set, in which case it cuts at room runes.
func cutAtBoundary(s string, room int, force bool) (string, string) {
	if room <= 0 {
		return "", s
	}
	window := prefixRunes(s, room)
	if idx := strings.LastIndexByte(window, '\n'); idx >= 0 {
		return s[:idx+1], s[idx+1:]
	}
	if idx := strings.LastIndexByte(window, ' '); idx > 0 {
		return s[:idx+1], s[idx+1:]
	}
	if !force {
		return "", s
	}
	return window, s[len(window):]
}

func splitFence(fence string, limit int) []string {
	opening := fenceDelimiter
	body := strings.TrimSuffix(strings.TrimPrefix(fence, fenceDelimiter), fenceDelimiter)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		opening += body[:nl]
		body = body[nl+1:]
	}
	body = strings.TrimSuffix(body, "\n")

	overhead := utf8.RuneCountInString(opening) + len("\n") + len("\n"+fenceDelimiter)
	room := limit - overhead
	if room <= 0 {
		// The fence header alone does not fit; fall back to plain cuts.
		var pieces []string
		for rest := fence; rest != ""; {
			head, tail := cutAtBoundary(rest, limit, true)
			pieces = append(pieces, head)
			rest = tail
		}
		return pieces
	}

	var pieces []string
	for rest := body; rest != ""; {
		head, tail := cutAtBoundary(rest, room, true)
		pieces = append(pieces, opening+"\n"+strings.TrimSuffix(head, "\n")+"\n"+fenceDelimiter)
		rest = tail
	}
	if len(pieces) == 0 {
		pieces = append(pieces, opening+"\n"+fenceDelimiter)
	}
	return pieces
}

func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// TailRunes returns the last n runes of s.
func TailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := len(s); i > 0; {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		count++
		if count == n {
			return s[i:]
		}
	}
	return s
}

// CutBlock splits s so the head holds at most max runes. It prefers a newline
// or space boundary in the second half of the window and otherwise cuts hard.
func CutBlock(s string, max int) (string, string) {
	if utf8.RuneCountInString(s) <= max {
		return s, ""
	}
	window := prefixRunes(s, max)
	half := len(window) / 2
	if idx := strings.LastIndexByte(window, '\n'); idx >= half {
		return s[:idx+1], s[idx+1:]
	}
	if idx := strings.LastIndexByte(window, ' '); idx >= half {
		return s[:idx+1], s[idx+1:]
	}
	return window, s[len(window):]
}
