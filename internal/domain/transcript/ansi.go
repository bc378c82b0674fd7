package transcript

import (
	"bytes"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

const (
	esc = 0x1b
	bel = 0x07

	// Escape sequences longer than this are treated as complete garbage
	// rather than held back waiting for a terminator.
	maxPendingEscape = 256
)

// StripANSI removes terminal control sequences from s.
func StripANSI(s string) string {
	if s == "" {
		return s
	}
	return ansi.Strip(s)
}

// Stripper strips control sequences from a byte stream delivered in
// arbitrary chunks. A trailing escape sequence or UTF-8 rune that is cut by a
// chunk boundary is held back until the next Write, so the concatenated
// output equals StripANSI of the concatenated input.
type Stripper struct {
	pending []byte
}

// Write consumes chunk and returns the stripped text that is safe to emit.
func (s *Stripper) Write(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}
	data := append(s.pending, chunk...)
	cut := safeCut(data)
	s.pending = append([]byte(nil), data[cut:]...)
	return StripANSI(string(data[:cut]))
}

// Flush returns whatever is still held back.
func (s *Stripper) Flush() string {
	if len(s.pending) == 0 {
		return ""
	}
	out := StripANSI(string(s.pending))
	s.pending = nil
	return out
}

// safeCut returns the length of the prefix of data that contains no
// truncated escape sequence or rune.
func safeCut(data []byte) int {
	cut := len(data)
	if idx := incompleteEscapeStart(data); idx >= 0 {
		cut = idx
	}
	if r := incompleteRuneStart(data[:cut]); r >= 0 {
		cut = r
	}
	return cut
}

func incompleteEscapeStart(data []byte) int {
	idx := bytes.LastIndexByte(data, esc)
	if idx < 0 || len(data)-idx > maxPendingEscape {
		return -1
	}
	rest := data[idx+1:]
	if len(rest) == 0 {
		return idx
	}
	switch rest[0] {
	case '[':
		for _, b := range rest[1:] {
			if b >= 0x40 && b <= 0x7e {
				return -1
			}
		}
		return idx
	case ']', 'P', 'X', '^', '_':
		if bytes.IndexByte(rest, bel) >= 0 {
			return -1
		}
		return idx
	default:
		// ESC, intermediates 0x20-0x2f, then one final byte.
		for _, b := range rest {
			if b < 0x20 || b > 0x2f {
				return -1
			}
		}
		return idx
	}
}

func incompleteRuneStart(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if utf8.FullRune(data[i:]) {
				return -1
			}
			return i
		}
	}
	return -1
}
