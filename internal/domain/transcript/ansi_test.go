package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSIRemovesColorCodes(t *testing.T) {
	in := "\x1b[1;32mDone\x1b[0m.\nNext line\n"
	assert.Equal(t, "Done.\nNext line\n", StripANSI(in))
	assert.Equal(t, "", StripANSI(""))
}

func TestStripperIsChunkingInvariant(t *testing.T) {
	input := []byte("\x1b[31mred\x1b[0m plain \x1b(Bcharset \x1b]0;title\x07héllo wörld ✓ \x1b[1mbold\x1b[22m\n")
	want := StripANSI(string(input))

	for size := 1; size <= len(input); size++ {
		var s Stripper
		var out strings.Builder
		for start := 0; start < len(input); start += size {
			end := start + size
			if end > len(input) {
				end = len(input)
			}
			out.WriteString(s.Write(input[start:end]))
		}
		out.WriteString(s.Flush())
		assert.Equal(t, want, out.String(), "chunk size %d", size)
	}
}

func TestStripperHoldsBackSplitRune(t *testing.T) {
	var s Stripper
	check := []byte("✓")
	assert.Equal(t, "", s.Write(check[:1]))
	assert.Equal(t, "✓", s.Write(check[1:]))
	assert.Equal(t, "", s.Flush())
}

func TestStripperHoldsBackCharsetDesignation(t *testing.T) {
	input := []byte("a\x1b(Bb\x1b)0c")
	for cut := 1; cut < len(input); cut++ {
		var s Stripper
		out := s.Write(input[:cut]) + s.Write(input[cut:]) + s.Flush()
		assert.Equal(t, "abc", out, "cut at byte %d", cut)
	}
}
