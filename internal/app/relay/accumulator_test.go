package relay

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibleTailNeverExceedsLimit(t *testing.T) {
	const limit = 120
	acc := NewAccumulator(limit)
	line := "ünïcode line with \x1b[32mcolour\x1b[0m\n"
	for i := 0; i < 500; i++ {
		acc.AppendStdout([]byte(line))
		tail := acc.VisibleTail()
		require.LessOrEqual(t, utf8.RuneCountInString(tail), limit, "after %d appends", i+1)
	}
	tail := acc.VisibleTail()
	assert.True(t, strings.HasPrefix(tail, truncationMarker))
	assert.True(t, strings.HasSuffix(acc.Clean(), strings.TrimPrefix(tail, truncationMarker)))
}

func TestVisibleTailIsWholeTextUnderLimit(t *testing.T) {
	acc := NewAccumulator(100)
	acc.AppendStdout([]byte("short"))
	assert.Equal(t, "short", acc.VisibleTail())
}

func TestAccumulatorKeepsRawAndStripsAcrossChunks(t *testing.T) {
	acc := NewAccumulator(1000)
	raw := "\x1b[1mbold\x1b[0m and é"
	for i := 0; i < len(raw); i++ {
		acc.AppendStdout([]byte{raw[i]})
	}
	acc.AppendStderr([]byte("warning\n"))
	acc.Finish()

	assert.Equal(t, raw, acc.Raw())
	assert.Equal(t, "bold and é", acc.Clean())
	assert.Equal(t, "warning\n", acc.Stderr())
	assert.Equal(t, utf8.RuneCountInString("bold and é"), acc.Len())
	assert.Equal(t, "and é", acc.CleanFrom(len("bold ")))
	assert.Empty(t, acc.CleanFrom(1000))
}

func TestAccumulatorStderrNeverReachesDisplay(t *testing.T) {
	acc := NewAccumulator(100)
	acc.AppendStdout([]byte("out"))
	acc.AppendStderr([]byte("err"))
	assert.Equal(t, "out", acc.VisibleTail())
}
