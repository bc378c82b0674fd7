package transcript

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextIsSingleSegment(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 4096))
	assert.Nil(t, Split("", 4096))
}

func TestSplitRespectsLimitAndKeepsContent(t *testing.T) {
	text := strings.Repeat("word ", 2000) + "\n" + strings.Repeat("é", 5000)
	segments := Split(text, 4096)

	require.Greater(t, len(segments), 2)
	for _, seg := range segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 4096)
	}
	assert.Equal(t, text, strings.Join(segments, ""))
}

func TestSplitNeverCutsFittingFence(t *testing.T) {
	fence := "```go\n" + strings.Repeat("x := 1\n", 20) + "```"
	text := strings.Repeat("a", 90) + "\n" + fence + "\ntrailer"
	segments := Split(text, 200)

	found := false
	for _, seg := range segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 200)
		if strings.Contains(seg, fence) {
			found = true
		}
		assert.Equal(t, 0, strings.Count(seg, "```")%2, "segment has unbalanced fence: %q", seg)
	}
	assert.True(t, found, "fence should appear whole in one segment")
	assert.Equal(t, text, strings.Join(segments, ""))
}

func TestSplitRefencesOversizedFence(t *testing.T) {
	fence := "```sh\n" + strings.Repeat("echo line\n", 60) + "```"
	segments := Split(fence, 120)

	require.Greater(t, len(segments), 1)
	var body strings.Builder
	for _, seg := range segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 120)
		require.True(t, strings.HasPrefix(seg, "```sh\n"), seg)
		require.True(t, strings.HasSuffix(seg, "\n```"), seg)
		body.WriteString(strings.TrimSuffix(strings.TrimPrefix(seg, "```sh\n"), "```"))
	}
	assert.Equal(t, strings.Repeat("echo line\n", 60), body.String())
}

func TestTailRunes(t *testing.T) {
	assert.Equal(t, "éf", TailRunes("abcdéf", 2))
	assert.Equal(t, "abc", TailRunes("abc", 10))
	assert.Equal(t, "", TailRunes("abc", 0))
}

func TestCutBlock(t *testing.T) {
	head, tail := CutBlock("short", 10)
	assert.Equal(t, "short", head)
	assert.Empty(t, tail)

	head, tail = CutBlock("aaaa bbbb\ncccc dddd", 12)
	assert.Equal(t, "aaaa bbbb\n", head)
	assert.Equal(t, "cccc dddd", tail)

	head, tail = CutBlock("x\n"+strings.Repeat("y", 30), 10)
	assert.Equal(t, 10, utf8.RuneCountInString(head))
	assert.Equal(t, "x\n"+strings.Repeat("y", 30), head+tail)
}
