package transcript

import (
	"regexp"
	"strings"
)

// EmptyResponse is shown when the agent produced no visible output.
const EmptyResponse = "The agent returned an empty response."

var (
	sentenceEndRE = regexp.MustCompile(`([.!?])\s+`)
	extraBreaksRE = regexp.MustCompile(`\n{3,}`)
)

// BreakSentences puts every sentence on its own line outside fenced code.
func BreakSentences(text string) string {
	return MapOutsideFences(text, breakSentences)
}

// ExpandParagraphs turns single newlines into paragraph breaks outside fenced
// code, collapsing runs of three or more newlines to exactly two.
func ExpandParagraphs(text string) string {
	return MapOutsideFences(text, expandParagraphs)
}

// FormatFinal produces the display form of a finished transcript. Fences are
// detected once and excluded from every transform.
func FormatFinal(text string) string {
	text = StripANSI(text)
	if strings.TrimSpace(text) == "" {
		return EmptyResponse
	}
	return joinRegions(Regions(text), func(prose string) string {
		return expandParagraphs(breakSentences(prose))
	})
}

// IsPlaceholder reports whether text carries no agent content worth recording.
func IsPlaceholder(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || trimmed == EmptyResponse
}

func breakSentences(prose string) string {
	return sentenceEndRE.ReplaceAllString(prose, "$1\n")
}

func expandParagraphs(prose string) string {
	prose = strings.ReplaceAll(prose, "\n", "\n\n")
	return extraBreaksRE.ReplaceAllString(prose, "\n\n")
}
