package transcript

import (
	"regexp"
	"strings"
)

var fenceRE = regexp.MustCompile("(?s)```.*?```")

// Region is a contiguous span of text, either inside a triple-backtick fence
// (delimiters included) or outside of one.
type Region struct {
	Text   string
	Fenced bool
}

// Regions splits text into alternating prose and fenced code regions.
// An unterminated fence is treated as prose.
func Regions(text string) []Region {
	if text == "" {
		return nil
	}
	matches := fenceRE.FindAllStringIndex(text, -1)
	regions := make([]Region, 0, 2*len(matches)+1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			regions = append(regions, Region{Text: text[last:m[0]]})
		}
		regions = append(regions, Region{Text: text[m[0]:m[1]], Fenced: true})
		last = m[1]
	}
	if last < len(text) {
		regions = append(regions, Region{Text: text[last:]})
	}
	return regions
}

// MapOutsideFences applies fn to every prose region and leaves fenced
// regions byte-identical.
func MapOutsideFences(text string, fn func(string) string) string {
	return joinRegions(Regions(text), fn)
}

func joinRegions(regions []Region, fn func(string) string) string {
	var b strings.Builder
	for _, region := range regions {
		if region.Fenced {
			b.WriteString(region.Text)
			continue
		}
		b.WriteString(fn(region.Text))
	}
	return b.String()
}

// FencedBlocks returns every fenced region of text in order.
func FencedBlocks(text string) []string {
	return fenceRE.FindAllString(text, -1)
}
