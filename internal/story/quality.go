package story

import (
	"strings"
	"unicode/utf8"
)

// DegenerateLengthRatio is the story-to-caption length below which a story
// that reuses the caption's first word is treated as a likely echo.
const DegenerateLengthRatio = 2

// LooksDegenerate reports whether text is probably a near-copy of caption
// rather than a story: shorter than DegenerateLengthRatio times the caption
// and containing the caption's first word. Lengths are counted in runes.
// An empty caption never flags.
func LooksDegenerate(caption, text string) bool {
	words := strings.Fields(caption)
	if len(words) == 0 {
		return false
	}
	short := utf8.RuneCountInString(text) < DegenerateLengthRatio*utf8.RuneCountInString(caption)
	return short && strings.Contains(text, words[0])
}
