// Package sanitize strips text markup that would otherwise be read
// aloud. Both transcriptions and agent replies pass through here
// before synthesis.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headerRe     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasisRe   = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// ForSpeech reduces markdown-flavored text to plain speakable prose.
// Code blocks are dropped entirely; a voice reading out source code
// helps nobody.
func ForSpeech(text string) string {
	text = codeFenceRe.ReplaceAllString(text, " ")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = headerRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	for i := 0; i < 3; i++ {
		next := emphasisRe.ReplaceAllString(text, "$2")
		if next == text {
			break
		}
		text = next
	}
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
