package transcribe

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTitle is the placeholder title of a freshly recorded note.
const DefaultTitle = "Voice Recording"

// MaxTitleRunes bounds derived titles.
const MaxTitleRunes = 60

var (
	markdownPrefix = regexp.MustCompile(`^(?:#{1,6}\s+|>\s*|[-*+]\s+|\d+[.)]\s+|\[[ xX]\]\s+)+`)
	emphasis       = regexp.MustCompile(`\*\*|__|` + "`")
	sentenceEnd    = regexp.MustCompile(`[.!?](?:\s|$)`)
)

// SmartTitle derives a title from the first meaningful line of text: the
// first sentence, stripped of markdown markers and bounded to
// MaxTitleRunes. It returns DefaultTitle when nothing usable remains.
func SmartTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = markdownPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(emphasis.ReplaceAllString(line, ""))
		if !meaningful(line) {
			continue
		}
		if loc := sentenceEnd.FindStringIndex(line); loc != nil {
			line = line[:loc[0]]
		}
		line = strings.TrimSpace(line)
		if !meaningful(line) {
			continue
		}
		return truncateTitle(line)
	}
	return DefaultTitle
}

func meaningful(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func truncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= MaxTitleRunes {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:MaxTitleRunes-1])
	if i := strings.LastIndexByte(cut, ' '); i > MaxTitleRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "…"
}
