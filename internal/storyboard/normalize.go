package storyboard

import "strings"

// normalize prepares raw storyboard text for scanning: non-breaking spaces
// become plain spaces, bullet glyphs become dash markers, and line endings
// collapse to LF. Line counts are preserved so reported locations stay true.
func normalize(text string) string {
	text = strings.ReplaceAll(text, " ", " ")
	text = strings.ReplaceAll(text, "•", "- ")
	text = strings.ReplaceAll(text, "–", "- ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}

// lineAt reports the 1-based line number of a byte offset.
func lineAt(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	return 1 + strings.Count(text[:offset], "\n")
}
