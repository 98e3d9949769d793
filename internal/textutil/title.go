package textutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DeriveQuizTitle builds a display title for a quiz whose storyboard block
// carries none. The source file's base name is cleaned into words and
// title-cased, with the quiz ordinal appended when the document holds more
// than one quiz.
func DeriveQuizTitle(sourcePath string, quizIndex, quizCount int) string {
	title := "Untitled Quiz"
	if sourcePath != "" {
		base := filepath.Base(sourcePath)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		cleaned := strings.Builder{}
		prevSpace := false
		for _, r := range base {
			switch {
			case unicode.IsLetter(r) || unicode.IsNumber(r):
				cleaned.WriteRune(r)
				prevSpace = false
			case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
				if !prevSpace {
					cleaned.WriteRune(' ')
					prevSpace = true
				}
			}
		}
		if derived := strings.TrimSpace(cleaned.String()); derived != "" {
			title = cases.Title(language.Und).String(derived)
		}
	}
	if quizCount > 1 {
		title = fmt.Sprintf("%s (Quiz %d)", title, quizIndex)
	}
	return title
}
