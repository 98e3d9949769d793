package textutil

import (
	"strings"

	"golang.org/x/text/cases"
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
	"&apos;", "'",
)

var caseFolder = cases.Fold()

// StripTags removes HTML tags and decodes the common entities, leaving the
// visible text. Block-level tags turn into spaces so adjacent paragraphs do
// not fuse into one word.
func StripTags(html string) string {
	var b strings.Builder
	b.Grow(len(html))
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(entityReplacer.Replace(b.String()))
}

// NormalizeForCompare flattens rich text into a form stable across an API
// round trip: tags stripped, entities decoded, Unicode case folded, and all
// whitespace runs collapsed to single spaces. Two contents are "the same"
// exactly when their normalized forms are equal.
func NormalizeForCompare(html string) string {
	text := caseFolder.String(StripTags(html))
	return strings.Join(strings.Fields(text), " ")
}
