package storyboard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	pageOpenPattern  = regexp.MustCompile(`(?i)<canvas_page\b[^>]*>`)
	pageClosePattern = regexp.MustCompile(`(?i)</\s*canvas_page\s*>`)
	pageTitlePattern = regexp.MustCompile(`(?i)<page_title\b[^>]*>([^<]*)</\s*page_title\s*>`)
	quizOpenPattern  = regexp.MustCompile(`(?i)<quiz_start\b[^>]*>`)
	quizClosePattern = regexp.MustCompile(`(?i)</\s*(?:quiz_end|quiz)\s*>`)
	quizTitlePattern = regexp.MustCompile(`(?i)<quiz_title\b[^>]*>([^<]*)</\s*quiz_title\s*>`)
	quizDescPattern  = regexp.MustCompile(`(?i)<quiz_description\b[^>]*>([^<]*)</\s*quiz_description\s*>`)
	questionPattern  = regexp.MustCompile(`(?i)<question\b[^>]*>\s*([\s\S]+?)\s*</\s*question\s*>`)
)

// Parse scans raw storyboard text into a Document. The returned Document
// always holds every page that parsed cleanly; the error, when non-nil, joins
// the page-scoped ParseErrors for pages that did not. Parsing is pure and
// deterministic: identical input yields structurally identical output.
func Parse(text string) (*Document, error) {
	s := &scanner{text: normalize(text), doc: &Document{}}
	s.scanPages()
	if len(s.doc.Errors) == 0 {
		return s.doc, nil
	}
	errs := make([]error, 0, len(s.doc.Errors))
	for _, perr := range s.doc.Errors {
		errs = append(errs, perr)
	}
	return s.doc, errors.Join(errs...)
}

type scanner struct {
	text    string
	doc     *Document
	quizSeq int
}

func (s *scanner) scanPages() {
	cursor := 0
	pageIndex := 0
	for {
		open := pageOpenPattern.FindStringIndex(s.text[cursor:])
		if open == nil {
			return
		}
		openStart := cursor + open[0]
		openEnd := cursor + open[1]
		pageIndex++

		rest := s.text[openEnd:]
		closeIdx := pageClosePattern.FindStringIndex(rest)
		nextOpen := pageOpenPattern.FindStringIndex(rest)

		// An open tag with no close before the next page is unterminated.
		// The broken page is dropped; scanning resumes at the next page so
		// siblings survive.
		if closeIdx == nil || (nextOpen != nil && nextOpen[0] < closeIdx[0]) {
			s.doc.Errors = append(s.doc.Errors, &ParseError{
				Page:    pageIndex,
				Line:    lineAt(s.text, openStart),
				Message: "unterminated <canvas_page> block",
			})
			if nextOpen == nil {
				return
			}
			cursor = openEnd + nextOpen[0]
			continue
		}

		s.scanPage(pageIndex, rest[:closeIdx[0]], openEnd, lineAt(s.text, openStart))
		cursor = openEnd + closeIdx[1]
	}
}

func (s *scanner) scanPage(index int, body string, baseOffset, line int) {
	page := Page{Index: index, Line: line, Title: fmt.Sprintf("Page %d", index)}
	if m := pageTitlePattern.FindStringSubmatch(body); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			page.Title = title
		}
	}

	cursor := 0
	for {
		open := quizOpenPattern.FindStringIndex(body[cursor:])
		if open == nil {
			break
		}
		openStart := cursor + open[0]
		openEnd := cursor + open[1]

		closeIdx := quizClosePattern.FindStringIndex(body[openEnd:])
		if closeIdx == nil {
			s.doc.Errors = append(s.doc.Errors, &ParseError{
				Page:    index,
				Line:    lineAt(s.text, baseOffset+openStart),
				Message: "unterminated <quiz_start> block",
			})
			break
		}

		s.quizSeq++
		quiz := s.scanQuiz(&page, body[openEnd:openEnd+closeIdx[0]], baseOffset+openEnd, lineAt(s.text, baseOffset+openStart))
		page.Quizzes = append(page.Quizzes, quiz)
		cursor = openEnd + closeIdx[1]
	}

	s.doc.Pages = append(s.doc.Pages, page)
}

func (s *scanner) scanQuiz(page *Page, body string, baseOffset, line int) Quiz {
	quiz := Quiz{
		PageIndex: page.Index,
		Index:     s.quizSeq,
		Title:     "Quiz from " + page.Title,
		Line:      line,
	}
	if m := quizTitlePattern.FindStringSubmatch(body); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			quiz.Title = title
		}
	}
	if m := quizDescPattern.FindStringSubmatch(body); m != nil {
		quiz.Description = strings.TrimSpace(m[1])
	}

	for _, match := range questionPattern.FindAllStringSubmatchIndex(body, -1) {
		block := body[match[2]:match[3]]
		blockLine := lineAt(s.text, baseOffset+match[2])
		item, diags := parseQuestion(block, blockLine)
		for _, diag := range diags {
			diag.Page = page.Index
			diag.Quiz = quiz.Index
			s.doc.Diagnostics = append(s.doc.Diagnostics, diag)
		}
		if item != nil {
			quiz.Items = append(quiz.Items, *item)
		}
	}
	return quiz
}
