package storyboard

import "fmt"

// Document is the parsed form of one storyboard file. Pages appear in source
// order. Immutable once returned by Parse.
type Document struct {
	Pages       []Page
	Diagnostics []Diagnostic
	Errors      []*ParseError
}

// Quizzes returns every quiz in the document in source order.
func (d *Document) Quizzes() []Quiz {
	if d == nil {
		return nil
	}
	var quizzes []Quiz
	for _, page := range d.Pages {
		quizzes = append(quizzes, page.Quizzes...)
	}
	return quizzes
}

// Page is one canvas_page block.
type Page struct {
	Index   int
	Title   string
	Line    int
	Quizzes []Quiz
}

// Quiz is one quiz_start block. Index is the quiz's 1-based ordinal across
// the whole document, not within its page.
type Quiz struct {
	PageIndex   int
	Index       int
	Title       string
	Description string
	Line        int
	Items       []RawItem
}

// RawItem is an un-validated question node: the declared type tag plus every
// field the scanner extracted from the block. The mapper turns it into a
// canonical item spec or rejects it.
type RawItem struct {
	Tag     string
	Line    int
	Title   string
	Points  float64
	Shuffle bool

	PromptHTML string
	Options    []Option
	Feedback   Feedback

	TrueFalse *bool

	Exact     *float64
	Tolerance float64

	ShortAnswers []string
	Blanks       []Blank
	Pairs        []Pair
	Order        []string
	Categories   []Category

	ImageURL string
	Hotspots []string

	Formula   string
	Variables []string
	Decimals  *int
}

// Option is one answer choice with its correctness marker and optional
// inline feedback.
type Option struct {
	Text         string
	Correct      bool
	FeedbackHTML string
}

// Feedback holds block-level feedback shown after answering. Empty strings
// mean unset.
type Feedback struct {
	Correct   string
	Incorrect string
	Neutral   string
}

// Blank is one fill-in-blank slot and its accepted answers.
type Blank struct {
	ID       string
	Accepted []string
}

// Pair is one matching prompt/answer pair.
type Pair struct {
	Prompt string
	Match  string
}

// Category is one categorization bucket and its member items.
type Category struct {
	Name  string
	Items []string
}

// Diagnostic is a non-fatal finding (unrecognized tag, malformed directive).
// Quiz is 0 when the finding is not scoped to a quiz.
type Diagnostic struct {
	Page    int
	Quiz    int
	Line    int
	Message string
}

func (d Diagnostic) String() string {
	if d.Quiz > 0 {
		return fmt.Sprintf("page %d quiz %d line %d: %s", d.Page, d.Quiz, d.Line, d.Message)
	}
	return fmt.Sprintf("page %d line %d: %s", d.Page, d.Line, d.Message)
}

// ParseError is a fatal structural error scoped to one page. Pages parsed
// before and after the broken one are preserved in the Document.
type ParseError struct {
	Page    int
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("page %d: %s (line %d)", e.Page, e.Message, e.Line)
}
