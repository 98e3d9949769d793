package items

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"quizsync/internal/storyboard"
)

// defaultPoints applies when a question declares no points directive.
const defaultPoints = 1.0

// defaultFormulaDecimals applies when a formula question declares no
// decimals directive.
const defaultFormulaDecimals = 2

var blankTokenPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// ValidationError reports every schema problem found in a single question.
// Mapping collects these and keeps going, so one bad question never hides
// its siblings.
type ValidationError struct {
	Key      CorrelationKey
	Line     int
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("question at line %d: %s", e.Line, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("item %s (line %d): %s", e.Key, e.Line, strings.Join(e.Problems, "; "))
}

// mapperFunc validates one question's kind-specific fields and fills the
// matching payload on the spec, returning the problems it found.
type mapperFunc func(raw storyboard.RawItem, spec *Spec) []string

// mappers routes each kind to its builder. Supporting a new kind is one
// table entry plus its builder.
var mappers = map[Kind]mapperFunc{
	KindMultipleChoice: mapMultipleChoice,
	KindMultipleAnswer: mapMultipleAnswer,
	KindTrueFalse:      mapTrueFalse,
	KindShortAnswer:    mapShortAnswer,
	KindEssay:          mapPromptOnly,
	KindNumeric:        mapNumeric,
	KindMatching:       mapMatching,
	KindOrdering:       mapOrdering,
	KindCategorization: mapCategorization,
	KindFillInBlank:    mapFillInBlank,
	KindFileUpload:     mapPromptOnly,
	KindHotSpot:        mapHotSpot,
	KindFormula:        mapFormula,
}

// Map converts one raw question into a canonical spec. quizIdx and itemIdx
// are the 1-based structural ordinals that determine the correlation key.
// Failures come back as a *ValidationError listing every problem at once.
func Map(raw storyboard.RawItem, quizIdx, itemIdx int) (Spec, error) {
	kind, err := ParseKind(raw.Tag)
	if err != nil {
		return Spec{}, &ValidationError{Line: raw.Line, Problems: []string{err.Error()}}
	}

	spec := Spec{
		Key:        NewKey(quizIdx, itemIdx, kind),
		Kind:       kind,
		Position:   itemIdx,
		Line:       raw.Line,
		Title:      strings.TrimSpace(raw.Title),
		PromptHTML: raw.PromptHTML,
		Points:     raw.Points,
		Shuffle:    raw.Shuffle,
		Feedback: Feedback{
			Correct:   raw.Feedback.Correct,
			Incorrect: raw.Feedback.Incorrect,
			Neutral:   raw.Feedback.Neutral,
		},
	}
	if spec.Title == "" {
		spec.Title = fmt.Sprintf("Question %d", itemIdx)
	}

	var problems []string
	switch {
	case spec.Points < 0:
		problems = append(problems, "points must not be negative")
	case spec.Points == 0:
		spec.Points = defaultPoints
	}
	if spec.PromptHTML == "" || spec.PromptHTML == "<p></p>" {
		problems = append(problems, "empty prompt")
	}

	problems = append(problems, mappers[kind](raw, &spec)...)
	if len(problems) > 0 {
		return Spec{}, &ValidationError{Key: spec.Key, Line: raw.Line, Problems: problems}
	}
	return spec, nil
}

// MapQuiz maps every question of one quiz block. Specs and validation
// errors are collected side by side; an invalid question never stops its
// siblings. Item ordinals count all questions, so a question keeps its key
// while earlier siblings are being fixed.
func MapQuiz(quiz storyboard.Quiz) ([]Spec, []*ValidationError) {
	var (
		specs []Spec
		verrs []*ValidationError
	)
	for i, raw := range quiz.Items {
		spec, err := Map(raw, quiz.Index, i+1)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verrs = append(verrs, verr)
			} else {
				verrs = append(verrs, &ValidationError{Line: raw.Line, Problems: []string{err.Error()}})
			}
			continue
		}
		specs = append(specs, spec)
	}
	return specs, verrs
}

func mapMultipleChoice(raw storyboard.RawItem, spec *Spec) []string {
	choices, problems := buildChoices(raw)
	if len(choices) < 2 {
		problems = append(problems, fmt.Sprintf("needs at least 2 options, has %d", len(choices)))
	}
	if n := countCorrect(choices); n != 1 {
		problems = append(problems, fmt.Sprintf("needs exactly 1 correct option, has %d", n))
	}
	spec.Choices = choices
	return problems
}

func mapMultipleAnswer(raw storyboard.RawItem, spec *Spec) []string {
	choices, problems := buildChoices(raw)
	if len(choices) < 2 {
		problems = append(problems, fmt.Sprintf("needs at least 2 options, has %d", len(choices)))
	}
	if countCorrect(choices) == 0 {
		problems = append(problems, "needs at least 1 correct option")
	}
	spec.Choices = choices
	return problems
}

func mapTrueFalse(raw storyboard.RawItem, spec *Spec) []string {
	if raw.TrueFalse == nil {
		return []string{"missing correct: directive"}
	}
	value := *raw.TrueFalse
	spec.TrueAnswer = &value
	return nil
}

func mapShortAnswer(raw storyboard.RawItem, spec *Spec) []string {
	answers := make([]string, 0, len(raw.ShortAnswers))
	for _, answer := range raw.ShortAnswers {
		if trimmed := strings.TrimSpace(answer); trimmed != "" {
			answers = append(answers, trimmed)
		}
	}
	if len(answers) == 0 {
		return []string{"needs at least one accepted answer"}
	}
	spec.ShortAnswers = answers
	return nil
}

func mapPromptOnly(storyboard.RawItem, *Spec) []string {
	return nil
}

func mapNumeric(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	if raw.Exact == nil {
		problems = append(problems, "missing exact: value")
	}
	if raw.Tolerance < 0 {
		problems = append(problems, "tolerance must not be negative")
	}
	if len(problems) > 0 {
		return problems
	}
	spec.Numeric = &NumericRule{Exact: *raw.Exact, Tolerance: raw.Tolerance}
	return nil
}

func mapMatching(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	seen := make(map[string]struct{}, len(raw.Pairs))
	pairs := make([]Pair, 0, len(raw.Pairs))
	for i, pair := range raw.Pairs {
		if pair.Prompt == "" || pair.Match == "" {
			problems = append(problems, fmt.Sprintf("pair %d has an empty side", i+1))
			continue
		}
		if _, dup := seen[pair.Prompt]; dup {
			problems = append(problems, fmt.Sprintf("duplicate prompt %q", pair.Prompt))
			continue
		}
		seen[pair.Prompt] = struct{}{}
		pairs = append(pairs, Pair{Prompt: pair.Prompt, Match: pair.Match})
	}
	if len(pairs) < 2 {
		problems = append(problems, fmt.Sprintf("needs at least 2 complete pairs, has %d", len(pairs)))
	}
	spec.Pairs = pairs
	return problems
}

func mapOrdering(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	seen := make(map[string]struct{}, len(raw.Order))
	for _, step := range raw.Order {
		if _, dup := seen[step]; dup {
			problems = append(problems, fmt.Sprintf("duplicate element %q", step))
		}
		seen[step] = struct{}{}
	}
	if len(raw.Order) < 2 {
		problems = append(problems, fmt.Sprintf("needs at least 2 elements, has %d", len(raw.Order)))
	}
	spec.Order = append([]string(nil), raw.Order...)
	return problems
}

func mapCategorization(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	assigned := make(map[string]string)
	categories := make([]Category, 0, len(raw.Categories))
	for _, cat := range raw.Categories {
		if len(cat.Items) == 0 {
			problems = append(problems, fmt.Sprintf("category %q has no items", cat.Name))
			continue
		}
		for _, item := range cat.Items {
			if owner, dup := assigned[item]; dup {
				problems = append(problems, fmt.Sprintf("item %q assigned to both %q and %q", item, owner, cat.Name))
				continue
			}
			assigned[item] = cat.Name
		}
		categories = append(categories, Category{Name: cat.Name, Items: append([]string(nil), cat.Items...)})
	}
	if len(categories) < 2 {
		problems = append(problems, fmt.Sprintf("needs at least 2 categories, has %d", len(categories)))
	}
	spec.Categories = categories
	return problems
}

func mapFillInBlank(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	ids := make(map[string]struct{}, len(raw.Blanks))
	blanks := make([]Blank, 0, len(raw.Blanks))
	for _, blank := range raw.Blanks {
		if _, dup := ids[blank.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate blank id %q", blank.ID))
			continue
		}
		ids[blank.ID] = struct{}{}
		if len(blank.Accepted) == 0 {
			problems = append(problems, fmt.Sprintf("blank %q has no accepted answers", blank.ID))
			continue
		}
		blanks = append(blanks, Blank{ID: blank.ID, Accepted: append([]string(nil), blank.Accepted...)})
	}
	if len(blanks) == 0 && len(problems) == 0 {
		problems = append(problems, "needs at least one blank")
	}
	for _, m := range blankTokenPattern.FindAllStringSubmatch(raw.PromptHTML, -1) {
		if _, ok := ids[m[1]]; !ok {
			problems = append(problems, fmt.Sprintf("prompt references undefined blank %q", m[1]))
		}
	}
	spec.Blanks = blanks
	return problems
}

func mapHotSpot(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	if raw.ImageURL == "" {
		problems = append(problems, "missing image_url: directive")
	} else if u, err := url.Parse(raw.ImageURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("image_url %q is not an absolute URL", raw.ImageURL))
	}
	if len(raw.Hotspots) == 0 {
		problems = append(problems, "needs at least one hotspot region")
	}
	if len(problems) > 0 {
		return problems
	}
	spec.HotSpot = &HotSpotRegions{
		ImageURL: raw.ImageURL,
		Regions:  append([]string(nil), raw.Hotspots...),
	}
	return nil
}

func mapFormula(raw storyboard.RawItem, spec *Spec) []string {
	var problems []string
	expression := strings.TrimSpace(raw.Formula)
	if expression == "" {
		problems = append(problems, "missing formula: expression")
	}
	decimals := defaultFormulaDecimals
	if raw.Decimals != nil {
		if *raw.Decimals < 0 {
			problems = append(problems, "decimals must not be negative")
		}
		decimals = *raw.Decimals
	}
	if len(problems) > 0 {
		return problems
	}
	spec.Formula = &FormulaRule{
		Expression: expression,
		Variables:  append([]string(nil), raw.Variables...),
		Decimals:   decimals,
	}
	return nil
}

func buildChoices(raw storyboard.RawItem) ([]Choice, []string) {
	var problems []string
	choices := make([]Choice, 0, len(raw.Options))
	for i, opt := range raw.Options {
		if strings.TrimSpace(opt.Text) == "" {
			problems = append(problems, fmt.Sprintf("option %d has empty text", i+1))
			continue
		}
		choices = append(choices, Choice{
			Text:         opt.Text,
			Correct:      opt.Correct,
			FeedbackHTML: opt.FeedbackHTML,
		})
	}
	return choices, problems
}

func countCorrect(choices []Choice) int {
	n := 0
	for _, choice := range choices {
		if choice.Correct {
			n++
		}
	}
	return n
}
