package storyboard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	tagMultipleChoice = "multiple_choice"
	tagMultipleAnswer = "multiple_answer"
	tagTrueFalse      = "true_false"
	tagShortAnswer    = "short_answer"
	tagEssay          = "essay"
	tagNumeric        = "numeric"
	tagMatching       = "matching"
	tagOrdering       = "ordering"
	tagCategorization = "categorization"
	tagFillInBlank    = "fill_in_blank"
	tagFileUpload     = "file_upload"
	tagHotSpot        = "hot_spot"
	tagFormula        = "formula"
)

// typeFlags resolves a question block's kind. The first matching flag wins;
// a block with no flag at all is multiple choice.
var typeFlags = []struct {
	pattern *regexp.Regexp
	tag     string
}{
	{regexp.MustCompile(`(?i)<\s*multiple_answers?\s*>`), tagMultipleAnswer},
	{regexp.MustCompile(`(?i)<\s*true_false\s*>`), tagTrueFalse},
	{regexp.MustCompile(`(?i)<\s*short_answer\s*>`), tagShortAnswer},
	{regexp.MustCompile(`(?i)<\s*essay\s*>`), tagEssay},
	{regexp.MustCompile(`(?i)<\s*numeric\s*>`), tagNumeric},
	{regexp.MustCompile(`(?i)<\s*matching\s*>`), tagMatching},
	{regexp.MustCompile(`(?i)<\s*ordering\s*>`), tagOrdering},
	{regexp.MustCompile(`(?i)<\s*categorization\s*>`), tagCategorization},
	{regexp.MustCompile(`(?i)<\s*fill_in_blank\s*>`), tagFillInBlank},
	{regexp.MustCompile(`(?i)<\s*file_upload\s*>`), tagFileUpload},
	{regexp.MustCompile(`(?i)<\s*hot_spot\s*>`), tagHotSpot},
	{regexp.MustCompile(`(?i)<\s*formula\s*>`), tagFormula},
}

// flagNames lists every tag that may open a line inside a question block
// without being content. Anything else tag-shaped is unrecognized.
var flagNames = map[string]struct{}{
	tagMultipleChoice: {}, tagMultipleAnswer: {}, "multiple_answers": {},
	tagTrueFalse: {}, tagShortAnswer: {}, tagEssay: {}, tagNumeric: {},
	tagMatching: {}, tagOrdering: {}, tagCategorization: {}, tagFillInBlank: {},
	tagFileUpload: {}, tagHotSpot: {}, tagFormula: {},
	"shuffle": {}, "no_shuffle": {},
}

var (
	noShufflePattern      = regexp.MustCompile(`(?i)<\s*no_shuffle\s*>`)
	leadingTagPattern     = regexp.MustCompile(`^</?\s*([A-Za-z][A-Za-z0-9_]*)\s*>`)
	optionMarkerPattern   = regexp.MustCompile(`^(?:\*\s|-\s|[A-Za-z]\)\s|[0-9]+\)\s|[A-Za-z]\.\s|[0-9]+\.\s)`)
	blankHeaderPattern    = regexp.MustCompile(`(?i)^blank\s+([A-Za-z0-9_]+)\s*:\s*$`)
	categoryHeaderPattern = regexp.MustCompile(`(?i)^category\s+(.+?):\s*$`)
)

type parseState int

const (
	stateStem parseState = iota
	stateShortAnswers
	stateBlankValues
	statePairs
	stateOrder
	stateCategoryItems
)

// parseQuestion extracts one RawItem from a question block. A nil item means
// the node was skipped; diagnostics explain why. List sections (answers:,
// pairs:, order:, blank x:, category x:) consume following lines until a line
// no longer fits the section; that line is then handled normally.
func parseQuestion(block string, startLine int) (*RawItem, []Diagnostic) {
	var diags []Diagnostic

	type sourceLine struct {
		text   string
		number int
	}
	var lines []sourceLine
	number := startLine
	for _, raw := range strings.Split(block, "\n") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			lines = append(lines, sourceLine{text: trimmed, number: number})
		}
		number++
	}

	item := &RawItem{Tag: tagMultipleChoice, Line: startLine, Shuffle: true}
	for _, flag := range typeFlags {
		if flag.pattern.MatchString(block) {
			item.Tag = flag.tag
			break
		}
	}
	if noShufflePattern.MatchString(block) {
		item.Shuffle = false
	}

	var promptParts []string
	state := stateStem
	currentBlank := -1
	currentCategory := -1

	for _, src := range lines {
		l := src.text
		if m := leadingTagPattern.FindStringSubmatch(l); m != nil {
			name := strings.ToLower(m[1])
			if _, ok := flagNames[name]; ok {
				continue
			}
			diags = append(diags, Diagnostic{
				Line:    src.number,
				Message: fmt.Sprintf("unrecognized tag <%s>; item skipped", name),
			})
			return nil, diags
		}
		lower := strings.ToLower(l)

		if strings.HasPrefix(lower, "feedback_correct:") {
			item.Feedback.Correct = directiveValue(l)
			continue
		}
		if strings.HasPrefix(lower, "feedback_incorrect:") {
			item.Feedback.Incorrect = directiveValue(l)
			continue
		}
		if strings.HasPrefix(lower, "feedback_neutral:") {
			item.Feedback.Neutral = directiveValue(l)
			continue
		}
		if strings.HasPrefix(lower, "title:") {
			item.Title = directiveValue(l)
			continue
		}
		if strings.HasPrefix(lower, "points:") {
			value, err := strconv.ParseFloat(directiveValue(l), 64)
			if err != nil {
				diags = append(diags, Diagnostic{Line: src.number, Message: fmt.Sprintf("invalid points value %q", directiveValue(l))})
				continue
			}
			item.Points = value
			continue
		}

		if item.Tag == tagTrueFalse && strings.HasPrefix(lower, "correct:") {
			rhs := strings.ToLower(directiveValue(l))
			value := rhs == "true" || rhs == "t" || rhs == "1" || rhs == "yes"
			item.TrueFalse = &value
			continue
		}

		if item.Tag == tagNumeric {
			if strings.HasPrefix(lower, "exact:") {
				value, err := strconv.ParseFloat(directiveValue(l), 64)
				if err != nil {
					diags = append(diags, Diagnostic{Line: src.number, Message: fmt.Sprintf("invalid exact value %q", directiveValue(l))})
					continue
				}
				item.Exact = &value
				continue
			}
			if strings.HasPrefix(lower, "tolerance:") {
				value, err := strconv.ParseFloat(directiveValue(l), 64)
				if err != nil {
					diags = append(diags, Diagnostic{Line: src.number, Message: fmt.Sprintf("invalid tolerance value %q", directiveValue(l))})
					continue
				}
				item.Tolerance = value
				continue
			}
		}

		if item.Tag == tagShortAnswer {
			if lower == "answers:" {
				state = stateShortAnswers
				continue
			}
			if state == stateShortAnswers {
				if !strings.HasSuffix(l, ":") {
					item.ShortAnswers = append(item.ShortAnswers, listValue(l))
					continue
				}
				state = stateStem
			}
		}

		if item.Tag == tagFillInBlank {
			if m := blankHeaderPattern.FindStringSubmatch(l); m != nil {
				item.Blanks = append(item.Blanks, Blank{ID: m[1]})
				currentBlank = len(item.Blanks) - 1
				state = stateBlankValues
				continue
			}
			if state == stateBlankValues && currentBlank >= 0 {
				if strings.HasPrefix(l, "-") || strings.HasPrefix(l, "*") {
					item.Blanks[currentBlank].Accepted = append(item.Blanks[currentBlank].Accepted, listValue(l))
					continue
				}
				state = stateStem
			}
		}

		if item.Tag == tagMatching {
			if lower == "pairs:" {
				state = statePairs
				continue
			}
			if state == statePairs {
				if left, right, found := strings.Cut(l, "=>"); found {
					item.Pairs = append(item.Pairs, Pair{Prompt: strings.TrimSpace(left), Match: strings.TrimSpace(right)})
					continue
				}
				state = stateStem
			}
		}

		if item.Tag == tagOrdering {
			if lower == "order:" {
				state = stateOrder
				continue
			}
			if state == stateOrder {
				if !strings.HasSuffix(l, ":") {
					item.Order = append(item.Order, listValue(l))
					continue
				}
				state = stateStem
			}
		}

		if item.Tag == tagCategorization {
			if m := categoryHeaderPattern.FindStringSubmatch(l); m != nil {
				item.Categories = append(item.Categories, Category{Name: strings.TrimSpace(m[1])})
				currentCategory = len(item.Categories) - 1
				state = stateCategoryItems
				continue
			}
			if state == stateCategoryItems && currentCategory >= 0 {
				if !strings.HasSuffix(l, ":") {
					item.Categories[currentCategory].Items = append(item.Categories[currentCategory].Items, listValue(l))
					continue
				}
				state = stateStem
			}
		}

		if item.Tag == tagHotSpot {
			if strings.HasPrefix(lower, "image_url:") {
				item.ImageURL = directiveValue(l)
				continue
			}
			if strings.HasPrefix(lower, "hotspot:") {
				item.Hotspots = append(item.Hotspots, directiveValue(l))
				continue
			}
		}

		if item.Tag == tagFormula {
			if strings.HasPrefix(lower, "formula:") {
				item.Formula = directiveValue(l)
				continue
			}
			if strings.HasPrefix(lower, "variable:") {
				item.Variables = append(item.Variables, directiveValue(l))
				continue
			}
			if strings.HasPrefix(lower, "decimals:") {
				value, err := strconv.Atoi(directiveValue(l))
				if err != nil {
					diags = append(diags, Diagnostic{Line: src.number, Message: fmt.Sprintf("invalid decimals value %q", directiveValue(l))})
					continue
				}
				item.Decimals = &value
				continue
			}
		}

		if (item.Tag == tagMultipleChoice || item.Tag == tagMultipleAnswer) && optionMarkerPattern.MatchString(l) {
			correct := strings.HasPrefix(l, "* ")
			text := l
			if correct {
				text = l[2:]
			} else if loc := optionMarkerPattern.FindStringIndex(l); loc != nil {
				text = l[loc[1]:]
			}
			option := Option{Correct: correct}
			if before, after, found := strings.Cut(text, " <feedback>"); found {
				option.Text = strings.TrimSpace(before)
				if fb := strings.TrimSpace(after); fb != "" {
					option.FeedbackHTML = "<p>" + fb + "</p>"
				}
			} else {
				option.Text = strings.TrimSpace(text)
			}
			item.Options = append(item.Options, option)
			continue
		}

		promptParts = append(promptParts, l)
	}

	if len(promptParts) == 0 {
		item.PromptHTML = "<p></p>"
	} else {
		item.PromptHTML = "<p>" + strings.Join(promptParts, "</p><p>") + "</p>"
	}
	return item, diags
}

// directiveValue returns the trimmed text after the first colon.
func directiveValue(line string) string {
	_, after, _ := strings.Cut(line, ":")
	return strings.TrimSpace(after)
}

// listValue strips a leading dash/star bullet from a list entry.
func listValue(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "-* "))
}
