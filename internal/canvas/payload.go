package canvas

import (
	"fmt"

	"github.com/google/uuid"

	"quizsync/internal/items"
)

// Interaction type slugs understood by the New Quizzes item API. short_answer
// and fill_in_blank share rich-fill-blank.
const (
	SlugChoice         = "choice"
	SlugMultiAnswer    = "multi-answer"
	SlugTrueFalse      = "true-false"
	SlugRichFillBlank  = "rich-fill-blank"
	SlugEssay          = "essay"
	SlugNumeric        = "numeric"
	SlugMatching       = "matching"
	SlugOrdering       = "ordering"
	SlugCategorization = "categorization"
	SlugFileUpload     = "file-upload"
	SlugHotSpot        = "hot-spot"
	SlugFormula        = "formula"
)

const (
	algoEquivalence     = "Equivalence"
	algoPartialScore    = "PartialScore"
	algoMultipleMethods = "MultipleMethods"
	algoNone            = "None"
	algoNumeric         = "Numeric"
	algoDeepEquals      = "DeepEquals"
	algoCategorization  = "Categorization"
	algoHotSpot         = "HotSpot"
)

var kindSlugs = map[items.Kind]string{
	items.KindMultipleChoice: SlugChoice,
	items.KindMultipleAnswer: SlugMultiAnswer,
	items.KindTrueFalse:      SlugTrueFalse,
	items.KindShortAnswer:    SlugRichFillBlank,
	items.KindEssay:          SlugEssay,
	items.KindNumeric:        SlugNumeric,
	items.KindMatching:       SlugMatching,
	items.KindOrdering:       SlugOrdering,
	items.KindCategorization: SlugCategorization,
	items.KindFillInBlank:    SlugRichFillBlank,
	items.KindFileUpload:     SlugFileUpload,
	items.KindHotSpot:        SlugHotSpot,
	items.KindFormula:        SlugFormula,
}

// SlugForKind reports the interaction slug a kind uploads as.
func SlugForKind(kind items.Kind) string {
	return kindSlugs[kind]
}

// ItemPayload is the envelope POSTed to the New Quizzes items endpoint.
type ItemPayload struct {
	Item Item `json:"item" validate:"required"`
}

// Item is the item body of the envelope. Position is the 1-based slot the
// item occupies in the quiz, taken from the storyboard sequence.
type Item struct {
	Position       int     `json:"position" validate:"gte=1"`
	PointsPossible float64 `json:"points_possible" validate:"gte=0"`
	EntryType      string  `json:"entry_type" validate:"required,eq=Item"`
	Entry          Entry   `json:"entry" validate:"required"`
}

// Entry carries the interaction payload. InteractionData and Properties are
// free-shaped maps because every slug has its own schema; the typed option
// structs below keep the shapes honest.
type Entry struct {
	Title               string            `json:"title" validate:"required"`
	ItemBody            string            `json:"item_body" validate:"required"`
	CalculatorType      string            `json:"calculator_type" validate:"oneof=none basic scientific"`
	InteractionTypeSlug string            `json:"interaction_type_slug" validate:"required,oneof=choice multi-answer true-false rich-fill-blank essay numeric matching ordering categorization file-upload hot-spot formula"`
	InteractionData     map[string]any    `json:"interaction_data"`
	Properties          map[string]any    `json:"properties"`
	ScoringData         ScoringData       `json:"scoring_data"`
	ScoringAlgorithm    string            `json:"scoring_algorithm" validate:"required"`
	Feedback            map[string]string `json:"feedback,omitempty"`
	AnswerFeedback      map[string]string `json:"answer_feedback,omitempty"`
}

// ScoringData always wraps the kind-specific answer shape in a value field;
// the API rejects bare shapes.
type ScoringData struct {
	Value any `json:"value"`
}

type choiceOption struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ItemBody string `json:"item_body,omitempty"`
}

type matchingPrompt struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	ItemBody       string `json:"item_body,omitempty"`
	AnswerChoiceID string `json:"answer_choice_id"`
}

type categoryChoice struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	ItemBody   string `json:"item_body,omitempty"`
	CategoryID string `json:"category_id"`
}

type numericEntry struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Value      string `json:"value"`
	Margin     string `json:"margin,omitempty"`
	MarginType string `json:"margin_type,omitempty"`
}

// payloadFunc fills the slug-specific parts of an entry.
type payloadFunc func(spec items.Spec, entry *Entry)

var payloadBuilders = map[items.Kind]payloadFunc{
	items.KindMultipleChoice: buildMultipleChoice,
	items.KindMultipleAnswer: buildMultipleAnswer,
	items.KindTrueFalse:      buildTrueFalse,
	items.KindShortAnswer:    buildShortAnswer,
	items.KindEssay:          buildEssay,
	items.KindNumeric:        buildNumeric,
	items.KindMatching:       buildMatching,
	items.KindOrdering:       buildOrdering,
	items.KindCategorization: buildCategorization,
	items.KindFillInBlank:    buildFillInBlank,
	items.KindFileUpload:     buildFileUpload,
	items.KindHotSpot:        buildHotSpot,
	items.KindFormula:        buildFormula,
}

// BuildItemPayload renders one canonical spec as a New Quizzes item envelope.
// The correlation key rides in the title suffix so listings can be matched
// back; the position comes from the storyboard sequence regardless of upload
// completion order. Choice and blank identifiers are freshly generated UUIDs
// per call, exactly as the remote model requires.
func BuildItemPayload(spec items.Spec) (*ItemPayload, error) {
	build, ok := payloadBuilders[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("canvas payload: unsupported kind %q", spec.Kind)
	}

	entry := Entry{
		Title:          spec.Title + spec.Key.TitleSuffix(),
		ItemBody:       spec.PromptHTML,
		CalculatorType: "none",
		Properties:     map[string]any{},
		Feedback:       feedbackMap(spec.Feedback),
	}
	build(spec, &entry)

	payload := &ItemPayload{
		Item: Item{
			Position:       spec.Position,
			PointsPossible: spec.Points,
			EntryType:      "Item",
			Entry:          entry,
		},
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func feedbackMap(fb items.Feedback) map[string]string {
	out := make(map[string]string, 3)
	if fb.Correct != "" {
		out["correct"] = fb.Correct
	}
	if fb.Incorrect != "" {
		out["incorrect"] = fb.Incorrect
	}
	if fb.Neutral != "" {
		out["neutral"] = fb.Neutral
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func shuffleRules(spec items.Spec) map[string]any {
	return map[string]any{
		"shuffle_rules": map[string]any{
			"choices": map[string]any{"shuffled": spec.Shuffle},
		},
	}
}

func buildMultipleChoice(spec items.Spec, entry *Entry) {
	options := make([]choiceOption, 0, len(spec.Choices))
	var correctID string
	answerFeedback := map[string]string{}
	for _, choice := range spec.Choices {
		option := choiceOption{ID: uuid.NewString(), Text: choice.Text, ItemBody: choice.Text}
		options = append(options, option)
		if choice.Correct {
			correctID = option.ID
		}
		if choice.FeedbackHTML != "" {
			answerFeedback[option.ID] = choice.FeedbackHTML
		}
	}

	entry.InteractionTypeSlug = SlugChoice
	entry.InteractionData = map[string]any{
		"choices":         options,
		"shuffle_answers": spec.Shuffle,
	}
	entry.Properties = shuffleRules(spec)
	entry.Properties["vary_points_by_answer"] = false
	entry.ScoringData = ScoringData{Value: correctID}
	entry.ScoringAlgorithm = algoEquivalence
	if len(answerFeedback) > 0 {
		entry.AnswerFeedback = answerFeedback
	}
}

func buildMultipleAnswer(spec items.Spec, entry *Entry) {
	options := make([]choiceOption, 0, len(spec.Choices))
	correctIDs := make([]string, 0, len(spec.Choices))
	for _, choice := range spec.Choices {
		option := choiceOption{ID: uuid.NewString(), Text: choice.Text, ItemBody: choice.Text}
		options = append(options, option)
		if choice.Correct {
			correctIDs = append(correctIDs, option.ID)
		}
	}

	entry.InteractionTypeSlug = SlugMultiAnswer
	entry.InteractionData = map[string]any{
		"choices":         options,
		"shuffle_answers": spec.Shuffle,
	}
	entry.Properties = shuffleRules(spec)
	entry.ScoringData = ScoringData{Value: correctIDs}
	entry.ScoringAlgorithm = algoPartialScore
}

func buildTrueFalse(spec items.Spec, entry *Entry) {
	answer := false
	if spec.TrueAnswer != nil {
		answer = *spec.TrueAnswer
	}
	entry.InteractionTypeSlug = SlugTrueFalse
	entry.InteractionData = map[string]any{
		"true_choice":  "True",
		"false_choice": "False",
	}
	entry.ScoringData = ScoringData{Value: answer}
	entry.ScoringAlgorithm = algoEquivalence
}

// buildShortAnswer uploads as a single-blank rich-fill-blank: the blank token
// is appended to the stem and every accepted answer becomes an alternative
// for that one blank.
func buildShortAnswer(spec items.Spec, entry *Entry) {
	const blankID = "b1"
	alternatives := make([]choiceOption, 0, len(spec.ShortAnswers))
	answerIDs := make([]string, 0, len(spec.ShortAnswers))
	for _, accepted := range spec.ShortAnswers {
		alt := choiceOption{ID: uuid.NewString(), Text: accepted}
		alternatives = append(alternatives, alt)
		answerIDs = append(answerIDs, alt.ID)
	}

	entry.InteractionTypeSlug = SlugRichFillBlank
	entry.InteractionData = map[string]any{
		"text_with_blanks": spec.PromptHTML + " {{" + blankID + "}}",
		"blanks":           map[string][]choiceOption{blankID: alternatives},
	}
	entry.ScoringData = ScoringData{Value: map[string]any{
		"blank_to_correct_answer_ids": map[string][]string{blankID: answerIDs},
	}}
	entry.ScoringAlgorithm = algoMultipleMethods
}

func buildEssay(spec items.Spec, entry *Entry) {
	entry.InteractionTypeSlug = SlugEssay
	entry.InteractionData = map[string]any{}
	entry.ScoringData = ScoringData{Value: nil}
	entry.ScoringAlgorithm = algoNone
}

func buildNumeric(spec items.Spec, entry *Entry) {
	rule := spec.Numeric
	var value numericEntry
	if rule != nil && rule.Tolerance > 0 {
		value = numericEntry{
			ID:         uuid.NewString(),
			Type:       "marginOfError",
			Value:      trimFloat(rule.Exact),
			Margin:     trimFloat(rule.Tolerance),
			MarginType: "absolute",
		}
	} else {
		exact := ""
		if rule != nil {
			exact = trimFloat(rule.Exact)
		}
		value = numericEntry{
			ID:    uuid.NewString(),
			Type:  "preciseResponse",
			Value: exact,
		}
	}
	entry.InteractionTypeSlug = SlugNumeric
	entry.InteractionData = map[string]any{}
	entry.ScoringData = ScoringData{Value: []numericEntry{value}}
	entry.ScoringAlgorithm = algoNumeric
}

// buildMatching deduplicates right-hand answers so two prompts sharing a
// match point at one choice, which is how the remote model expects
// distractor-free matching data.
func buildMatching(spec items.Spec, entry *Entry) {
	choiceByText := make(map[string]string, len(spec.Pairs))
	choices := make([]choiceOption, 0, len(spec.Pairs))
	prompts := make([]matchingPrompt, 0, len(spec.Pairs))
	value := make(map[string]string, len(spec.Pairs))

	for _, pair := range spec.Pairs {
		choiceID, ok := choiceByText[pair.Match]
		if !ok {
			choiceID = uuid.NewString()
			choiceByText[pair.Match] = choiceID
			choices = append(choices, choiceOption{ID: choiceID, Text: pair.Match})
		}
		prompt := matchingPrompt{
			ID:             uuid.NewString(),
			Text:           pair.Prompt,
			AnswerChoiceID: choiceID,
		}
		prompts = append(prompts, prompt)
		value[prompt.ID] = choiceID
	}

	entry.InteractionTypeSlug = SlugMatching
	entry.InteractionData = map[string]any{
		"choices": choices,
		"prompts": prompts,
	}
	entry.Properties = map[string]any{
		"shuffle_rules": map[string]any{
			"questions": map[string]any{"shuffled": false},
		},
	}
	entry.ScoringData = ScoringData{Value: value}
	entry.ScoringAlgorithm = algoDeepEquals
}

func buildOrdering(spec items.Spec, entry *Entry) {
	options := make([]choiceOption, 0, len(spec.Order))
	ordered := make([]string, 0, len(spec.Order))
	for _, step := range spec.Order {
		option := choiceOption{ID: uuid.NewString(), Text: step}
		options = append(options, option)
		ordered = append(ordered, option.ID)
	}
	entry.InteractionTypeSlug = SlugOrdering
	entry.InteractionData = map[string]any{"choices": options}
	entry.ScoringData = ScoringData{Value: ordered}
	entry.ScoringAlgorithm = algoDeepEquals
}

func buildCategorization(spec items.Spec, entry *Entry) {
	categories := make([]choiceOption, 0, len(spec.Categories))
	var choices []categoryChoice
	value := make(map[string]string)

	for _, category := range spec.Categories {
		categoryID := uuid.NewString()
		categories = append(categories, choiceOption{ID: categoryID, Text: category.Name, ItemBody: category.Name})
		for _, member := range category.Items {
			choice := categoryChoice{
				ID:         uuid.NewString(),
				Text:       member,
				CategoryID: categoryID,
			}
			choices = append(choices, choice)
			value[choice.ID] = categoryID
		}
	}

	entry.InteractionTypeSlug = SlugCategorization
	entry.InteractionData = map[string]any{
		"categories": categories,
		"choices":    choices,
	}
	entry.Properties = map[string]any{
		"shuffle_rules": map[string]any{
			"questions": map[string]any{"shuffled": false},
		},
	}
	entry.ScoringData = ScoringData{Value: value}
	entry.ScoringAlgorithm = algoCategorization
}

func buildFillInBlank(spec items.Spec, entry *Entry) {
	blanks := make(map[string][]choiceOption, len(spec.Blanks))
	answerIDs := make(map[string][]string, len(spec.Blanks))
	for _, blank := range spec.Blanks {
		alternatives := make([]choiceOption, 0, len(blank.Accepted))
		ids := make([]string, 0, len(blank.Accepted))
		for _, accepted := range blank.Accepted {
			alt := choiceOption{ID: uuid.NewString(), Text: accepted}
			alternatives = append(alternatives, alt)
			ids = append(ids, alt.ID)
		}
		blanks[blank.ID] = alternatives
		answerIDs[blank.ID] = ids
	}

	entry.InteractionTypeSlug = SlugRichFillBlank
	entry.InteractionData = map[string]any{
		"text_with_blanks": spec.PromptHTML,
		"blanks":           blanks,
	}
	entry.ScoringData = ScoringData{Value: map[string]any{
		"blank_to_correct_answer_ids": answerIDs,
	}}
	entry.ScoringAlgorithm = algoMultipleMethods
}

func buildFileUpload(spec items.Spec, entry *Entry) {
	entry.InteractionTypeSlug = SlugFileUpload
	entry.InteractionData = map[string]any{}
	entry.ScoringData = ScoringData{Value: nil}
	entry.ScoringAlgorithm = algoNone
}

func buildHotSpot(spec items.Spec, entry *Entry) {
	var imageURL string
	var regions []map[string]any
	if spec.HotSpot != nil {
		imageURL = spec.HotSpot.ImageURL
		regions = make([]map[string]any, 0, len(spec.HotSpot.Regions))
		for _, region := range spec.HotSpot.Regions {
			regions = append(regions, map[string]any{
				"id":   uuid.NewString(),
				"text": region,
			})
		}
	}
	ids := make([]string, 0, len(regions))
	for _, region := range regions {
		if id, ok := region["id"].(string); ok {
			ids = append(ids, id)
		}
	}

	entry.InteractionTypeSlug = SlugHotSpot
	entry.InteractionData = map[string]any{
		"image":    map[string]any{"url": imageURL},
		"hotspots": regions,
	}
	entry.ScoringData = ScoringData{Value: ids}
	entry.ScoringAlgorithm = algoHotSpot
}

// buildFormula uploads the expression scaffolding only; generated variable
// banks are produced server-side, so the scoring value starts empty and the
// numeric algorithm applies.
func buildFormula(spec items.Spec, entry *Entry) {
	data := map[string]any{}
	if spec.Formula != nil {
		data["formula"] = spec.Formula.Expression
		data["variables"] = spec.Formula.Variables
		data["decimal_places"] = spec.Formula.Decimals
	}
	entry.InteractionTypeSlug = SlugFormula
	entry.InteractionData = data
	entry.ScoringData = ScoringData{Value: []any{}}
	entry.ScoringAlgorithm = algoNumeric
}

func trimFloat(value float64) string {
	return fmt.Sprintf("%g", value)
}
