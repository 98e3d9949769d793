package canvas

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"quizsync/internal/services"
)

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validatePayload rejects envelopes the items endpoint would bounce with an
// opaque 400: struct tags cover the envelope shape, the slug checks cover
// the interaction_data/scoring_data pairs each slug insists on.
func validatePayload(payload *ItemPayload) error {
	if err := payloadValidator.Struct(payload); err != nil {
		return services.Wrap(services.ErrValidation, "canvas", "validate payload",
			describeFieldErrors(err), err)
	}
	if err := validateSlugData(payload.Item.Entry); err != nil {
		return services.Wrap(services.ErrValidation, "canvas", "validate payload",
			err.Error(), nil)
	}
	return nil
}

func describeFieldErrors(err error) string {
	var fieldErrs validator.ValidationErrors
	ok := false
	if fieldErrs, ok = err.(validator.ValidationErrors); !ok || len(fieldErrs) == 0 {
		return "item payload is malformed"
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "item payload is malformed: " + strings.Join(parts, "; ")
}

func validateSlugData(entry Entry) error {
	switch entry.InteractionTypeSlug {
	case SlugChoice:
		return validateChoiceData(entry, false)
	case SlugMultiAnswer:
		return validateChoiceData(entry, true)
	case SlugRichFillBlank:
		return validateBlankData(entry)
	case SlugNumeric:
		return validateNumericData(entry)
	case SlugMatching:
		return validateMatchingData(entry)
	case SlugOrdering:
		return validateOrderingData(entry)
	case SlugCategorization:
		return validateCategorizationData(entry)
	}
	return nil
}

func validateChoiceData(entry Entry, multi bool) error {
	choices := choiceList(entry.InteractionData["choices"])
	if len(choices) < 2 {
		return fmt.Errorf("%s requires at least 2 choices", entry.InteractionTypeSlug)
	}
	ids := make(map[string]struct{}, len(choices))
	for _, choice := range choices {
		ids[choice.ID] = struct{}{}
	}

	if multi {
		correct, ok := entry.ScoringData.Value.([]string)
		if !ok || len(correct) == 0 {
			return fmt.Errorf("%s requires at least one correct choice", entry.InteractionTypeSlug)
		}
		for _, id := range correct {
			if _, known := ids[id]; !known {
				return fmt.Errorf("%s scoring references unknown choice %q", entry.InteractionTypeSlug, id)
			}
		}
		return nil
	}

	correct, ok := entry.ScoringData.Value.(string)
	if !ok || correct == "" {
		return fmt.Errorf("%s requires exactly one correct choice", entry.InteractionTypeSlug)
	}
	if _, known := ids[correct]; !known {
		return fmt.Errorf("%s scoring references unknown choice %q", entry.InteractionTypeSlug, correct)
	}
	return nil
}

func validateBlankData(entry Entry) error {
	value, ok := entry.ScoringData.Value.(map[string]any)
	if !ok {
		return fmt.Errorf("%s scoring_data must map blanks to answers", entry.InteractionTypeSlug)
	}
	answers, ok := value["blank_to_correct_answer_ids"].(map[string][]string)
	if !ok || len(answers) == 0 {
		return fmt.Errorf("%s requires blank_to_correct_answer_ids", entry.InteractionTypeSlug)
	}
	for blank, ids := range answers {
		if len(ids) == 0 {
			return fmt.Errorf("%s blank %q has no accepted answers", entry.InteractionTypeSlug, blank)
		}
	}
	return nil
}

func validateNumericData(entry Entry) error {
	entries, ok := entry.ScoringData.Value.([]numericEntry)
	if !ok || len(entries) == 0 {
		return fmt.Errorf("%s requires at least one numeric answer rule", entry.InteractionTypeSlug)
	}
	for _, rule := range entries {
		if rule.Value == "" {
			return fmt.Errorf("%s answer rule has no value", entry.InteractionTypeSlug)
		}
	}
	return nil
}

func validateMatchingData(entry Entry) error {
	choices := choiceList(entry.InteractionData["choices"])
	prompts, _ := entry.InteractionData["prompts"].([]matchingPrompt)
	if len(choices) == 0 || len(prompts) == 0 {
		return fmt.Errorf("%s requires choices and prompts", entry.InteractionTypeSlug)
	}
	return nil
}

func validateOrderingData(entry Entry) error {
	choices := choiceList(entry.InteractionData["choices"])
	if len(choices) == 0 {
		return fmt.Errorf("%s requires choices", entry.InteractionTypeSlug)
	}
	order, ok := entry.ScoringData.Value.([]string)
	if !ok || len(order) != len(choices) {
		return fmt.Errorf("%s scoring order must cover every choice", entry.InteractionTypeSlug)
	}
	return nil
}

func validateCategorizationData(entry Entry) error {
	categories := choiceList(entry.InteractionData["categories"])
	choices, _ := entry.InteractionData["choices"].([]categoryChoice)
	if len(categories) == 0 || len(choices) == 0 {
		return fmt.Errorf("%s requires categories and member choices", entry.InteractionTypeSlug)
	}
	return nil
}

func choiceList(value any) []choiceOption {
	options, _ := value.([]choiceOption)
	return options
}
