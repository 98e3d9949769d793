package items

import (
	"encoding/json"
	"fmt"
)

// Spec is the canonical, validated form of one question. Exactly one of the
// per-kind payload fields is populated, matching Kind. Specs are immutable
// after mapping; the ledger persists them as JSON.
type Spec struct {
	Key        CorrelationKey `json:"key"`
	Kind       Kind           `json:"kind"`
	Position   int            `json:"position"`
	Line       int            `json:"line,omitempty"`
	Title      string         `json:"title"`
	PromptHTML string         `json:"prompt_html"`
	Points     float64        `json:"points"`
	Shuffle    bool           `json:"shuffle"`
	Feedback   Feedback       `json:"feedback,omitempty"`

	Choices      []Choice        `json:"choices,omitempty"`
	TrueAnswer   *bool           `json:"true_answer,omitempty"`
	Numeric      *NumericRule    `json:"numeric,omitempty"`
	ShortAnswers []string        `json:"short_answers,omitempty"`
	Blanks       []Blank         `json:"blanks,omitempty"`
	Pairs        []Pair          `json:"pairs,omitempty"`
	Order        []string        `json:"order,omitempty"`
	Categories   []Category      `json:"categories,omitempty"`
	HotSpot      *HotSpotRegions `json:"hot_spot,omitempty"`
	Formula      *FormulaRule    `json:"formula,omitempty"`
}

// Choice is one answer option of a choice-style question.
type Choice struct {
	Text         string `json:"text"`
	Correct      bool   `json:"correct"`
	FeedbackHTML string `json:"feedback_html,omitempty"`
}

// Feedback is block-level feedback shown after answering.
type Feedback struct {
	Correct   string `json:"correct,omitempty"`
	Incorrect string `json:"incorrect,omitempty"`
	Neutral   string `json:"neutral,omitempty"`
}

// NumericRule scores a numeric response, either exactly or within an
// absolute margin.
type NumericRule struct {
	Exact     float64 `json:"exact"`
	Tolerance float64 `json:"tolerance,omitempty"`
}

// Blank is one fill-in-blank slot with its accepted answers.
type Blank struct {
	ID       string   `json:"id"`
	Accepted []string `json:"accepted"`
}

// Pair is one matching prompt and its correct match.
type Pair struct {
	Prompt string `json:"prompt"`
	Match  string `json:"match"`
}

// Category is one categorization bucket and its member items.
type Category struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

// HotSpotRegions holds the image and the named regions that count as
// correct.
type HotSpotRegions struct {
	ImageURL string   `json:"image_url"`
	Regions  []string `json:"regions"`
}

// FormulaRule holds a generated-variable formula question.
type FormulaRule struct {
	Expression string   `json:"expression"`
	Variables  []string `json:"variables,omitempty"`
	Decimals   int      `json:"decimals"`
}

// Encode serializes the spec for ledger storage.
func (s Spec) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode item spec %s: %w", s.Key, err)
	}
	return string(data), nil
}

// DecodeSpec restores a spec persisted by Encode.
func DecodeSpec(data string) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return Spec{}, fmt.Errorf("decode item spec: %w", err)
	}
	return spec, nil
}
