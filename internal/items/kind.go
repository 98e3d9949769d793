package items

import "fmt"

// Kind identifies one of the supported question kinds. The set is closed;
// storyboard tags outside it are rejected by the mapper.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindMultipleAnswer Kind = "multiple_answer"
	KindTrueFalse      Kind = "true_false"
	KindShortAnswer    Kind = "short_answer"
	KindEssay          Kind = "essay"
	KindNumeric        Kind = "numeric"
	KindMatching       Kind = "matching"
	KindOrdering       Kind = "ordering"
	KindCategorization Kind = "categorization"
	KindFillInBlank    Kind = "fill_in_blank"
	KindFileUpload     Kind = "file_upload"
	KindHotSpot        Kind = "hot_spot"
	KindFormula        Kind = "formula"
)

var allKinds = []Kind{
	KindMultipleChoice,
	KindMultipleAnswer,
	KindTrueFalse,
	KindShortAnswer,
	KindEssay,
	KindNumeric,
	KindMatching,
	KindOrdering,
	KindCategorization,
	KindFillInBlank,
	KindFileUpload,
	KindHotSpot,
	KindFormula,
}

var kindSet = func() map[Kind]struct{} {
	set := make(map[Kind]struct{}, len(allKinds))
	for _, kind := range allKinds {
		set[kind] = struct{}{}
	}
	return set
}()

// Kinds returns every supported kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := kindSet[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a storyboard type tag into a Kind.
func ParseKind(tag string) (Kind, error) {
	kind := Kind(tag)
	if !kind.Valid() {
		return "", fmt.Errorf("unknown question kind %q", tag)
	}
	return kind, nil
}
