package items

import (
	"fmt"
	"regexp"
	"strconv"
)

// CorrelationKey ties a local item spec to its remote counterpart. It is
// derived from structural position alone (quiz ordinal, item ordinal, kind),
// never from content, so editing a question's text keeps its key stable.
type CorrelationKey string

var (
	keyPattern    = regexp.MustCompile(`^q(\d{2,})\.i(\d{2,})\.([a-z_]+)$`)
	titleKeyQuery = regexp.MustCompile(`\[sync:(q\d{2,}\.i\d{2,}\.[a-z_]+)\]`)
)

// NewKey builds the correlation key for the itemIdx-th item (1-based) of the
// quizIdx-th quiz block (1-based) of a storyboard.
func NewKey(quizIdx, itemIdx int, kind Kind) CorrelationKey {
	return CorrelationKey(fmt.Sprintf("q%02d.i%02d.%s", quizIdx, itemIdx, kind))
}

// ParseKey validates a correlation key string, including its kind segment.
func ParseKey(s string) (CorrelationKey, bool) {
	m := keyPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if !Kind(m[3]).Valid() {
		return "", false
	}
	return CorrelationKey(s), true
}

func (k CorrelationKey) String() string {
	return string(k)
}

// Components splits the key back into its structural parts.
func (k CorrelationKey) Components() (quizIdx, itemIdx int, kind Kind, ok bool) {
	m := keyPattern.FindStringSubmatch(string(k))
	if m == nil {
		return 0, 0, "", false
	}
	quizIdx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, "", false
	}
	itemIdx, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, "", false
	}
	kind = Kind(m[3])
	if !kind.Valid() {
		return 0, 0, "", false
	}
	return quizIdx, itemIdx, kind, true
}

// TitleSuffix renders the marker appended to remote item titles so listings
// can be correlated back to local specs.
func (k CorrelationKey) TitleSuffix() string {
	return fmt.Sprintf(" [sync:%s]", k)
}

// KeyFromTitle extracts the correlation key embedded in a remote item title.
// The second return is false for titles without a valid marker, which the
// reconciler treats as foreign items.
func KeyFromTitle(title string) (CorrelationKey, bool) {
	m := titleKeyQuery.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return ParseKey(m[1])
}
