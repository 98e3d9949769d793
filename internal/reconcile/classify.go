package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"quizsync/internal/canvas"
	"quizsync/internal/items"
	"quizsync/internal/textutil"
)

// groupByKey indexes a remote listing by correlation key, dropping items that
// carry no key (hand-written questions are never ours to manage).
func groupByKey(listing []canvas.RemoteItem) map[items.CorrelationKey][]canvas.RemoteItem {
	grouped := make(map[items.CorrelationKey][]canvas.RemoteItem, len(listing))
	for _, item := range listing {
		if item.Key == "" {
			continue
		}
		grouped[item.Key] = append(grouped[item.Key], item)
	}
	return grouped
}

// pickSurvivor chooses which duplicate copy to keep: the one the ledger
// already points at when it is still present, otherwise the lowest remote id
// so repeated runs settle on the same copy.
func pickSurvivor(matches []canvas.RemoteItem, knownID string) (canvas.RemoteItem, []canvas.RemoteItem) {
	sorted := make([]canvas.RemoteItem, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	keep := 0
	if knownID != "" {
		for i, match := range sorted {
			if match.ID == knownID {
				keep = i
				break
			}
		}
	}
	survivor := sorted[keep]
	extras := make([]canvas.RemoteItem, 0, len(sorted)-1)
	extras = append(extras, sorted[:keep]...)
	extras = append(extras, sorted[keep+1:]...)
	return survivor, extras
}

// divergenceNote compares the canonical spec against the remote copy and
// describes every field that drifted. An empty note means the copies agree.
// Rich text is compared in normalized form because the API rewrites markup
// on the way through.
func divergenceNote(spec items.Spec, remote canvas.RemoteItem) string {
	var notes []string

	if remote.Slug != "" {
		if expected := canvas.SlugForKind(spec.Kind); remote.Slug != expected {
			notes = append(notes, fmt.Sprintf("interaction slug: local %s, remote %s", expected, remote.Slug))
		}
	}
	if remote.Points > 0 && remote.Points != spec.Points {
		notes = append(notes, fmt.Sprintf("points: local %g, remote %g", spec.Points, remote.Points))
	}
	if remote.Position > 0 && spec.Position > 0 && remote.Position != spec.Position {
		notes = append(notes, fmt.Sprintf("position: local %d, remote %d", spec.Position, remote.Position))
	}

	localTitle := textutil.NormalizeForCompare(spec.Title + spec.Key.TitleSuffix())
	if remote.Title != "" && textutil.NormalizeForCompare(remote.Title) != localTitle {
		notes = append(notes, "title text")
	}
	if remote.Body != "" && spec.PromptHTML != "" {
		if textutil.NormalizeForCompare(remote.Body) != textutil.NormalizeForCompare(spec.PromptHTML) {
			notes = append(notes, "prompt content")
		}
	}

	return strings.Join(notes, "; ")
}

func remoteIDs(matches []canvas.RemoteItem) []string {
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.ID)
	}
	sort.Strings(ids)
	return ids
}
