// Package reconcile verifies uploaded quiz items against the remote listing
// and repairs what it safely can, within a bounded number of rounds.
//
// Each round opens the job's unverified records, fetches the authoritative
// item listing once, and classifies every expected correlation key: confirmed
// (exactly one match), missing (re-posted while round budget remains),
// duplicate (extra copies deleted only when the assignment has no learner
// submissions, otherwise flagged for manual action), or divergent (content
// drifted; flagged, never rewritten automatically). Records that are still
// missing when the budget runs out are marked failed with an exhaustion
// error; the job continues and reports partial success rather than blocking.
//
// The operator-invoked repair path reopens settled records and may addition-
// ally push corrected payloads for divergent items and delete duplicate
// extras, each behind its own explicit flag.
package reconcile
