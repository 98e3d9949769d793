// Package workflow drives one sync job from planned items to a terminal
// report.
//
// The Runner owns the job phase sequence: plan (persist item records), quiz
// creation, bounded-concurrency upload, reconciliation rounds, optional
// publish and module attachment, and report assembly. Upload workers only
// talk HTTP; every ledger write happens on the runner goroutine, so each
// record has a single writer at any instant. Cancellation stops new call
// issuance while letting issued calls finish under a detached, time-boxed
// context; created items are never rolled back.
//
// Item-scoped failures never abort sibling items. The only error that fails
// a job outright is quiz creation never succeeding; everything after that
// degrades to partially_failed with a full report of what happened.
package workflow
