package testsupport

import (
	"context"
	"testing"

	"quizsync/internal/config"
	"quizsync/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending job for tests using the provided store.
func NewJob(t testing.TB, store *ledger.Store, quizTitle string) *ledger.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), "/tmp/storyboard.txt", quizTitle, "101", "")
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
