package ledger_test

import (
	"context"
	"fmt"
	"testing"

	"quizsync/internal/ledger"
	"quizsync/internal/testsupport"
)

func newRecords(jobID int64, count int) []*ledger.ItemRecord {
	records := make([]*ledger.ItemRecord, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, &ledger.ItemRecord{
			JobID:    jobID,
			Key:      fmt.Sprintf("q01.i%02d.multiple_choice", i+1),
			Kind:     "multiple_choice",
			Position: i + 1,
			Title:    fmt.Sprintf("Question %d", i+1),
			Points:   1,
			SpecJSON: "{}",
		})
	}
	return records
}

func TestOpenInitializesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, "/tmp/board.txt", "Quiz from Page 1", "101", "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != ledger.JobStatusPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil || fetched.QuizTitle != "Quiz from Page 1" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestOpenRejectsSecondProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MustOpenLedger(t, cfg)

	if _, err := ledger.Open(cfg); err == nil {
		t.Fatal("expected second open on the same ledger to fail")
	}
}

func TestNewJobRequiresTitleAndCourse(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	if _, err := store.NewJob(ctx, "/tmp/board.txt", "  ", "101", ""); err == nil {
		t.Fatal("expected error when quiz title missing")
	}
	if _, err := store.NewJob(ctx, "/tmp/board.txt", "Quiz", "", ""); err == nil {
		t.Fatal("expected error when course id missing")
	}
}

func TestFindJobByAssignment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")
	if err := job.SetAssignment("5501"); err != nil {
		t.Fatalf("SetAssignment: %v", err)
	}
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	found, err := store.FindJobByAssignment(ctx, "5501")
	if err != nil {
		t.Fatalf("FindJobByAssignment: %v", err)
	}
	if found == nil || found.ID != job.ID {
		t.Fatalf("expected job %d, got %#v", job.ID, found)
	}

	missing, err := store.FindJobByAssignment(ctx, "9999")
	if err != nil {
		t.Fatalf("FindJobByAssignment: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown assignment, got %#v", missing)
	}
}

func TestInsertAndListItemRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")

	records := newRecords(job.ID, 3)
	if err := store.InsertItemRecords(ctx, records); err != nil {
		t.Fatalf("InsertItemRecords: %v", err)
	}
	for _, rec := range records {
		if rec.ID == 0 {
			t.Fatalf("expected record ID assigned for %s", rec.Key)
		}
		if rec.Status != ledger.ItemStatusPending {
			t.Fatalf("expected pending default, got %s", rec.Status)
		}
	}

	listed, err := store.ItemRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 records, got %d", len(listed))
	}
	for i, rec := range listed {
		if rec.Position != i+1 {
			t.Fatalf("expected storyboard order, got position %d at index %d", rec.Position, i)
		}
	}
}

func TestInsertItemRecordsRejectsDuplicateKeys(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")

	records := newRecords(job.ID, 2)
	records[1].Key = records[0].Key
	if err := store.InsertItemRecords(ctx, records); err == nil {
		t.Fatal("expected duplicate correlation key to be rejected")
	}

	// The failed transaction must not leave partial rows behind.
	listed, err := store.ItemRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no records after rollback, got %d", len(listed))
	}
}

func TestItemRecordsByStatusAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")
	records := newRecords(job.ID, 4)
	if err := store.InsertItemRecords(ctx, records); err != nil {
		t.Fatalf("InsertItemRecords: %v", err)
	}

	records[0].Status = ledger.ItemStatusReconciled
	records[1].Status = ledger.ItemStatusFailed
	records[1].ErrorMessage = "boom"
	for _, rec := range records[:2] {
		if err := store.UpdateItemRecord(ctx, rec); err != nil {
			t.Fatalf("UpdateItemRecord: %v", err)
		}
	}

	failed, err := store.ItemRecordsByStatus(ctx, job.ID, ledger.ItemStatusFailed)
	if err != nil {
		t.Fatalf("ItemRecordsByStatus: %v", err)
	}
	if len(failed) != 1 || failed[0].Key != records[1].Key {
		t.Fatalf("unexpected failed records: %#v", failed)
	}

	stats, err := store.ItemStats(ctx, job.ID)
	if err != nil {
		t.Fatalf("ItemStats: %v", err)
	}
	if stats[ledger.ItemStatusPending] != 2 || stats[ledger.ItemStatusReconciled] != 1 || stats[ledger.ItemStatusFailed] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestTransitionItemGuardsStoredStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")
	records := newRecords(job.ID, 1)
	if err := store.InsertItemRecords(ctx, records); err != nil {
		t.Fatalf("InsertItemRecords: %v", err)
	}
	rec := records[0]

	ok, err := store.TransitionItem(ctx, rec.ID, ledger.ItemStatusPending, ledger.ItemStatusUploading)
	if err != nil {
		t.Fatalf("TransitionItem: %v", err)
	}
	if !ok {
		t.Fatal("expected pending -> uploading to land")
	}

	// Stale caller: stored status is uploading now, so the same guard misses.
	ok, err = store.TransitionItem(ctx, rec.ID, ledger.ItemStatusPending, ledger.ItemStatusUploading)
	if err != nil {
		t.Fatalf("TransitionItem: %v", err)
	}
	if ok {
		t.Fatal("expected stale transition to miss")
	}

	if _, err := store.TransitionItem(ctx, rec.ID, ledger.ItemStatusUploading, ledger.ItemStatusReconciled); err == nil {
		t.Fatal("expected illegal edge to be rejected")
	}
}

func TestTransitionItemsOpensRound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")
	records := newRecords(job.ID, 3)
	if err := store.InsertItemRecords(ctx, records); err != nil {
		t.Fatalf("InsertItemRecords: %v", err)
	}
	for _, rec := range records[:2] {
		rec.Status = ledger.ItemStatusCreated
		if err := store.UpdateItemRecord(ctx, rec); err != nil {
			t.Fatalf("UpdateItemRecord: %v", err)
		}
	}

	count, err := store.TransitionItems(ctx, job.ID, ledger.ItemStatusReconciling, ledger.ItemStatusCreated)
	if err != nil {
		t.Fatalf("TransitionItems: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records to enter reconciling, got %d", count)
	}

	pending, err := store.ItemRecordsByStatus(ctx, job.ID, ledger.ItemStatusPending)
	if err != nil {
		t.Fatalf("ItemRecordsByStatus: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected pending record untouched, got %d", len(pending))
	}
}

func TestRemoveJobCascadesRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "Quiz A")
	if err := store.InsertItemRecords(ctx, newRecords(job.ID, 2)); err != nil {
		t.Fatalf("InsertItemRecords: %v", err)
	}

	removed, err := store.RemoveJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if !removed {
		t.Fatal("expected job removed")
	}

	records, err := store.ItemRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected cascade delete, found %d records", len(records))
	}
}

func TestClearComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	done := testsupport.NewJob(t, store, "Done Quiz")
	done.Status = ledger.JobStatusComplete
	if err := store.UpdateJob(ctx, done); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	testsupport.NewJob(t, store, "Active Quiz")

	cleared, err := store.ClearComplete(ctx)
	if err != nil {
		t.Fatalf("ClearComplete: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 job cleared, got %d", cleared)
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].QuizTitle != "Active Quiz" {
		t.Fatalf("unexpected remaining jobs: %#v", jobs)
	}
}
