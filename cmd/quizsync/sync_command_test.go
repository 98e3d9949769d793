package main

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"quizsync/internal/ledger"
)

func TestSyncUploadsStoryboard(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)

	out, _, err := runCLI(t, []string{"sync", path}, env.configPath)
	if err != nil {
		t.Fatalf("sync failed: %v\noutput:\n%s", err, out)
	}
	requireContains(t, out, "Cell Biology Quiz: complete (2/2 items confirmed, rounds: 0)")
	requireContains(t, out, "/courses/101/assignments/9001")

	if env.fake.quizCalls != 1 {
		t.Fatalf("expected 1 quiz creation, got %d", env.fake.quizCalls)
	}
	if env.fake.createCalls != 2 {
		t.Fatalf("expected 2 item creations, got %d", env.fake.createCalls)
	}

	withLedger(t, env, func(store *ledger.Store) {
		jobs, err := store.ListJobs(context.Background())
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(jobs))
		}
		if jobs[0].Status != ledger.JobStatusComplete {
			t.Fatalf("job status = %s", jobs[0].Status)
		}
		if jobs[0].AssignmentID != "9001" {
			t.Fatalf("job assignment = %q", jobs[0].AssignmentID)
		}
	})

	entries, err := os.ReadDir(env.cfg.Paths.ReportDir)
	if err != nil {
		t.Fatalf("read report dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 report file, got %d", len(entries))
	}
}

func TestSyncDryRunTouchesNothing(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)

	out, _, err := runCLI(t, []string{"sync", path, "--dry-run"}, env.configPath)
	if err != nil {
		t.Fatalf("dry-run failed: %v", err)
	}
	requireContains(t, out, "Quiz 1: Cell Biology Quiz (2 items)")
	requireContains(t, out, "q01.i01.multiple_choice")
	requireContains(t, out, "q01.i02.true_false")

	if env.fake.quizCalls != 0 || env.fake.createCalls != 0 {
		t.Fatalf("dry-run touched the API: %d quiz calls, %d item calls",
			env.fake.quizCalls, env.fake.createCalls)
	}
	withLedger(t, env, func(store *ledger.Store) {
		jobs, err := store.ListJobs(context.Background())
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) != 0 {
			t.Fatalf("dry-run recorded %d jobs", len(jobs))
		}
	})
}

func TestSyncContinuesPastBrokenPage(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "broken.txt", brokenFirstPageStoryboard)

	out, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for the broken page")
	}
	requireContains(t, err.Error(), "sync finished with parse errors")
	requireContains(t, out, "error: page 1: unterminated <canvas_page> block")
	requireContains(t, out, "Good Quiz: complete (1/1 items confirmed")

	withLedger(t, env, func(store *ledger.Store) {
		jobs, err := store.ListJobs(context.Background())
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) != 1 || jobs[0].Status != ledger.JobStatusComplete {
			t.Fatalf("expected one complete job for the surviving quiz, got %+v", jobs)
		}
	})
}

func TestSyncJSONReports(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)

	out, _, err := runCLI(t, []string{"sync", path, "--json", "--no-preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	var reports []map[string]any
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode reports: %v\noutput:\n%s", err, out)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0]["status"] != "complete" {
		t.Fatalf("report status = %v", reports[0]["status"])
	}
	if reports[0]["assignment_id"] != "9001" {
		t.Fatalf("report assignment = %v", reports[0]["assignment_id"])
	}
	counts, ok := reports[0]["counts"].(map[string]any)
	if !ok || counts["reconciled"] != float64(2) {
		t.Fatalf("unexpected counts %v", reports[0]["counts"])
	}
}

func TestSyncRejectsEmptyStoryboard(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "empty.txt", `<canvas_page>
<page_title>Reading Only</page_title>
</canvas_page>
`)

	_, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for a storyboard without quizzes")
	}
	requireContains(t, err.Error(), "storyboard contains no quizzes")
}

func TestSyncAssignmentFlagNeedsSingleQuiz(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "review.txt", twoQuizStoryboard)

	_, _, err := runCLI(t, []string{"sync", path, "--assignment-id", "9001", "--no-preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for a multi-quiz storyboard")
	}
	requireContains(t, err.Error(), "--assignment-id requires a single-quiz storyboard, found 2 quizzes")
}

func TestSyncMultiQuizCreatesSeparateQuizzes(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "review.txt", twoQuizStoryboard)

	out, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("sync failed: %v\noutput:\n%s", err, out)
	}
	requireContains(t, out, "Part One: complete (1/1 items confirmed")
	requireContains(t, out, "Part Two: complete (1/1 items confirmed")
	requireContains(t, out, "/assignments/9001")
	requireContains(t, out, "/assignments/9002")

	if env.fake.quizCalls != 2 {
		t.Fatalf("expected 2 quiz creations, got %d", env.fake.quizCalls)
	}
	withLedger(t, env, func(store *ledger.Store) {
		jobs, err := store.ListJobs(context.Background())
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) != 2 {
			t.Fatalf("expected 2 jobs, got %d", len(jobs))
		}
		for _, job := range jobs {
			if job.Status != ledger.JobStatusComplete {
				t.Fatalf("job %d status = %s", job.ID, job.Status)
			}
		}
	})
}

func TestSyncCompleteJobDirectsToRepair(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)

	if _, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	_, _, err := runCLI(t, []string{"sync", path, "--assignment-id", "9001", "--no-preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected resume against a complete job to be refused")
	}
	requireContains(t, err.Error(), "already complete")
	requireContains(t, err.Error(), "quizsync repair 1")
}
