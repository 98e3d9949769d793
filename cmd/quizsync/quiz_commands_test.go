package main

import (
	"testing"
)

func TestQuizResetRequiresForce(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)
	if _, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	_, _, err := runCLI(t, []string{"quiz", "reset", "9001"}, env.configPath)
	if err == nil {
		t.Fatal("expected reset without --force to refuse")
	}
	requireContains(t, err.Error(), `would delete 2 items from "Cell Biology Quiz"; pass --force to proceed`)

	if count := env.fake.itemCount("9001"); count != 2 {
		t.Fatalf("expected items untouched, got %d", count)
	}
}

func TestQuizResetDeletesItems(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)
	if _, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	out, _, err := runCLI(t, []string{"quiz", "reset", "9001", "--force"}, env.configPath)
	if err != nil {
		t.Fatalf("reset failed: %v\noutput:\n%s", err, out)
	}
	requireContains(t, out, `Deleted 2 of 2 items from "Cell Biology Quiz"`)
	requireContains(t, out, "Run `quizsync sync` to rebuild the quiz.")

	if count := env.fake.itemCount("9001"); count != 0 {
		t.Fatalf("expected an empty quiz, got %d items", count)
	}
	if env.fake.deleteCalls != 2 {
		t.Fatalf("expected 2 delete calls, got %d", env.fake.deleteCalls)
	}
}

func TestQuizResetRefusesWithSubmissions(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)
	if _, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	env.fake.hasSubmissions = true

	_, _, err := runCLI(t, []string{"quiz", "reset", "9001", "--force"}, env.configPath)
	if err == nil {
		t.Fatal("expected reset to refuse a quiz with submissions")
	}
	requireContains(t, err.Error(), "assignment 9001 has student submissions; refusing to delete its items")

	if count := env.fake.itemCount("9001"); count != 2 {
		t.Fatalf("expected items untouched, got %d", count)
	}
}
