package main

import (
	"testing"
)

func TestRepairRewritesDrift(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)
	if _, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	env.fake.drift("9001", "Question 1", 5)

	out, _, err := runCLI(t, []string{"repair", "1", "--divergent"}, env.configPath)
	if err != nil {
		t.Fatalf("repair failed: %v\noutput:\n%s", err, out)
	}
	requireContains(t, out, "Cell Biology Quiz: complete (2/2 items confirmed")

	if env.fake.updateCalls != 1 {
		t.Fatalf("expected 1 rewrite, got %d", env.fake.updateCalls)
	}
	if points := env.fake.itemPoints("9001", "Question 1"); points != 1 {
		t.Fatalf("expected points restored to 1, got %g", points)
	}
}

func TestRepairFlagsDriftWithoutRewriting(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeStoryboard(t, env.baseDir, "cells.txt", twoQuestionStoryboard)
	if _, _, err := runCLI(t, []string{"sync", path, "--no-preflight"}, env.configPath); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	env.fake.drift("9001", "Question 1", 5)

	out, _, err := runCLI(t, []string{"repair", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("repair failed: %v\noutput:\n%s", err, out)
	}
	requireContains(t, out, "points: local 1, remote 5")

	if env.fake.updateCalls != 0 {
		t.Fatalf("expected no rewrites, got %d", env.fake.updateCalls)
	}
	if points := env.fake.itemPoints("9001", "Question 1"); points != 5 {
		t.Fatalf("expected remote points untouched, got %g", points)
	}
}

func TestRepairUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"repair", "42"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for a missing job")
	}
	requireContains(t, err.Error(), "job 42 not found")
}
