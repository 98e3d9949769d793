package main

import (
	"strings"
	"testing"
)

func TestPreflightPasses(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight failed: %v\noutput:\n%s", err, out)
	}
	requireContains(t, out, "authenticated as Course Admin")
	requireContains(t, out, "enabled for the course")
	if strings.Contains(out, "failed") {
		t.Fatalf("unexpected failed check:\n%s", out)
	}
}

func TestPreflightReportsDisabledNewQuizzes(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.featuresOff = true

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight to fail")
	}
	requireContains(t, err.Error(), "preflight checks failed")
	requireContains(t, out, "feature flag is off for the course")
	requireContains(t, out, "failed")
}
