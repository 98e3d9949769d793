package preflight

import (
	"context"
	"strings"

	"quizsync/internal/canvas"
	"quizsync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Optional concerns are only checked when configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	if strings.TrimSpace(cfg.Paths.ReportDir) != "" {
		results = append(results, CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir))
	}

	// Single attempt per API check so a dead instance fails fast instead of
	// walking the whole retry ladder.
	client, err := canvas.NewFromConfig(cfg, canvas.WithRetryMaxAttempts(1))
	if err != nil {
		results = append(results, Result{Name: "Canvas API", Detail: err.Error()})
	} else {
		results = append(results, CheckToken(ctx, client))
		results = append(results, CheckNewQuizzes(ctx, client))
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfyTopic(cfg.Notifications.NtfyTopic))
	}

	return results
}

// Passed reports whether every result in the set passed.
func Passed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
