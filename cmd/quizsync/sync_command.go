package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"quizsync/internal/canvas"
	"quizsync/internal/config"
	"quizsync/internal/ledger"
	"quizsync/internal/preflight"
	"quizsync/internal/workflow"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var (
		courseID     string
		moduleID     string
		assignmentID string
		publish      bool
		dryRun       bool
		jsonOut      bool
		noPreflight  bool
	)

	cmd := &cobra.Command{
		Use:   "sync <storyboard.txt>",
		Short: "Upload storyboard quizzes and verify them on the course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if v := strings.TrimSpace(courseID); v != "" {
				cfg.Canvas.CourseID = v
			}
			if v := strings.TrimSpace(moduleID); v != "" {
				cfg.Canvas.ModuleID = v
			}
			if publish {
				cfg.Canvas.Publish = true
			}

			doc, sourcePath, parseErr := loadStoryboard(args[0])
			if doc == nil {
				return parseErr
			}

			out := cmd.OutOrStdout()
			printParseErrors(out, doc)
			printDiagnostics(out, doc)
			plans := buildPlans(doc)
			invalid := printValidationErrors(out, plans)

			if len(plans) == 0 {
				return errors.Join(parseErr, errors.New("storyboard contains no quizzes"))
			}
			if strings.TrimSpace(assignmentID) != "" && len(plans) != 1 {
				return fmt.Errorf("--assignment-id requires a single-quiz storyboard, found %d quizzes", len(plans))
			}

			if dryRun {
				if jsonOut {
					if err := writeJSON(cmd, plansToJSON(plans)); err != nil {
						return err
					}
				} else {
					printPlanTables(out, plans)
				}
				return parseErr
			}

			if !noPreflight {
				results := preflight.RunAll(cmd.Context(), cfg)
				if !preflight.Passed(results) {
					printPreflightResults(out, results)
					return errors.New("preflight checks failed; fix the findings above or pass --no-preflight")
				}
			}

			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			logger := ctx.newLogger()

			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				runner := workflow.New(cfg, store, client, logger)

				var (
					reports  []*workflow.Report
					problems []string
				)
				for _, plan := range plans {
					if len(plan.specs) == 0 {
						problems = append(problems, fmt.Sprintf("quiz %q has no valid items", plan.quiz.Title))
						continue
					}
					job, err := resolveSyncJob(cmd.Context(), store, cfg, sourcePath, plan, assignmentID)
					if err != nil {
						return err
					}
					report, runErr := runner.Run(cmd.Context(), job, workflow.Plan{
						Specs:       plan.specs,
						Description: plan.quiz.Description,
					})
					if report != nil {
						reports = append(reports, report)
					}
					switch {
					case runErr != nil:
						problems = append(problems, fmt.Sprintf("quiz %q: %v", plan.quiz.Title, runErr))
					case report != nil && report.Status != string(ledger.JobStatusComplete):
						problems = append(problems, fmt.Sprintf("quiz %q finished %s", plan.quiz.Title, report.Status))
					}
				}

				if jsonOut {
					if err := writeJSON(cmd, reports); err != nil {
						return err
					}
				} else {
					printReports(out, client, reports)
				}

				if invalid > 0 {
					problems = append(problems, fmt.Sprintf("%d questions failed validation", invalid))
				}
				if parseErr != nil || len(problems) > 0 {
					summary := fmt.Errorf("sync finished with problems: %s", strings.Join(problems, "; "))
					if len(problems) == 0 {
						summary = errors.New("sync finished with parse errors")
					}
					return errors.Join(parseErr, summary)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&courseID, "course", "", "Target course id (overrides config)")
	cmd.Flags().StringVar(&moduleID, "module", "", "Module to attach the quiz to (overrides config)")
	cmd.Flags().StringVar(&assignmentID, "assignment-id", "", "Resume against an existing quiz's assignment id")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish the assignment after a clean sync")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and map only; print the plan without touching Canvas")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON instead of tables")
	cmd.Flags().BoolVar(&noPreflight, "no-preflight", false, "Skip environment checks before syncing")
	return cmd
}

// resolveSyncJob finds or creates the ledger row a quiz plan will run under.
// With --assignment-id the most recent job bound to that assignment resumes;
// finished-clean and mid-verification jobs are directed to repair instead.
func resolveSyncJob(ctx context.Context, store *ledger.Store, cfg *config.Config, sourcePath string, plan quizPlan, assignmentID string) (*ledger.Job, error) {
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" {
		return store.NewJob(ctx, sourcePath, plan.quiz.Title, cfg.Canvas.CourseID, cfg.Canvas.ModuleID)
	}

	job, err := store.FindJobByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		job, err = store.NewJob(ctx, sourcePath, plan.quiz.Title, cfg.Canvas.CourseID, cfg.Canvas.ModuleID)
		if err != nil {
			return nil, err
		}
		if err := job.SetAssignment(assignmentID); err != nil {
			return nil, err
		}
		if err := store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}

	switch job.Status {
	case ledger.JobStatusComplete:
		return nil, fmt.Errorf("job %d for assignment %s is already complete; use `quizsync repair %d` to re-verify", job.ID, assignmentID, job.ID)
	case ledger.JobStatusVerifying:
		return nil, fmt.Errorf("job %d was interrupted mid-verification; use `quizsync repair %d`", job.ID, job.ID)
	}
	return job, nil
}

// printReports summarizes finished jobs for the terminal: one status line per
// quiz, the assignment link, and a table of anything that needs attention.
func printReports(out io.Writer, client *canvas.Client, reports []*workflow.Report) {
	for _, report := range reports {
		total := 0
		for _, count := range report.Counts {
			total += count
		}
		fmt.Fprintf(out, "%s: %s (%d/%d items confirmed, rounds: %d)\n",
			report.QuizTitle, report.Status, report.Confirmed(), total, report.RoundsUsed)
		if report.AssignmentID != "" {
			fmt.Fprintf(out, "  %s\n", client.AssignmentURL(report.AssignmentID))
		}
		if report.Published {
			fmt.Fprintln(out, "  assignment published")
		}
		if report.ModuleItemID != "" {
			fmt.Fprintf(out, "  added to module (item %s)\n", report.ModuleItemID)
		}
		if report.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", report.Error)
		}

		rows := make([][]string, 0)
		for _, item := range report.Items {
			if item.Status == string(ledger.ItemStatusReconciled) && item.Divergence == "" {
				continue
			}
			detail := item.Error
			if detail == "" {
				detail = item.Divergence
			}
			rows = append(rows, []string{item.Key, item.Title, item.Status, detail})
		}
		if len(rows) > 0 {
			fmt.Fprintln(out, renderTable(
				out,
				[]string{"Key", "Title", "Status", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
		}
	}
}
