package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quizsync/internal/config"
	"quizsync/internal/ledger"
	"quizsync/internal/reconcile"
	"quizsync/internal/workflow"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the sync ledger",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				var statuses []ledger.JobStatus
				for _, raw := range listStatuses {
					status, ok := ledger.ParseJobStatus(raw)
					if !ok {
						return fmt.Errorf("unknown job status %q", raw)
					}
					statuses = append(statuses, status)
				}

				jobs, err := store.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty")
					return nil
				}

				summaries := make([]jobSummary, 0, len(jobs))
				for _, job := range jobs {
					stats, err := store.ItemStats(cmd.Context(), job.ID)
					if err != nil {
						return err
					}
					summaries = append(summaries, summarizeJob(job, stats))
				}

				if jsonOut {
					return writeJSON(cmd, summaries)
				}

				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{
						strconv.FormatInt(s.ID, 10),
						s.QuizTitle,
						s.Status,
						fmt.Sprintf("%d/%d", s.Confirmed, s.Items),
						s.AssignmentID,
						s.UpdatedAt,
					})
				}
				out := cmd.OutOrStdout()
				table := renderTable(
					out,
					[]string{"ID", "Quiz", "Status", "Items", "Assignment", "Updated"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON instead of a table")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its item records and verification rounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				job, err := store.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				records, err := store.ItemRecords(cmd.Context(), job.ID)
				if err != nil {
					return err
				}

				if jsonOut {
					return writeJSON(cmd, jobDetailJSON(job, records))
				}

				out := cmd.OutOrStdout()
				pairs := [][2]string{
					{"Job", strconv.FormatInt(job.ID, 10)},
					{"Quiz", job.QuizTitle},
					{"Status", string(job.Status)},
					{"Course", job.CourseID},
				}
				if job.ModuleID != "" {
					pairs = append(pairs, [2]string{"Module", job.ModuleID})
				}
				if job.AssignmentID != "" {
					pairs = append(pairs, [2]string{"Assignment", job.AssignmentID})
				}
				if job.RoundsUsed > 0 {
					pairs = append(pairs, [2]string{"Rounds", strconv.Itoa(job.RoundsUsed)})
				}
				if job.ErrorMessage != "" {
					pairs = append(pairs, [2]string{"Error", job.ErrorMessage})
				}
				pairs = append(pairs, [2]string{"Source", job.SourcePath})
				pairs = append(pairs, [2]string{"Created", job.CreatedAt.Local().Format(time.RFC3339)})
				if job.FinishedAt != nil {
					pairs = append(pairs, [2]string{"Finished", job.FinishedAt.Local().Format(time.RFC3339)})
				}
				fmt.Fprintln(out, renderKeyValues(out, pairs))

				if len(records) > 0 {
					rows := make([][]string, 0, len(records))
					for _, rec := range records {
						detail := rec.ErrorMessage
						if detail == "" {
							detail = rec.Divergence
						}
						rows = append(rows, []string{
							rec.Key,
							strconv.Itoa(rec.Position),
							rec.Title,
							string(rec.Status),
							strconv.Itoa(rec.Attempts),
							rec.RemoteItemID,
							detail,
						})
					}
					fmt.Fprintln(out, renderTable(
						out,
						[]string{"Key", "Pos", "Title", "Status", "Attempts", "Remote", "Detail"},
						rows,
						[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					))
				}

				if rounds := decodeRounds(job.ReportJSON); len(rounds) > 0 {
					rows := make([][]string, 0, len(rounds))
					for _, round := range rounds {
						rows = append(rows, []string{
							strconv.Itoa(round.Number),
							strconv.Itoa(round.Confirmed),
							strconv.Itoa(round.Missing),
							strconv.Itoa(round.Duplicate),
							strconv.Itoa(round.Divergent),
							strconv.Itoa(round.Reposted),
							strconv.Itoa(round.Deleted),
							strconv.Itoa(round.Updated),
						})
					}
					fmt.Fprintln(out, renderTable(
						out,
						[]string{"Round", "Confirmed", "Missing", "Duplicate", "Divergent", "Reposted", "Deleted", "Updated"},
						rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
					))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON instead of tables")
	return cmd
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs and their item records from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				var (
					removed int64
					err     error
				)
				if clearCompleted {
					removed, err = store.ClearComplete(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed jobs\n", removed)
					return nil
				}
				removed, err = store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	return cmd
}

type jobSummary struct {
	ID           int64  `json:"id"`
	QuizTitle    string `json:"quiz_title"`
	CourseID     string `json:"course_id"`
	ModuleID     string `json:"module_id,omitempty"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Status       string `json:"status"`
	Items        int    `json:"items"`
	Confirmed    int    `json:"confirmed"`
	Failed       int    `json:"failed"`
	Error        string `json:"error,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

func summarizeJob(job *ledger.Job, stats map[ledger.ItemStatus]int) jobSummary {
	total := 0
	for _, count := range stats {
		total += count
	}
	return jobSummary{
		ID:           job.ID,
		QuizTitle:    job.QuizTitle,
		CourseID:     job.CourseID,
		ModuleID:     job.ModuleID,
		AssignmentID: job.AssignmentID,
		Status:       string(job.Status),
		Items:        total,
		Confirmed:    stats[ledger.ItemStatusReconciled],
		Failed:       stats[ledger.ItemStatusFailed],
		Error:        job.ErrorMessage,
		UpdatedAt:    job.UpdatedAt.Local().Format(time.RFC3339),
	}
}

type jobDetail struct {
	Job    jobSummary      `json:"job"`
	Items  []itemDetail    `json:"items"`
	Report json.RawMessage `json:"report,omitempty"`
}

type itemDetail struct {
	Key        string  `json:"key"`
	Kind       string  `json:"kind"`
	Position   int     `json:"position"`
	Title      string  `json:"title"`
	Points     float64 `json:"points"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	RemoteID   string  `json:"remote_item_id,omitempty"`
	Error      string  `json:"error,omitempty"`
	Divergence string  `json:"divergence,omitempty"`
}

func jobDetailJSON(job *ledger.Job, records []*ledger.ItemRecord) jobDetail {
	stats := make(map[ledger.ItemStatus]int, len(records))
	for _, rec := range records {
		stats[rec.Status]++
	}
	detail := jobDetail{Job: summarizeJob(job, stats)}
	for _, rec := range records {
		detail.Items = append(detail.Items, itemDetail{
			Key:        rec.Key,
			Kind:       rec.Kind,
			Position:   rec.Position,
			Title:      rec.Title,
			Points:     rec.Points,
			Status:     string(rec.Status),
			Attempts:   rec.Attempts,
			RemoteID:   rec.RemoteItemID,
			Error:      rec.ErrorMessage,
			Divergence: rec.Divergence,
		})
	}
	if job.ReportJSON != "" {
		detail.Report = json.RawMessage(job.ReportJSON)
	}
	return detail
}

// decodeRounds pulls the verification rounds out of a persisted report.
func decodeRounds(reportJSON string) []reconcile.Round {
	if reportJSON == "" {
		return nil
	}
	var report workflow.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil
	}
	return report.Rounds
}
