package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quizsync/internal/config"
	"quizsync/internal/ledger"
	"quizsync/internal/reconcile"
	"quizsync/internal/workflow"
)

func newRepairCommand(ctx *commandContext) *cobra.Command {
	var (
		divergent   bool
		allowDelete bool
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "repair <job-id>",
		Short: "Re-verify a finished job against the live course",
		Long: `Repair reopens a finished job's confirmed items and classifies them against
a fresh listing. Missing items are re-posted. Content drift is flagged by
default; --divergent rewrites the remote copy from the stored spec, and
--allow-delete removes duplicate extras when the quiz has no submissions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			logger := ctx.newLogger()

			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				job, err := store.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}

				runner := workflow.New(cfg, store, client, logger)
				report, runErr := runner.Repair(cmd.Context(), job, reconcile.RepairOptions{
					UpdateDivergent: divergent,
					AllowDelete:     allowDelete,
				})
				if report == nil {
					return runErr
				}

				if jsonOut {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				} else {
					printReports(cmd.OutOrStdout(), client, []*workflow.Report{report})
				}

				if runErr != nil {
					return runErr
				}
				if report.Status != string(ledger.JobStatusComplete) {
					return fmt.Errorf("repair finished %s", report.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&divergent, "divergent", false, "Rewrite items whose content drifted from the storyboard")
	cmd.Flags().BoolVar(&allowDelete, "allow-delete", false, "Delete duplicate extras (submission-safety probe still applies)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON instead of tables")
	return cmd
}
