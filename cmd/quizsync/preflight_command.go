package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"quizsync/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, the API token, and the New Quizzes feature flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			printPreflightResults(cmd.OutOrStdout(), results)
			if !preflight.Passed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}

func printPreflightResults(out io.Writer, results []preflight.Result) {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status := "ok"
		if !res.Passed {
			status = "failed"
		}
		rows = append(rows, []string{res.Name, status, res.Detail})
	}
	fmt.Fprintln(out, renderTable(
		out,
		[]string{"Check", "Status", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
}
