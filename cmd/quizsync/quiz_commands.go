package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newQuizCommand(ctx *commandContext) *cobra.Command {
	quizCmd := &cobra.Command{
		Use:   "quiz",
		Short: "Operate on remote quizzes directly",
	}

	quizCmd.AddCommand(newQuizResetCommand(ctx))

	return quizCmd
}

func newQuizResetCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <assignment-id>",
		Short: "Delete every item on a quiz so the next sync rebuilds it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignmentID := strings.TrimSpace(args[0])
			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			quiz, err := client.GetQuiz(cmd.Context(), assignmentID)
			if err != nil {
				return err
			}
			listing, err := client.ListItems(cmd.Context(), assignmentID)
			if err != nil {
				return err
			}
			if len(listing) == 0 {
				fmt.Fprintf(out, "Quiz %q has no items\n", quiz.Title)
				return nil
			}

			hasSubmissions, err := client.HasSubmissions(cmd.Context(), assignmentID)
			if err != nil {
				return err
			}
			if hasSubmissions {
				return fmt.Errorf("assignment %s has student submissions; refusing to delete its items", assignmentID)
			}
			if !force {
				return fmt.Errorf("would delete %d items from %q; pass --force to proceed", len(listing), quiz.Title)
			}

			deleted := 0
			var failures []string
			for _, item := range listing {
				if err := client.DeleteItem(cmd.Context(), assignmentID, item.ID); err != nil {
					failures = append(failures, fmt.Sprintf("item %s: %v", item.ID, err))
					continue
				}
				deleted++
			}
			fmt.Fprintf(out, "Deleted %d of %d items from %q\n", deleted, len(listing), quiz.Title)
			if len(failures) > 0 {
				return fmt.Errorf("reset incomplete: %s", strings.Join(failures, "; "))
			}
			fmt.Fprintln(out, "Run `quizsync sync` to rebuild the quiz.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Actually delete; without it the command only reports")
	return cmd
}
