package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quizsync/internal/storyboard"
)

func newParseCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:         "parse <storyboard.txt>",
		Short:       "Parse and validate a storyboard without touching Canvas",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, _, parseErr := loadStoryboard(args[0])
			if doc == nil {
				return parseErr
			}
			plans := buildPlans(doc)
			invalid := 0
			valid := 0
			for _, plan := range plans {
				invalid += len(plan.verrs)
				valid += len(plan.specs)
			}

			if jsonOut {
				if err := writeJSON(cmd, parseToJSON(doc, plans)); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				printParseErrors(out, doc)
				printDiagnostics(out, doc)
				if len(doc.Pages) > 0 {
					rows := make([][]string, 0, len(doc.Pages))
					for _, page := range doc.Pages {
						rows = append(rows, []string{
							strconv.Itoa(page.Index),
							page.Title,
							strconv.Itoa(len(page.Quizzes)),
							strconv.Itoa(page.Line),
						})
					}
					fmt.Fprintln(out, renderTable(
						out,
						[]string{"Page", "Title", "Quizzes", "Line"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
					))
				}
				printPlanTables(out, plans)
				printValidationErrors(out, plans)
				fmt.Fprintf(out, "%d pages, %d quizzes, %d valid items, %d invalid questions, %d parse errors\n",
					len(doc.Pages), len(plans), valid, invalid, len(doc.Errors))
			}

			if parseErr != nil {
				return parseErr
			}
			if invalid > 0 {
				return fmt.Errorf("%d questions failed validation", invalid)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON instead of tables")
	return cmd
}

type parseJSON struct {
	Pages       []pageJSON `json:"pages"`
	Quizzes     []planJSON `json:"quizzes"`
	Diagnostics []string   `json:"diagnostics,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
}

type pageJSON struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Line    int    `json:"line"`
	Quizzes int    `json:"quizzes"`
}

func parseToJSON(doc *storyboard.Document, plans []quizPlan) parseJSON {
	payload := parseJSON{Quizzes: plansToJSON(plans)}
	for _, page := range doc.Pages {
		payload.Pages = append(payload.Pages, pageJSON{
			Index:   page.Index,
			Title:   page.Title,
			Line:    page.Line,
			Quizzes: len(page.Quizzes),
		})
	}
	for _, diag := range doc.Diagnostics {
		payload.Diagnostics = append(payload.Diagnostics, diag.String())
	}
	for _, perr := range doc.Errors {
		payload.Errors = append(payload.Errors, perr.Error())
	}
	return payload
}
