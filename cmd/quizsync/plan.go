package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"quizsync/internal/config"
	"quizsync/internal/items"
	"quizsync/internal/storyboard"
)

// quizPlan pairs one parsed quiz block with its mapped item specs and the
// per-question validation failures mapping collected along the way.
type quizPlan struct {
	quiz  storyboard.Quiz
	specs []items.Spec
	verrs []*items.ValidationError
}

// loadStoryboard reads and parses a storyboard file. When some pages fail the
// document still carries every page that parsed; the error joins the
// page-scoped failures so callers can report them and keep going.
func loadStoryboard(path string) (*storyboard.Document, string, error) {
	resolved, err := config.ExpandPath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("read storyboard: %w", err)
	}
	doc, parseErr := storyboard.Parse(string(data))
	return doc, resolved, parseErr
}

func buildPlans(doc *storyboard.Document) []quizPlan {
	quizzes := doc.Quizzes()
	plans := make([]quizPlan, 0, len(quizzes))
	for _, quiz := range quizzes {
		specs, verrs := items.MapQuiz(quiz)
		plans = append(plans, quizPlan{quiz: quiz, specs: specs, verrs: verrs})
	}
	return plans
}

func printParseErrors(out io.Writer, doc *storyboard.Document) {
	for _, perr := range doc.Errors {
		fmt.Fprintf(out, "error: %s\n", perr)
	}
}

func printDiagnostics(out io.Writer, doc *storyboard.Document) {
	for _, diag := range doc.Diagnostics {
		fmt.Fprintf(out, "warning: %s\n", diag)
	}
}

// printValidationErrors lists every rejected question and returns the count.
func printValidationErrors(out io.Writer, plans []quizPlan) int {
	invalid := 0
	for _, plan := range plans {
		for _, verr := range plan.verrs {
			fmt.Fprintf(out, "invalid: quiz %q: %s\n", plan.quiz.Title, verr)
			invalid++
		}
	}
	return invalid
}

func printPlanTables(out io.Writer, plans []quizPlan) {
	for _, plan := range plans {
		fmt.Fprintf(out, "Quiz %d: %s (%d items)\n", plan.quiz.Index, plan.quiz.Title, len(plan.specs))
		if len(plan.specs) == 0 {
			continue
		}
		rows := make([][]string, 0, len(plan.specs))
		for _, spec := range plan.specs {
			rows = append(rows, []string{
				spec.Key.String(),
				spec.Kind.String(),
				strconv.Itoa(spec.Position),
				spec.Title,
				formatPoints(spec.Points),
			})
		}
		fmt.Fprintln(out, renderTable(
			out,
			[]string{"Key", "Kind", "Pos", "Title", "Points"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
		))
	}
}

func formatPoints(points float64) string {
	return strconv.FormatFloat(points, 'f', -1, 64)
}

// planJSON is the machine-readable form of one planned quiz.
type planJSON struct {
	Page       int          `json:"page"`
	Quiz       int          `json:"quiz"`
	Title      string       `json:"title"`
	Items      []items.Spec `json:"items"`
	Validation []string     `json:"validation_errors,omitempty"`
}

func plansToJSON(plans []quizPlan) []planJSON {
	encoded := make([]planJSON, 0, len(plans))
	for _, plan := range plans {
		entry := planJSON{
			Page:  plan.quiz.PageIndex,
			Quiz:  plan.quiz.Index,
			Title: plan.quiz.Title,
			Items: plan.specs,
		}
		for _, verr := range plan.verrs {
			entry.Validation = append(entry.Validation, verr.Error())
		}
		encoded = append(encoded, entry)
	}
	return encoded
}
