package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quizsync/internal/ledger"
	"quizsync/internal/logging"
	"quizsync/internal/notifications"
	"quizsync/internal/reconcile"
	"quizsync/internal/services"
	"quizsync/internal/textutil"
)

// Report is the terminal snapshot of one sync run. Rounds lists every
// verification pass; RoundsUsed counts only the passes that repaired remote
// state, so a clean run reports zero.
type Report struct {
	JobID        int64             `json:"job_id"`
	QuizTitle    string            `json:"quiz_title"`
	SourcePath   string            `json:"source_path,omitempty"`
	CourseID     string            `json:"course_id"`
	AssignmentID string            `json:"assignment_id,omitempty"`
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	Counts       map[string]int    `json:"counts"`
	Items        []ItemReport      `json:"items"`
	Rounds       []reconcile.Round `json:"rounds,omitempty"`
	RoundsUsed   int               `json:"rounds_used"`
	Exhausted    int               `json:"exhausted,omitempty"`
	Conflicts    int               `json:"conflicts,omitempty"`
	Published    bool              `json:"published,omitempty"`
	ModuleItemID string            `json:"module_item_id,omitempty"`
	Elapsed      string            `json:"elapsed"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// ItemReport is one record's final state inside a Report.
type ItemReport struct {
	Key          string  `json:"key"`
	Kind         string  `json:"kind"`
	Position     int     `json:"position"`
	Title        string  `json:"title"`
	Points       float64 `json:"points"`
	Status       string  `json:"status"`
	RemoteItemID string  `json:"remote_item_id,omitempty"`
	Attempts     int     `json:"attempts,omitempty"`
	Error        string  `json:"error,omitempty"`
	Divergence   string  `json:"divergence,omitempty"`
}

// Confirmed reports how many items ended verified on the quiz.
func (r *Report) Confirmed() int {
	return r.Counts[string(ledger.ItemStatusReconciled)]
}

type decoration struct {
	published    bool
	moduleItemID string
}

// finish resolves the terminal job status, assembles the report, persists
// both, and emits the completion notification. The incoming error is carried
// through so callers still see why the run broke down.
func (r *Runner) finish(ctx context.Context, job *ledger.Job, summary *reconcile.Summary, started time.Time, runErr error) (*Report, error) {
	persistCtx := context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, r.logger)

	records, err := r.store.ItemRecords(persistCtx, job.ID)
	if err != nil {
		wrapped := services.Wrap(services.ErrPermanent, component, "finish", "load records", err)
		return nil, errors.Join(runErr, wrapped)
	}
	counts := tally(records)
	target := finalStatus(job, counts, runErr)
	clean := target == ledger.JobStatusComplete && summary.Clean()
	deco := r.decorate(ctx, job, clean)

	if job.Status != target {
		if err := job.Transition(target); err != nil {
			logger.Error("terminal transition rejected", logging.Error(err))
		}
	}
	job.RoundsUsed = summary.RoundsUsed()
	switch {
	case runErr != nil:
		job.ErrorMessage = runErr.Error()
	case job.Status == ledger.JobStatusPartiallyFailed:
		job.ErrorMessage = partialMessage(counts, summary)
	default:
		job.ErrorMessage = ""
	}
	now := time.Now().UTC()
	job.FinishedAt = &now

	elapsed := time.Since(started)
	report := buildReport(job, records, summary, deco, elapsed)
	if encoded, err := json.MarshalIndent(report, "", "  "); err == nil {
		job.ReportJSON = string(encoded)
	}
	if err := r.store.UpdateJob(persistCtx, job); err != nil {
		logger.Error("persist finished job", logging.Error(err))
		if runErr == nil {
			runErr = services.Wrap(services.ErrPermanent, component, "finish", "persist job", err)
		}
	}
	if path, err := r.writeReportFile(report); err != nil {
		logger.Warn("report export failed", logging.Error(err))
	} else if path != "" {
		logger.Info("report written", slog.String("path", path))
	}
	r.notifyFinished(persistCtx, job, report, elapsed)
	logger.Info("sync finished",
		slog.String("status", string(job.Status)),
		slog.Int("confirmed", counts[ledger.ItemStatusReconciled]),
		slog.Int("failed", counts[ledger.ItemStatusFailed]),
		slog.Int("rounds_used", job.RoundsUsed),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
		slog.String(logging.FieldEventType, "sync_finished"),
	)
	return report, runErr
}

// finalStatus maps what the ledger holds to a terminal job status. Complete
// requires every record confirmed; anything short of that keeps the job
// retryable as partially failed. No assignment at all means the run never
// got off the ground.
func finalStatus(job *ledger.Job, counts map[ledger.ItemStatus]int, runErr error) ledger.JobStatus {
	if strings.TrimSpace(job.AssignmentID) == "" {
		return ledger.JobStatusFailed
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if runErr == nil && total > 0 && counts[ledger.ItemStatusReconciled] == total {
		return ledger.JobStatusComplete
	}
	return ledger.JobStatusPartiallyFailed
}

// decorate publishes the assignment and attaches it to the course module
// after a fully clean run. Failures here are reported but never demote the
// job; the quiz content itself is already correct.
func (r *Runner) decorate(ctx context.Context, job *ledger.Job, clean bool) decoration {
	deco := decoration{}
	wantPublish := r.cfg != nil && r.cfg.Canvas.Publish
	wantModule := strings.TrimSpace(job.ModuleID) != ""
	if !wantPublish && !wantModule {
		return deco
	}
	logger := logging.WithContext(ctx, r.logger)
	if !clean {
		logging.WarnWithContext(logger, "publish and module attachment skipped", "decorate_skipped",
			slog.String(logging.FieldErrorHint, "resolve reported items, then repair or re-run the sync"),
			slog.String(logging.FieldImpact, "quiz stays unpublished and outside the module"),
		)
		return deco
	}
	if wantPublish {
		callCtx, cancel := r.callContext(ctx)
		err := r.api.PublishAssignment(callCtx, job.AssignmentID)
		cancel()
		if err != nil {
			logging.WarnWithContext(logger, "assignment publish failed", "publish_failed",
				logging.Error(err),
				slog.String(logging.FieldErrorHint, "publish manually from the Canvas assignment page"),
				slog.String(logging.FieldImpact, "quiz is synced but not visible to students"),
			)
			r.publish(ctx, notifications.EventError, notifications.Payload{
				"context": fmt.Sprintf("publishing %s", job.QuizTitle),
				"error":   err,
			})
		} else {
			deco.published = true
			logger.Info("assignment published",
				slog.String("assignment_id", job.AssignmentID),
				slog.String(logging.FieldEventType, "published"),
			)
		}
	}
	if wantModule {
		callCtx, cancel := r.callContext(ctx)
		itemID, err := r.api.AddToModule(callCtx, job.AssignmentID, job.QuizTitle)
		cancel()
		if err != nil {
			logging.WarnWithContext(logger, "module attachment failed", "module_attach_failed",
				logging.Error(err),
				slog.String(logging.FieldErrorHint, "add the assignment to the module from Canvas"),
				slog.String(logging.FieldImpact, "quiz is synced but missing from the module listing"),
			)
			r.publish(ctx, notifications.EventError, notifications.Payload{
				"context": fmt.Sprintf("attaching %s to module", job.QuizTitle),
				"error":   err,
			})
		} else {
			deco.moduleItemID = itemID
			logger.Info("assignment attached to module",
				slog.String("module_item_id", itemID),
				slog.String(logging.FieldEventType, "module_attached"),
			)
		}
	}
	return deco
}

func buildReport(job *ledger.Job, records []*ledger.ItemRecord, summary *reconcile.Summary, deco decoration, elapsed time.Duration) *Report {
	counts := make(map[string]int, len(records))
	itemReports := make([]ItemReport, 0, len(records))
	for _, rec := range records {
		counts[string(rec.Status)]++
		itemReports = append(itemReports, ItemReport{
			Key:          rec.Key,
			Kind:         rec.Kind,
			Position:     rec.Position,
			Title:        rec.Title,
			Points:       rec.Points,
			Status:       string(rec.Status),
			RemoteItemID: rec.RemoteItemID,
			Attempts:     rec.Attempts,
			Error:        rec.ErrorMessage,
			Divergence:   rec.Divergence,
		})
	}
	report := &Report{
		JobID:        job.ID,
		QuizTitle:    job.QuizTitle,
		SourcePath:   job.SourcePath,
		CourseID:     job.CourseID,
		AssignmentID: job.AssignmentID,
		Status:       string(job.Status),
		Error:        job.ErrorMessage,
		Counts:       counts,
		Items:        itemReports,
		RoundsUsed:   summary.RoundsUsed(),
		Published:    deco.published,
		ModuleItemID: deco.moduleItemID,
		Elapsed:      elapsed.Round(time.Millisecond).String(),
		FinishedAt:   time.Now().UTC(),
	}
	if job.FinishedAt != nil {
		report.FinishedAt = *job.FinishedAt
	}
	if summary != nil {
		report.Rounds = summary.Rounds
		report.Exhausted = summary.Exhausted
		report.Conflicts = summary.Conflicts
	}
	return report
}

func tally(records []*ledger.ItemRecord) map[ledger.ItemStatus]int {
	counts := make(map[ledger.ItemStatus]int, len(records))
	for _, rec := range records {
		counts[rec.Status]++
	}
	return counts
}

func partialMessage(counts map[ledger.ItemStatus]int, summary *reconcile.Summary) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	msg := fmt.Sprintf("%d of %d items confirmed", counts[ledger.ItemStatusReconciled], total)
	if summary != nil && summary.Conflicts > 0 {
		msg += fmt.Sprintf("; %d in duplicate conflict", summary.Conflicts)
	}
	return msg
}

// writeReportFile exports the report next to the operator's other reports.
// Export trouble never affects the run outcome.
func (r *Runner) writeReportFile(report *Report) (string, error) {
	dir := ""
	if r.cfg != nil {
		dir = strings.TrimSpace(r.cfg.Paths.ReportDir)
	}
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-job%d.json", textutil.SanitizeFileName(report.QuizTitle), report.JobID)
	path := filepath.Join(dir, name)
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Runner) notifyFinished(ctx context.Context, job *ledger.Job, report *Report, elapsed time.Duration) {
	if job.Status == ledger.JobStatusFailed {
		r.publish(ctx, notifications.EventSyncFailed, notifications.Payload{
			"quizTitle": job.QuizTitle,
			"error":     job.ErrorMessage,
		})
		return
	}
	r.publish(ctx, notifications.EventSyncCompleted, notifications.Payload{
		"quizTitle": job.QuizTitle,
		"confirmed": report.Confirmed(),
		"failed":    report.Counts[string(ledger.ItemStatusFailed)],
		"conflicts": report.Conflicts,
		"duration":  elapsed,
	})
}
