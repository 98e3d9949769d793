package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quizsync/internal/canvas"
	"quizsync/internal/config"
	"quizsync/internal/items"
	"quizsync/internal/ledger"
	"quizsync/internal/logging"
	"quizsync/internal/notifications"
	"quizsync/internal/reconcile"
	"quizsync/internal/services"
)

const component = "workflow"

// API is the remote surface the runner drives, implemented by *canvas.Client.
type API interface {
	reconcile.API
	CreateQuiz(ctx context.Context, title, instructionsHTML string) (*canvas.Quiz, error)
	PublishAssignment(ctx context.Context, assignmentID string) error
	AddToModule(ctx context.Context, assignmentID, title string) (string, error)
}

// Plan carries what the runner needs beyond the persisted job row.
type Plan struct {
	// Specs are the mapped storyboard items in position order. A job that
	// already has records in the ledger keeps its stored specs instead.
	Specs []items.Spec
	// Description becomes the quiz instructions on shell creation. Empty
	// falls back to the configured default.
	Description string
}

// Runner executes sync jobs one at a time.
type Runner struct {
	cfg      *config.Config
	store    *ledger.Store
	api      API
	engine   *reconcile.Engine
	notifier notifications.Service
	logger   *slog.Logger
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithNotifier overrides the notification service (used in tests).
func WithNotifier(svc notifications.Service) Option {
	return func(r *Runner) {
		if svc != nil {
			r.notifier = svc
		}
	}
}

// WithEngine overrides the reconciliation engine.
func WithEngine(engine *reconcile.Engine) Option {
	return func(r *Runner) {
		if engine != nil {
			r.engine = engine
		}
	}
}

// New constructs a runner wired to the given ledger and Canvas surface.
func New(cfg *config.Config, store *ledger.Store, api API, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	runner := &Runner{
		cfg:      cfg,
		store:    store,
		api:      api,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, component),
	}
	for _, opt := range opts {
		opt(runner)
	}
	if runner.engine == nil {
		runner.engine = reconcile.New(api, store, logger, cfg)
	}
	return runner
}

// Run drives the job to a terminal status and returns its report. Item
// failures are reported, not returned; the error is non-nil only when the run
// itself broke down (quiz creation failed, ledger unavailable, context ended).
func (r *Runner) Run(ctx context.Context, job *ledger.Job, plan Plan) (*Report, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, component, "run", "job is nil", nil)
	}
	started := time.Now()
	ctx = services.WithJobID(ctx, job.ID)
	if timeout := r.jobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, r.logger)

	if err := r.ensureRecords(ctx, job, plan.Specs); err != nil {
		return nil, err
	}
	if err := r.openJob(ctx, job); err != nil {
		return nil, err
	}

	resuming := strings.TrimSpace(job.AssignmentID) != ""
	logger.Info("sync started",
		slog.String("quiz_title", job.QuizTitle),
		slog.Bool("resume", resuming),
		slog.String(logging.FieldEventType, "sync_start"),
	)
	r.publish(ctx, notifications.EventSyncStarted, notifications.Payload{"quizTitle": job.QuizTitle})

	if err := r.ensureQuiz(ctx, job, plan.Description); err != nil {
		return r.finish(ctx, job, nil, started, err)
	}
	if resuming {
		r.recognizeExisting(ctx, job)
	}
	if err := r.uploadPending(ctx, job); err != nil {
		return r.finish(ctx, job, nil, started, err)
	}

	if err := job.Transition(ledger.JobStatusVerifying); err != nil {
		return r.finish(ctx, job, nil, started,
			services.Wrap(services.ErrPermanent, component, "run", "job transition", err))
	}
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return r.finish(ctx, job, nil, started,
			services.Wrap(services.ErrPermanent, component, "run", "persist job", err))
	}

	summary, verifyErr := r.engine.Run(ctx, job)
	return r.finish(ctx, job, summary, started, verifyErr)
}

// Repair re-verifies a finished job against the live listing. Only jobs that
// reached complete or partially_failed reopen; a failed job never created its
// quiz shell, so there is nothing on the course to verify and the storyboard
// must be synced again instead.
func (r *Runner) Repair(ctx context.Context, job *ledger.Job, opts reconcile.RepairOptions) (*Report, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, component, "repair", "job is nil", nil)
	}
	started := time.Now()
	ctx = services.WithJobID(ctx, job.ID)
	if timeout := r.jobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if strings.TrimSpace(job.AssignmentID) == "" {
		return nil, services.Wrap(services.ErrValidation, component, "repair",
			"job has no quiz on the course; run sync instead", nil)
	}
	// A job stranded in verifying by a crash re-enters here without a
	// transition; anything else must come from a finished state.
	if job.Status != ledger.JobStatusVerifying {
		if err := job.Transition(ledger.JobStatusVerifying); err != nil {
			return nil, services.Wrap(services.ErrValidation, component, "repair",
				fmt.Sprintf("job is %s and cannot be repaired", job.Status), err)
		}
	}
	job.ErrorMessage = ""
	job.FinishedAt = nil
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrPermanent, component, "repair", "persist job", err)
	}

	logging.WithContext(ctx, r.logger).Info("repair started",
		slog.String("quiz_title", job.QuizTitle),
		slog.String("assignment_id", job.AssignmentID),
		slog.Bool("update_divergent", opts.UpdateDivergent),
		slog.Bool("allow_delete", opts.AllowDelete),
		slog.String(logging.FieldEventType, "repair_start"),
	)

	summary, verifyErr := r.engine.Repair(ctx, job, opts)
	return r.finish(ctx, job, summary, started, verifyErr)
}

// ensureRecords persists the planned item set on first run.
func (r *Runner) ensureRecords(ctx context.Context, job *ledger.Job, specs []items.Spec) error {
	existing, err := r.store.ItemRecords(ctx, job.ID)
	if err != nil {
		return services.Wrap(services.ErrPermanent, component, "plan", "load records", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if len(specs) == 0 {
		return services.Wrap(services.ErrValidation, component, "plan", "no valid items to sync", nil)
	}
	records := make([]*ledger.ItemRecord, 0, len(specs))
	for _, spec := range specs {
		encoded, err := spec.Encode()
		if err != nil {
			return services.Wrap(services.ErrValidation, component, "plan",
				fmt.Sprintf("encode spec %s", spec.Key), err)
		}
		records = append(records, &ledger.ItemRecord{
			JobID:    job.ID,
			Key:      spec.Key.String(),
			Kind:     spec.Kind.String(),
			Position: spec.Position,
			Title:    spec.Title,
			Points:   spec.Points,
			SpecJSON: encoded,
			Status:   ledger.ItemStatusPending,
		})
	}
	if err := r.store.InsertItemRecords(ctx, records); err != nil {
		return services.Wrap(services.ErrPermanent, component, "plan", "insert records", err)
	}
	return nil
}

// openJob moves the job into uploading. Jobs already uploading resume in
// place after an interrupted run.
func (r *Runner) openJob(ctx context.Context, job *ledger.Job) error {
	if job.Status != ledger.JobStatusUploading {
		if err := job.Transition(ledger.JobStatusUploading); err != nil {
			return services.Wrap(services.ErrValidation, component, "run", "job not runnable", err)
		}
	}
	job.ErrorMessage = ""
	job.FinishedAt = nil
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return services.Wrap(services.ErrPermanent, component, "run", "persist job", err)
	}
	return nil
}

// ensureQuiz creates the quiz shell once. The assignment id binds to the job
// for its whole lifetime; resumed jobs skip straight past this.
func (r *Runner) ensureQuiz(ctx context.Context, job *ledger.Job, description string) error {
	if strings.TrimSpace(job.AssignmentID) != "" {
		return nil
	}
	if strings.TrimSpace(description) == "" && r.cfg != nil {
		description = r.cfg.Upload.DefaultDescription
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	quiz, err := r.api.CreateQuiz(callCtx, job.QuizTitle, description)
	if err != nil {
		return err
	}
	if err := job.SetAssignment(quiz.AssignmentID); err != nil {
		return services.Wrap(services.ErrPermanent, component, "create quiz", "bind assignment", err)
	}
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return services.Wrap(services.ErrPermanent, component, "create quiz", "persist job", err)
	}
	logging.WithContext(ctx, r.logger).Info("quiz shell created",
		slog.String("assignment_id", job.AssignmentID),
		slog.String(logging.FieldEventType, "quiz_created"),
	)
	return nil
}

// recognizeExisting fulfills the idempotent re-run contract: planned items
// already on the quiz from an earlier run are adopted instead of re-created.
// Listing trouble here is not fatal; verification will catch the overlap.
func (r *Runner) recognizeExisting(ctx context.Context, job *ledger.Job) {
	logger := logging.WithContext(ctx, r.logger)
	listing, err := r.api.ListItems(ctx, job.AssignmentID)
	if err != nil {
		logging.WarnWithContext(logger, "pre-upload listing failed; uploading every planned item", "resume_listing_failed",
			logging.Error(err),
			slog.String(logging.FieldErrorHint, "duplicates will be detected during verification"),
			slog.String(logging.FieldImpact, "resume may re-create items that already exist"),
		)
		return
	}
	byKey := make(map[string][]canvas.RemoteItem)
	for _, item := range listing {
		if item.Key == "" {
			continue
		}
		byKey[item.Key.String()] = append(byKey[item.Key.String()], item)
	}

	records, err := r.store.ItemRecordsByStatus(ctx, job.ID, ledger.ItemStatusPending, ledger.ItemStatusFailed)
	if err != nil {
		logger.Error("load planned records", logging.Error(err))
		return
	}
	adopted := 0
	for _, rec := range records {
		matches := byKey[rec.Key]
		// Zero matches upload fresh; several settle in reconciliation.
		if len(matches) != 1 {
			continue
		}
		if err := rec.Transition(ledger.ItemStatusUploading); err != nil {
			continue
		}
		if err := rec.SetCreated(matches[0].ID); err != nil {
			continue
		}
		if err := r.store.UpdateItemRecord(ctx, rec); err != nil {
			logger.Error("persist adopted record", logging.Error(err))
			return
		}
		adopted++
	}
	if adopted > 0 {
		logger.Info("adopted items from a previous run",
			slog.Int("count", adopted),
			slog.String(logging.FieldEventType, "resume_adopt"),
		)
	}
}

// publish sends a notification, swallowing shutdown noise.
func (r *Runner) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.WithContext(ctx, r.logger).Debug("notification failed",
			slog.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func (r *Runner) jobTimeout() time.Duration {
	if r.cfg != nil && r.cfg.Upload.JobTimeoutSeconds > 0 {
		return time.Duration(r.cfg.Upload.JobTimeoutSeconds) * time.Second
	}
	return 0
}

func (r *Runner) concurrency() int {
	if r.cfg != nil && r.cfg.Upload.Concurrency > 0 {
		return r.cfg.Upload.Concurrency
	}
	return 1
}

// callContext survives run cancellation so an issued call can finish, while
// the budget keeps shutdown from hanging on a wedged retry loop.
func (r *Runner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.callBudget())
}

// callBudget bounds one fully retried API call: every attempt plus the
// longest backoff between attempts.
func (r *Runner) callBudget() time.Duration {
	httpTimeout := 60 * time.Second
	attempts := 5
	backoffCap := 30 * time.Second
	if r.cfg != nil {
		if r.cfg.Canvas.TimeoutSeconds > 0 {
			httpTimeout = time.Duration(r.cfg.Canvas.TimeoutSeconds) * time.Second
		}
		if r.cfg.Upload.MaxAttempts > 0 {
			attempts = r.cfg.Upload.MaxAttempts
		}
		if r.cfg.Upload.RetryBackoffCap > 0 {
			backoffCap = time.Duration(r.cfg.Upload.RetryBackoffCap * float64(time.Second))
		}
	}
	return time.Duration(attempts) * (httpTimeout + backoffCap)
}
