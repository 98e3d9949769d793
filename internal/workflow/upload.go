package workflow

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"quizsync/internal/canvas"
	"quizsync/internal/items"
	"quizsync/internal/ledger"
	"quizsync/internal/logging"
	"quizsync/internal/services"
)

type uploadOutcome struct {
	rec      *ledger.ItemRecord
	remoteID string
	attempts int
	err      error
}

// uploadPending creates every planned item with bounded concurrency. Workers
// only issue the HTTP call; outcomes stream back to this goroutine, which is
// the sole writer of record state.
func (r *Runner) uploadPending(ctx context.Context, job *ledger.Job) error {
	todo, err := r.store.ItemRecordsByStatus(ctx, job.ID, ledger.ItemStatusPending, ledger.ItemStatusFailed)
	if err != nil {
		return services.Wrap(services.ErrPermanent, component, "upload", "load planned records", err)
	}
	if len(todo) == 0 {
		return nil
	}
	logger := logging.WithContext(ctx, r.logger)

	for _, rec := range todo {
		if err := rec.Transition(ledger.ItemStatusUploading); err != nil {
			return services.Wrap(services.ErrPermanent, component, "upload", "record transition", err)
		}
		rec.ErrorMessage = ""
		if err := r.store.UpdateItemRecord(ctx, rec); err != nil {
			return services.Wrap(services.ErrPermanent, component, "upload", "persist record", err)
		}
	}

	// Buffered to the full batch: workers must be able to hand off their
	// outcome and release their concurrency slot even though this goroutine
	// only starts draining once every worker is spawned.
	results := make(chan uploadOutcome, len(todo))
	group := new(errgroup.Group)
	group.SetLimit(r.concurrency())
	for _, rec := range todo {
		group.Go(func() error {
			results <- r.uploadOne(ctx, job, rec)
			return nil
		})
	}
	go func() {
		_ = group.Wait()
		close(results)
	}()

	// Outcome writes survive cancellation; whatever Canvas accepted must
	// land in the ledger or the next run re-creates it.
	persistCtx := context.WithoutCancel(ctx)
	created, failed := 0, 0
	var persistErr error
	for out := range results {
		rec := out.rec
		rec.Attempts += out.attempts
		switch {
		case out.err == nil:
			if err := rec.SetCreated(out.remoteID); err != nil {
				persistErr = errors.Join(persistErr, err)
				continue
			}
			created++
		case errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded):
			rec.SetFailed("sync interrupted before upload completed")
			failed++
		default:
			rec.SetFailed(out.err.Error())
			failed++
			logger.Warn("item upload failed",
				slog.String(logging.FieldItemKey, rec.Key),
				slog.String(logging.FieldKind, rec.Kind),
				slog.Int("attempts", rec.Attempts),
				logging.Error(out.err),
				slog.String(logging.FieldEventType, "item_upload_failed"),
			)
		}
		if err := r.store.UpdateItemRecord(persistCtx, rec); err != nil {
			persistErr = errors.Join(persistErr, err)
		}
	}
	if persistErr != nil {
		return services.Wrap(services.ErrPermanent, component, "upload", "persist outcomes", persistErr)
	}
	logger.Info("upload phase finished",
		slog.Int("created", created),
		slog.Int("failed", failed),
		slog.String(logging.FieldEventType, "upload_done"),
	)
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// uploadOne issues a single create call. Cancellation is checked before
// issuing; once issued, the call runs to completion on a detached budget.
func (r *Runner) uploadOne(ctx context.Context, job *ledger.Job, rec *ledger.ItemRecord) uploadOutcome {
	out := uploadOutcome{rec: rec}
	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	spec, err := items.DecodeSpec(rec.SpecJSON)
	if err != nil {
		out.err = services.Wrap(services.ErrValidation, component, "upload", "stored spec unreadable", err)
		return out
	}
	payload, err := canvas.BuildItemPayload(spec)
	if err != nil {
		out.err = err
		return out
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	remote, attempts, err := r.api.CreateItem(callCtx, job.AssignmentID, payload)
	out.attempts = attempts
	if err != nil {
		out.err = err
		return out
	}
	out.remoteID = remote.ID
	return out
}
