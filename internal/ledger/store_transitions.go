package ledger

import (
	"context"
	"fmt"
	"time"
)

// TransitionJob applies a guarded status change to a job. The update only
// lands when the stored status still matches from, so a stale caller cannot
// clobber a concurrent change.
func (s *Store) TransitionJob(ctx context.Context, id int64, from, to JobStatus) (bool, error) {
	if !CanTransitionJob(from, to) {
		return false, fmt.Errorf("job %d: illegal transition %s -> %s", id, from, to)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// TransitionItem applies a guarded status change to one record, returning
// false when the stored status no longer matches from.
func (s *Store) TransitionItem(ctx context.Context, id int64, from, to ItemStatus) (bool, error) {
	if !CanTransitionItem(from, to) {
		return false, fmt.Errorf("item %d: illegal transition %s -> %s", id, from, to)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE item_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// TransitionItems moves every record of a job holding one of the from
// statuses to the target status, returning the number of rows changed. Used
// to open a verification round (created -> reconciling) and to re-verify
// settled records during repair.
func (s *Store) TransitionItems(ctx context.Context, jobID int64, to ItemStatus, from ...ItemStatus) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}
	for _, status := range from {
		if !CanTransitionItem(status, to) {
			return 0, fmt.Errorf("job %d items: illegal transition %s -> %s", jobID, status, to)
		}
	}
	placeholders := makePlaceholders(len(from))
	args := make([]any, 0, len(from)+3)
	args = append(args, to, time.Now().UTC().Format(time.RFC3339Nano), jobID)
	for _, status := range from {
		args = append(args, status)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE item_records SET status = ?, updated_at = ? WHERE job_id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("transition items: %w", err)
	}
	return res.RowsAffected()
}
