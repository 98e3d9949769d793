package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"quizsync/internal/config"
)

// Store manages job and item record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open initializes or connects to the ledger database and prepares the schema.
// A sibling lock file guards against concurrent quizsync processes writing the
// same ledger.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.LedgerPath()
	lock := flock.New(filepath.Join(filepath.Dir(dbPath), "ledger.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another quizsync process is using this ledger")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, lock: lock}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection and releases the ledger lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// NewJob inserts a pending job for a storyboard quiz awaiting upload.
func (s *Store) NewJob(ctx context.Context, sourcePath, quizTitle, courseID, moduleID string) (*Job, error) {
	quizTitle = strings.TrimSpace(quizTitle)
	if quizTitle == "" {
		return nil, errors.New("quiz title is required")
	}
	if strings.TrimSpace(courseID) == "" {
		return nil, errors.New("course id is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            source_path, quiz_title, course_id, module_id, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableString(sourcePath),
		quizTitle,
		courseID,
		nullableString(moduleID),
		JobStatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindJobByAssignment returns the most recent job bound to a remote assignment.
func (s *Store) FindJobByAssignment(ctx context.Context, assignmentID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE assignment_id = ? ORDER BY id DESC LIMIT 1`,
		assignmentID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by assignment: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET source_path = ?, quiz_title = ?, course_id = ?, module_id = ?,
             assignment_id = ?, status = ?, error_message = ?, rounds_used = ?,
             report_json = ?, updated_at = ?, finished_at = ?
         WHERE id = ?`,
		nullableString(job.SourcePath),
		job.QuizTitle,
		job.CourseID,
		nullableString(job.ModuleID),
		nullableString(job.AssignmentID),
		job.Status,
		nullableString(job.ErrorMessage),
		job.RoundsUsed,
		nullableString(job.ReportJSON),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RemoveJob deletes a job and its item records.
func (s *Store) RemoveJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearComplete removes completed jobs and their records.
func (s *Store) ClearComplete(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, JobStatusComplete)
	if err != nil {
		return 0, fmt.Errorf("clear complete jobs: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs and records from the ledger.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear ledger: %w", err)
	}
	return res.RowsAffected()
}

// InsertItemRecords stores the canonical item set for a job in one
// transaction. Record IDs are assigned on return.
func (s *Store) InsertItemRecords(ctx context.Context, records []*ItemRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	for _, rec := range records {
		if rec == nil {
			return errors.New("item record is nil")
		}
		if rec.Status == "" {
			rec.Status = ItemStatusPending
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO item_records (
                job_id, correlation_key, kind, position, title, points, spec_json,
                status, attempts, remote_item_id, error_message, divergence,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.JobID,
			rec.Key,
			rec.Kind,
			rec.Position,
			nullableString(rec.Title),
			rec.Points,
			rec.SpecJSON,
			rec.Status,
			rec.Attempts,
			nullableString(rec.RemoteItemID),
			nullableString(rec.ErrorMessage),
			nullableString(rec.Divergence),
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert item record %s: %w", rec.Key, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		rec.ID = id
		rec.CreatedAt = now
		rec.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert tx: %w", err)
	}
	return nil
}

// ItemRecords returns a job's records in storyboard order.
func (s *Store) ItemRecords(ctx context.Context, jobID int64) ([]*ItemRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM item_records WHERE job_id = ? ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query item records: %w", err)
	}
	defer rows.Close()

	var records []*ItemRecord
	for rows.Next() {
		rec, err := scanItemRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ItemRecordsByStatus returns a job's records matching any of the provided
// statuses, in storyboard order.
func (s *Store) ItemRecordsByStatus(ctx context.Context, jobID int64, statuses ...ItemStatus) ([]*ItemRecord, error) {
	if len(statuses) == 0 {
		return s.ItemRecords(ctx, jobID)
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, jobID)
	for _, status := range statuses {
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM item_records WHERE job_id = ? AND status IN (`+placeholders+`) ORDER BY position`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query item records by status: %w", err)
	}
	defer rows.Close()

	var records []*ItemRecord
	for rows.Next() {
		rec, err := scanItemRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateItemRecord persists changes to an existing item record.
func (s *Store) UpdateItemRecord(ctx context.Context, rec *ItemRecord) error {
	if rec == nil {
		return errors.New("item record is nil")
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE item_records
         SET correlation_key = ?, kind = ?, position = ?, title = ?, points = ?,
             spec_json = ?, status = ?, attempts = ?, remote_item_id = ?,
             error_message = ?, divergence = ?, updated_at = ?
         WHERE id = ?`,
		rec.Key,
		rec.Kind,
		rec.Position,
		nullableString(rec.Title),
		rec.Points,
		rec.SpecJSON,
		rec.Status,
		rec.Attempts,
		nullableString(rec.RemoteItemID),
		nullableString(rec.ErrorMessage),
		nullableString(rec.Divergence),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update item record: %w", err)
	}
	return nil
}

// ItemStats returns a count of a job's records grouped by status.
func (s *Store) ItemStats(ctx context.Context, jobID int64) (map[ItemStatus]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM item_records WHERE job_id = ? GROUP BY status`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ItemStatus]int)
	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const jobColumns = "id, source_path, quiz_title, course_id, module_id, assignment_id, status, error_message, rounds_used, report_json, created_at, updated_at, finished_at"

const itemColumns = "id, job_id, correlation_key, kind, position, title, points, spec_json, status, attempts, remote_item_id, error_message, divergence, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		sourcePath   sql.NullString
		quizTitle    string
		courseID     string
		moduleID     sql.NullString
		assignmentID sql.NullString
		statusStr    string
		errorMessage sql.NullString
		roundsUsed   int
		reportJSON   sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		finishedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourcePath,
		&quizTitle,
		&courseID,
		&moduleID,
		&assignmentID,
		&statusStr,
		&errorMessage,
		&roundsUsed,
		&reportJSON,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		SourcePath:   sourcePath.String,
		QuizTitle:    quizTitle,
		CourseID:     courseID,
		ModuleID:     moduleID.String,
		AssignmentID: assignmentID.String,
		Status:       JobStatus(statusStr),
		ErrorMessage: errorMessage.String,
		RoundsUsed:   roundsUsed,
		ReportJSON:   reportJSON.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}

func scanItemRecord(scanner interface{ Scan(dest ...any) error }) (*ItemRecord, error) {
	var (
		id           int64
		jobID        int64
		key          string
		kind         string
		position     int
		title        sql.NullString
		points       float64
		specJSON     string
		statusStr    string
		attempts     int
		remoteItemID sql.NullString
		errorMessage sql.NullString
		divergence   sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&key,
		&kind,
		&position,
		&title,
		&points,
		&specJSON,
		&statusStr,
		&attempts,
		&remoteItemID,
		&errorMessage,
		&divergence,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &ItemRecord{
		ID:           id,
		JobID:        jobID,
		Key:          key,
		Kind:         kind,
		Position:     position,
		Title:        title.String,
		Points:       points,
		SpecJSON:     specJSON,
		Status:       ItemStatus(statusStr),
		Attempts:     attempts,
		RemoteItemID: remoteItemID.String,
		ErrorMessage: errorMessage.String,
		Divergence:   divergence.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
