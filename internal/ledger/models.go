package ledger

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a sync job.
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusUploading       JobStatus = "uploading"
	JobStatusVerifying       JobStatus = "verifying"
	JobStatusComplete        JobStatus = "complete"
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	JobStatusFailed          JobStatus = "failed"
)

// ItemStatus represents the lifecycle of a single item record within a job.
type ItemStatus string

const (
	ItemStatusPending     ItemStatus = "pending"
	ItemStatusUploading   ItemStatus = "uploading"
	ItemStatusCreated     ItemStatus = "created"
	ItemStatusFailed      ItemStatus = "failed"
	ItemStatusReconciling ItemStatus = "reconciling"
	ItemStatusReconciled  ItemStatus = "reconciled"
	ItemStatusMissing     ItemStatus = "missing"
	ItemStatusDuplicate   ItemStatus = "duplicate"
)

var allJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusUploading,
	JobStatusVerifying,
	JobStatusComplete,
	JobStatusPartiallyFailed,
	JobStatusFailed,
}

var allItemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusUploading,
	ItemStatusCreated,
	ItemStatusFailed,
	ItemStatusReconciling,
	ItemStatusReconciled,
	ItemStatusMissing,
	ItemStatusDuplicate,
}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var itemStatusSet = func() map[ItemStatus]struct{} {
	set := make(map[ItemStatus]struct{}, len(allItemStatuses))
	for _, status := range allItemStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// jobTransitions holds the legal forward edges of the job state machine.
// Terminal states re-enter the machine only through resume (failed uploads
// retried) or repair (a completed job re-verified).
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:         {JobStatusUploading, JobStatusFailed},
	JobStatusUploading:       {JobStatusVerifying, JobStatusPartiallyFailed, JobStatusFailed},
	JobStatusVerifying:       {JobStatusComplete, JobStatusPartiallyFailed, JobStatusFailed},
	JobStatusComplete:        {JobStatusVerifying},
	JobStatusPartiallyFailed: {JobStatusUploading, JobStatusVerifying},
	JobStatusFailed:          {JobStatusUploading},
}

// itemTransitions holds the legal edges of the item record state machine.
// Records only move forward within a round; missing and failed re-enter
// uploading when a repair round or resume re-posts them.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPending:     {ItemStatusUploading, ItemStatusFailed},
	ItemStatusUploading:   {ItemStatusCreated, ItemStatusFailed},
	ItemStatusCreated:     {ItemStatusReconciling},
	ItemStatusReconciling: {ItemStatusReconciled, ItemStatusMissing, ItemStatusDuplicate, ItemStatusFailed},
	ItemStatusMissing:     {ItemStatusUploading, ItemStatusFailed},
	ItemStatusDuplicate:   {ItemStatusReconciling, ItemStatusFailed},
	ItemStatusFailed:      {ItemStatusUploading},
	ItemStatusReconciled:  {ItemStatusReconciling},
}

// Job represents one sync run against one target quiz.
type Job struct {
	ID           int64
	SourcePath   string
	QuizTitle    string
	CourseID     string
	ModuleID     string
	AssignmentID string
	Status       JobStatus
	ErrorMessage string
	RoundsUsed   int
	ReportJSON   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// ItemRecord represents a single question tracked through upload and
// reconciliation.
type ItemRecord struct {
	ID           int64
	JobID        int64
	Key          string
	Kind         string
	Position     int
	Title        string
	Points       float64
	SpecJSON     string
	Status       ItemStatus
	Attempts     int
	RemoteItemID string
	ErrorMessage string
	Divergence   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// AllItemStatuses returns the ordered list of known item statuses.
func AllItemStatuses() []ItemStatus {
	cp := make([]ItemStatus, len(allItemStatuses))
	copy(cp, allItemStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// ParseItemStatus converts a string into a known ItemStatus.
func ParseItemStatus(value string) (ItemStatus, bool) {
	normalized := ItemStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := itemStatusSet[normalized]
	return normalized, ok
}

// CanTransitionJob reports whether a job may move between the two statuses.
func CanTransitionJob(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionItem reports whether an item record may move between the two
// statuses.
func CanTransitionItem(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job has reached a final state for this run.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusComplete, JobStatusPartiallyFailed, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Transition moves the job to the requested status, rejecting edges the state
// machine does not allow.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransitionJob(j.Status, to) {
		return fmt.Errorf("job %d: illegal transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// SetAssignment records the remote assignment identifier. The identifier is
// immutable for the lifetime of the job.
func (j *Job) SetAssignment(assignmentID string) error {
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" {
		return fmt.Errorf("job %d: assignment id is empty", j.ID)
	}
	if j.AssignmentID != "" && j.AssignmentID != assignmentID {
		return fmt.Errorf("job %d: assignment id already set to %s", j.ID, j.AssignmentID)
	}
	j.AssignmentID = assignmentID
	return nil
}

// Transition moves the record to the requested status, rejecting edges the
// state machine does not allow.
func (r *ItemRecord) Transition(to ItemStatus) error {
	if !CanTransitionItem(r.Status, to) {
		return fmt.Errorf("item %s: illegal transition %s -> %s", r.Key, r.Status, to)
	}
	r.Status = to
	return nil
}

// SetFailed marks the record as failed with the given error message.
func (r *ItemRecord) SetFailed(message string) {
	r.Status = ItemStatusFailed
	r.ErrorMessage = message
}

// SetCreated marks the record as created and stores its remote identifier.
func (r *ItemRecord) SetCreated(remoteItemID string) error {
	if err := r.Transition(ItemStatusCreated); err != nil {
		return err
	}
	r.RemoteItemID = remoteItemID
	r.ErrorMessage = ""
	return nil
}

// IsSettled reports whether the record needs no further pipeline work.
func (r *ItemRecord) IsSettled() bool {
	switch r.Status {
	case ItemStatusReconciled, ItemStatusFailed, ItemStatusDuplicate:
		return true
	default:
		return false
	}
}
