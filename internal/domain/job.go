package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the processing state of a job
type JobStatus string

// Possible job status values
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
	JobStatusRetrying   JobStatus = "retrying"
)

// JobKind identifies which handler a job is dispatched to
type JobKind string

// Registered job kinds
const (
	JobKindNormalize      JobKind = "normalize"
	JobKindEmbed          JobKind = "embed"
	JobKindInsight        JobKind = "insight"
	JobKindSyncGmail      JobKind = "sync_gmail"
	JobKindSyncCalendar   JobKind = "sync_calendar"
	JobKindIngestionBatch JobKind = "ingestion_batch"
	JobKindCleanup        JobKind = "cleanup"
)

// Common validation errors for Job
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobOwnerID  = errors.New("job owner ID cannot be empty")
	ErrInvalidJobKind   = errors.New("invalid job kind")
	ErrInvalidJobStatus = errors.New("invalid job status")
	ErrNegativeAttempts = errors.New("job attempts cannot be negative")
)

// Job represents a persisted unit of deferred work. It is owned by the
// job store; callers outside the job subsystem only enqueue jobs or read
// aggregate results.
type Job struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	BatchID   string          `json:"batch_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	NotBefore *time.Time      `json:"not_before,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewJob creates a new Job in the queued state for the given owner.
// It generates a new UUID, sets timestamps, and validates the result.
func NewJob(ownerID uuid.UUID, kind JobKind, payload json.RawMessage, batchID string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    JobStatusQueued,
		Attempts:  0,
		BatchID:   batchID,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.OwnerID == uuid.Nil {
		return ErrEmptyJobOwnerID
	}

	if !isValidJobKind(j.Kind) {
		return ErrInvalidJobKind
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	if j.Attempts < 0 {
		return ErrNegativeAttempts
	}

	return nil
}

// IsTerminal reports whether the job has reached a terminal status.
// Done is always terminal; error is terminal until the retry orchestrator
// explicitly re-queues the job.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}

// Eligible reports whether the job may be claimed for processing at the
// given instant. Jobs with a not-before gate in the future are excluded.
func (j *Job) Eligible(now time.Time, includeRetrying bool) bool {
	switch j.Status {
	case JobStatusQueued:
	case JobStatusRetrying:
		if !includeRetrying {
			return false
		}
	default:
		return false
	}

	if j.NotBefore != nil && j.NotBefore.After(now) {
		return false
	}

	return true
}

// Stuck reports whether the job has remained in processing past the given
// threshold without completing.
func (j *Job) Stuck(now time.Time, threshold time.Duration) bool {
	return j.Status == JobStatusProcessing && now.Sub(j.UpdatedAt) > threshold
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusDone,
		JobStatusError, JobStatusRetrying:
		return true
	default:
		return false
	}
}

// isValidJobKind checks if the given kind is a registered JobKind.
func isValidJobKind(kind JobKind) bool {
	switch kind {
	case JobKindNormalize, JobKindEmbed, JobKindInsight,
		JobKindSyncGmail, JobKindSyncCalendar, JobKindIngestionBatch,
		JobKindCleanup:
		return true
	default:
		return false
	}
}
